package combiner

// SortedName is the registry name of the sorted combiner.
const SortedName = "sorted"

// SortedCombiner buffers every result until the trace stops, then
// concatenates the worker queues, sorts by key and delivers in one batch.
// Read delivers nothing. Equal keys come out in no particular order.
type SortedCombiner struct {
	base
}

// NewSortedCombiner creates a sorted combiner.
func NewSortedCombiner(opts Options) *SortedCombiner {
	return &SortedCombiner{base: newBase(SortedName, opts)}
}

// Read implements Combiner. Results are held until ReadFinal.
func (c *SortedCombiner) Read() {}

// ReadFinal implements Combiner.
func (c *SortedCombiner) ReadFinal() {
	set, out := c.queues(), c.output()
	if set == nil {
		return
	}

	first := set.At(0)
	for i := 1; i < set.Len(); i++ {
		first.Append(set.At(i))
	}
	first.Sort(compareKeys)

	batch := first.Drain()
	var ticks int
	for _, r := range batch {
		if r.IsTick() {
			ticks++
		}
		c.emit(out, r)
	}
	c.stats.incFinalReads()
	c.logger.Debug("combiner final read", map[string]any{
		"combiner":  c.name,
		"delivered": len(batch) - ticks,
		"ticks":     ticks,
	})
}

// Verify SortedCombiner implements Combiner.
var _ Combiner = (*SortedCombiner)(nil)
