package trace

import (
	"time"

	"github.com/pithecene-io/sluice/types"
)

// runTicker posts interval ticks to every worker and the reporter until stop closes.
func (t *Trace) runTicker(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if t.State() != types.StateRunning {
				continue
			}
			ts := uint64(now.UnixNano())
			t.lastTickTimestamp.Store(ts)

			t.mu.Lock()
			workers, rep := t.workers, t.reporter
			t.mu.Unlock()

			for _, w := range workers {
				if !w.exited() {
					w.postTick(ts)
				}
			}
			rep.tryPost(types.Message{Kind: types.MessageTickInterval, Tick: ts})
		}
	}
}
