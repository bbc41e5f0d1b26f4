package combiner

import (
	"fmt"
	"sort"

	"github.com/pithecene-io/sluice/types"
)

// DefaultName is the combiner used when none is configured.
const DefaultName = OrderedName

var constructors = map[string]func(Options) Combiner{
	OrderedName: func(o Options) Combiner { return NewOrderedCombiner(o) },
	SortedName:  func(o Options) Combiner { return NewSortedCombiner(o) },
}

// New constructs a combiner by name. An empty name selects DefaultName.
func New(name string, opts Options) (Combiner, error) {
	if name == "" {
		name = DefaultName
	}
	ctor, ok := constructors[name]
	if !ok {
		return nil, types.NewTraceError(types.ErrCodeUnknownOption,
			fmt.Sprintf("unknown combiner %q (available: %v)", name, Names()), nil)
	}
	return ctor(opts), nil
}

// Names returns the registered combiner names, sorted.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
