package trace

import (
	"time"

	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/types"
)

// Summary is a point-in-time view of a trace.
type Summary struct {
	Meta              types.TraceMeta
	State             types.TraceState
	StartedAt         time.Time
	FinishedAt        time.Time
	Duration          time.Duration
	Combiner          combiner.Stats
	ErrorCount        int64
	Err               *types.TraceError
	LastTickTimestamp uint64
	LastTickCount     uint64
}

// Summary returns the current summary. Duration runs to now for a trace
// that has not finished.
func (t *Trace) Summary() Summary {
	t.mu.Lock()
	s := Summary{
		Meta:       *t.meta,
		State:      t.state,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
		ErrorCount: t.errCount,
	}
	comb := t.comb
	t.mu.Unlock()

	s.Err = t.Err()
	if comb != nil {
		s.Combiner = comb.Stats()
	}
	switch {
	case !s.FinishedAt.IsZero():
		s.Duration = s.FinishedAt.Sub(s.StartedAt)
	case !s.StartedAt.IsZero():
		s.Duration = time.Since(s.StartedAt)
	}
	s.LastTickTimestamp = t.lastTickTimestamp.Load()
	s.LastTickCount = t.lastTickCount.Load()
	return s
}
