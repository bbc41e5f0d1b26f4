package types

// TraceState is the lifecycle state of a trace.
type TraceState string

// Trace states.
const (
	StateNew      TraceState = "new"
	StateRunning  TraceState = "running"
	StatePausing  TraceState = "pausing"
	StatePaused   TraceState = "paused"
	StateStopping TraceState = "stopping"
	StateFinished TraceState = "finished"
)

// transitions lists the legal successor states.
var transitions = map[TraceState][]TraceState{
	StateNew:      {StateRunning},
	StateRunning:  {StatePausing, StateStopping},
	StatePausing:  {StatePaused, StateStopping},
	StatePaused:   {StateRunning, StateStopping},
	StateStopping: {StateFinished},
	StateFinished: nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s TraceState) CanTransition(next TraceState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive returns true while workers may still be alive.
func (s TraceState) IsActive() bool {
	switch s {
	case StateRunning, StatePausing, StatePaused, StateStopping:
		return true
	}
	return false
}
