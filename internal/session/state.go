package session

import "fmt"

// State is the lifecycle of one model within a pipeline load.
type State int

const (
	NotLoaded State = iota
	Fetching
	Fetched
	Compiling
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Fetching:
		return "fetching"
	case Fetched:
		return "fetched"
	case Compiling:
		return "compiling"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == Ready || s == Failed }

// Transition validates s -> to. Every non-terminal state may fail; the
// others only advance one step.
func (s State) Transition(to State) (State, error) {
	if s.Terminal() {
		return s, fmt.Errorf("model state %s is terminal", s)
	}
	if to == Failed || to == s+1 {
		return to, nil
	}
	return s, fmt.Errorf("invalid model state transition %s -> %s", s, to)
}
