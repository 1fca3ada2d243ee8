package compio

import "sync/atomic"

const (
	// StateCreated is the initial state, before the first Start.
	StateCreated State = iota
	// StateRunning means the dispatch goroutine is live.
	StateRunning
	// StateStopping means Stop was requested and pending operations are
	// being drained.
	StateStopping
	// StateStopped means the dispatch goroutine has terminated. The
	// proactor may be started again from this state.
	StateStopped
)

// State describes where a Proactor is in its lifecycle.
type State uint32

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// lifecycle is an atomic State holder. Transitions are compare-and-swap so
// concurrent Start/Stop callers cannot both win the same edge.
type lifecycle struct {
	v atomic.Uint32
}

func (lc *lifecycle) load() State {
	return State(lc.v.Load())
}

func (lc *lifecycle) transition(from, to State) bool {
	return lc.v.CompareAndSwap(uint32(from), uint32(to))
}

func (lc *lifecycle) force(to State) {
	lc.v.Store(uint32(to))
}
