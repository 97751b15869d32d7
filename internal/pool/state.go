package pool

// State is the lifecycle phase of a fixed-term pool.
type State int32

const (
	StateMatch State = iota
	StateExecution
	StateFinish
	StateLiquidation
	StateUndone
)

func (s State) String() string {
	switch s {
	case StateMatch:
		return "Match"
	case StateExecution:
		return "Execution"
	case StateFinish:
		return "Finish"
	case StateLiquidation:
		return "Liquidation"
	case StateUndone:
		return "Undone"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions
func (s State) CanTransitionTo(next State) bool {
	validTransitions := map[State][]State{
		StateMatch: {
			StateExecution,
			StateUndone, // settle with an empty side
		},
		StateExecution: {
			StateFinish,
			StateLiquidation,
		},
		// Finish, Liquidation and Undone are terminal
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// Terminal reports whether the pool can no longer change phase.
func (s State) Terminal() bool {
	switch s {
	case StateFinish, StateLiquidation, StateUndone:
		return true
	default:
		return false
	}
}
