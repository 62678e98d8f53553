package container

// State is a container life-cycle state.
type State string

const (
	StateConstructed  State = "CONSTRUCTED"
	StateLoaded       State = "LOADED"
	StateInstantiated State = "INSTANTIATED"
	StateInitialized  State = "INITIALIZED"
	StateActive       State = "ACTIVE"
	StateBlocked      State = "BLOCKED"
	StateRecovery     State = "STATERECVRY"
	StateRemoved      State = "REMOVED"
)

// edges is the complete transition table. REMOVED is reachable from every
// live state and left by none.
var edges = map[State][]State{
	StateConstructed:  {StateLoaded, StateRemoved},
	StateLoaded:       {StateInstantiated, StateRemoved},
	StateInstantiated: {StateInitialized, StateRemoved},
	StateInitialized:  {StateActive, StateRecovery, StateRemoved},
	StateActive:       {StateBlocked, StateRemoved},
	StateBlocked:      {StateActive, StateRemoved},
	StateRecovery:     {StateActive, StateRemoved},
	StateRemoved:      nil,
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the container still owns a component.
func (s State) Live() bool {
	return s != StateRemoved
}
