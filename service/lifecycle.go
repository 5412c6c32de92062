package service

// State represents the current lifecycle state of a service instance.
type State int

const (
	// StateUninitialized indicates the instance was created but not initialized
	StateUninitialized State = iota
	// StateInitializing indicates initialization is in progress
	StateInitializing
	// StateInitialized indicates the instance is ready to start
	StateInitialized
	// StateStarting indicates startup is in progress
	StateStarting
	// StateRunning indicates the instance is running
	StateRunning
	// StateStopping indicates shutdown is in progress
	StateStopping
	// StateStopped indicates the instance was stopped and may be restarted
	StateStopped
	// StateDestroyed indicates the instance released its resources; terminal
	StateDestroyed
	// StateError indicates a lifecycle operation failed
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// transitions defines the legal edges of the lifecycle state machine.
// Destroy stops a running instance first, so Running never reaches
// Destroyed directly.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing, StateDestroyed},
	StateInitializing:  {StateInitialized, StateError},
	StateInitialized:   {StateStarting, StateDestroyed},
	StateStarting:      {StateRunning, StateError},
	StateRunning:       {StateStopping},
	StateStopping:      {StateStopped, StateError},
	StateStopped:       {StateStarting, StateDestroyed},
	StateError:         {StateStopping, StateStopped, StateStarting, StateDestroyed},
	StateDestroyed:     {},
}

// CanTransition reports whether the edge from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the state is one where work is in progress.
func (s State) Active() bool {
	return s == StateInitializing || s == StateStarting || s == StateRunning || s == StateStopping
}
