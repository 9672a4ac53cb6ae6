package runtrack

// State is the tracker's lifecycle phase.
type State string

const (
	// StateIdle: no session; nothing subscribed, nothing polling.
	StateIdle State = "idle"
	// StateDiscovering: watching for an active run to attach to.
	StateDiscovering State = "discovering"
	// StateStreaming: attached to a run over the live push channel.
	StateStreaming State = "streaming"
	// StatePolling: attached to a run, push channel down, polling status.
	StatePolling State = "polling"
	// StateCancelled: session explicitly stopped.
	StateCancelled State = "cancelled"
)

// validTransitions is the tracker's transition table. Cancelled is
// reachable from anywhere; a new Start leaves Cancelled for Discovering.
var validTransitions = map[State][]State{
	StateIdle:        {StateDiscovering, StateCancelled},
	StateDiscovering: {StateStreaming, StatePolling, StateCancelled},
	StateStreaming:   {StatePolling, StateDiscovering, StateCancelled},
	StatePolling:     {StateStreaming, StateDiscovering, StateCancelled},
	StateCancelled:   {StateDiscovering},
}

func isValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
