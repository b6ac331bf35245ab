package worker

// State is a worker lifecycle stage.
type State string

const (
	StateStarting     State = "starting"
	StateConnecting   State = "connecting"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateStopping     State = "stopping"
	StateTerminated   State = "terminated"
)

// Connected reports whether the controller link is up in this state.
func (s State) Connected() bool { return s == StateRunning }
