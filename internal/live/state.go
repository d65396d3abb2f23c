package live

// State is a poller's lifecycle state. A topic without a poller reports
// StateStopped.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// active reports whether the poller counts toward the one-per-topic limit.
func (s State) active() bool {
	return s == StateStarting || s == StateRunning
}
