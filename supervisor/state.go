package supervisor

import "fmt"

// State is a supervisor lifecycle state.
type State int

const (
	StateInit State = iota
	StateStoreConnecting
	StateStoreReady
	StateFrontendsStarting
	StateRunning
	StateShuttingDown
	StateTerminated
)

var stateNames = [...]string{
	StateInit:              "INIT",
	StateStoreConnecting:   "STORE_CONNECTING",
	StateStoreReady:        "STORE_READY",
	StateFrontendsStarting: "FRONTENDS_STARTING",
	StateRunning:           "RUNNING",
	StateShuttingDown:      "SHUTTING_DOWN",
	StateTerminated:        "TERMINATED",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitFatal = 1
)
