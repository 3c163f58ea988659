package watchdog

import "errors"

// Agent lifecycle errors
var (
	ErrAgentAlreadyRunning = errors.New("watchdog agent is already running")
	ErrAgentNotRunning     = errors.New("watchdog agent is not running")
)
