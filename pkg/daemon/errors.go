package daemon

import "errors"

// Sentinel errors for the serve instance lock
var (
	// ErrDaemonAlreadyRunning indicates another serve process owns the state directory
	ErrDaemonAlreadyRunning = errors.New("daemon is already running")

	// ErrDaemonNotRunning indicates the lock is not held by this process
	ErrDaemonNotRunning = errors.New("daemon is not running")
)
