package buildlog

import "errors"

var (
	// ErrNoLogSource indicates the host provided no logger registration API
	ErrNoLogSource = errors.New("no log source")

	// ErrAttachFailed indicates the engine rejected the logger registration
	ErrAttachFailed = errors.New("logger attach failed")
)
