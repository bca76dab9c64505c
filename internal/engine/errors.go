package engine

import (
	"errors"
	"fmt"

	"github.com/poltergeist/buildvision/pkg/types"
)

// Sentinel errors for session operations, checked with errors.Is
var (
	// ErrInvariant indicates the engine reported something the session
	// contract rules out, such as an unknown project outside a batch build
	ErrInvariant = errors.New("build engine contract violated")

	// ErrSessionStopped indicates an event was posted after Stop
	ErrSessionStopped = errors.New("build session dispatcher stopped")

	// ErrCancelFailed indicates the build engine rejected a cancel request
	ErrCancelFailed = errors.New("build cancel request failed")

	// ErrMissingDependency indicates a required host collaborator was not
	// supplied
	ErrMissingDependency = errors.New("missing session dependency")
)

// InvariantError describes a contract violation by the build engine
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrInvariant, e.Detail)
}

// Unwrap allows errors.Is(err, ErrInvariant)
func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func invariantf(op, format string, args ...interface{}) error {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ParseSolutionBegin converts the engine's scope and action names.
// Unknown values are contract violations.
func ParseSolutionBegin(scope, action string) (types.BuildScope, types.BuildAction, error) {
	s, err := types.ParseBuildScope(scope)
	if err != nil {
		return "", "", invariantf("solution-begin", "%v", err)
	}
	a, err := types.ParseBuildAction(action)
	if err != nil {
		return "", "", invariantf("solution-begin", "%v", err)
	}
	return s, a, nil
}
