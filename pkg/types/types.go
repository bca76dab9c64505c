// Package types provides the core domain types for buildvision
package types

import (
	"fmt"
	"strings"
)

// BuildPhase represents where the current build session is
type BuildPhase string

const (
	BuildPhaseIdle       BuildPhase = "idle"
	BuildPhaseInProgress BuildPhase = "in-progress"
	BuildPhaseDone       BuildPhase = "done"
)

// BuildAction represents what the engine was asked to do
type BuildAction string

const (
	BuildActionBuild   BuildAction = "build"
	BuildActionRebuild BuildAction = "rebuild"
	BuildActionClean   BuildAction = "clean"
	BuildActionDeploy  BuildAction = "deploy"
)

// BuildScope represents the breadth of a build request
type BuildScope string

const (
	BuildScopeSolution BuildScope = "solution"
	BuildScopeProject  BuildScope = "project"
	BuildScopeBatch    BuildScope = "batch"
)

// ProjectState represents the classified state of a single project build
type ProjectState string

const (
	ProjectStatePending        ProjectState = "pending"
	ProjectStateBuilding       ProjectState = "building"
	ProjectStateCleaning       ProjectState = "cleaning"
	ProjectStateBuildDone      ProjectState = "build-done"
	ProjectStateUpToDate       ProjectState = "up-to-date"
	ProjectStateBuildError     ProjectState = "build-error"
	ProjectStateBuildCancelled ProjectState = "build-cancelled"
	ProjectStateCleanDone      ProjectState = "clean-done"
	ProjectStateCleanError     ProjectState = "clean-error"
)

// DiagnosticLevel is the severity of a diagnostic raised by the build logger
type DiagnosticLevel string

const (
	LevelMessage DiagnosticLevel = "message"
	LevelWarning DiagnosticLevel = "warning"
	LevelError   DiagnosticLevel = "error"
)

// MessageImportance mirrors the engine's importance of a message event
type MessageImportance int

const (
	ImportanceHigh MessageImportance = iota
	ImportanceNormal
	ImportanceLow
)

// Verbosity is the logger verbosity threshold. Ordered from least to most verbose.
type Verbosity int

const (
	VerbosityQuiet Verbosity = iota
	VerbosityMinimal
	VerbosityNormal
	VerbosityDetailed
	VerbosityDiagnostic
)

var (
	buildActions = map[string]BuildAction{
		"build":      BuildActionBuild,
		"rebuild":    BuildActionRebuild,
		"rebuildall": BuildActionRebuild,
		"clean":      BuildActionClean,
		"deploy":     BuildActionDeploy,
	}

	verbosities = map[string]Verbosity{
		"quiet":      VerbosityQuiet,
		"minimal":    VerbosityMinimal,
		"normal":     VerbosityNormal,
		"detailed":   VerbosityDetailed,
		"diagnostic": VerbosityDiagnostic,
	}
)

// ParseBuildAction converts an engine action name into a BuildAction
func ParseBuildAction(s string) (BuildAction, error) {
	if a, ok := buildActions[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", fmt.Errorf("unknown build action: %q", s)
}

// ParseBuildScope converts an engine scope name into a BuildScope.
// An empty scope is reported by the engine for "clean, then start" and
// means the whole solution.
func ParseBuildScope(s string) (BuildScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "solution":
		return BuildScopeSolution, nil
	case "project":
		return BuildScopeProject, nil
	case "batch":
		return BuildScopeBatch, nil
	default:
		return "", fmt.Errorf("unknown build scope: %q", s)
	}
}

// ParseVerbosity converts a verbosity name into a Verbosity
func ParseVerbosity(s string) (Verbosity, error) {
	if v, ok := verbosities[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return VerbosityQuiet, fmt.Errorf("unknown verbosity: %q", s)
}

// ParseImportance converts an importance name into a MessageImportance
func ParseImportance(s string) (MessageImportance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ImportanceHigh, nil
	case "", "normal":
		return ImportanceNormal, nil
	case "low":
		return ImportanceLow, nil
	default:
		return ImportanceNormal, fmt.Errorf("unknown message importance: %q", s)
	}
}

// ParseDiagnosticLevel converts a severity name into a DiagnosticLevel
func ParseDiagnosticLevel(s string) (DiagnosticLevel, error) {
	switch DiagnosticLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelMessage:
		return LevelMessage, nil
	case LevelWarning:
		return LevelWarning, nil
	case LevelError:
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown diagnostic level: %q", s)
	}
}

func (v Verbosity) String() string {
	for name, value := range verbosities {
		if value == v {
			return name
		}
	}
	return fmt.Sprintf("verbosity(%d)", int(v))
}

// IsAtLeast reports whether v is at least as verbose as other
func (v Verbosity) IsAtLeast(other Verbosity) bool {
	return v >= other
}

// Accepts reports whether a message of the given importance passes this
// verbosity threshold.
func (v Verbosity) Accepts(importance MessageImportance) bool {
	switch importance {
	case ImportanceHigh:
		return v.IsAtLeast(VerbosityMinimal)
	case ImportanceNormal:
		return v.IsAtLeast(VerbosityNormal)
	case ImportanceLow:
		return v.IsAtLeast(VerbosityDetailed)
	default:
		return false
	}
}

// IsFinal reports whether the state is a terminal classification
func (s ProjectState) IsFinal() bool {
	switch s {
	case ProjectStateBuildDone, ProjectStateUpToDate, ProjectStateBuildError,
		ProjectStateBuildCancelled, ProjectStateCleanDone, ProjectStateCleanError:
		return true
	}
	return false
}

// IsFailure reports whether the state represents a failed project
func (s ProjectState) IsFailure() bool {
	return s == ProjectStateBuildError || s == ProjectStateCleanError
}
