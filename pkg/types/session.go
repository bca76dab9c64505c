package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SessionSnapshot is a read-only copy of the build session state.
// Cancelled is set for any cancel, whether requested here or by the user.
type SessionSnapshot struct {
	SessionID        string
	Phase            BuildPhase
	Action           BuildAction
	Scope            BuildScope
	StartTime        *time.Time
	FinishTime       *time.Time
	Cancelled        bool
	Building         []*Project
	Results          []*ProjectResult
	BuildingSolution *Solution
	LastSolution     *Solution
	ScopeProject     *Project
}

// Duration returns the wall time of the session, or zero while unfinished
func (s SessionSnapshot) Duration() time.Duration {
	if s.StartTime == nil || s.FinishTime == nil {
		return 0
	}
	return s.FinishTime.Sub(*s.StartTime)
}

// StateCounts returns the number of results in each project state
func (s SessionSnapshot) StateCounts() map[ProjectState]int {
	counts := make(map[ProjectState]int)
	for _, r := range s.Results {
		counts[r.State()]++
	}
	return counts
}

// Failed reports whether any project ended in an error state
func (s SessionSnapshot) Failed() bool {
	for _, r := range s.Results {
		if r.State().IsFailure() {
			return true
		}
	}
	return false
}

// DiagnosticTotals returns error, warning and message totals across results
func (s SessionSnapshot) DiagnosticTotals() (errors, warnings, messages int) {
	for _, r := range s.Results {
		box := r.Diagnostics()
		errors += box.ErrorCount()
		warnings += box.WarningCount()
		messages += box.MessageCount()
	}
	return errors, warnings, messages
}

// Session outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Outcome labels the finished session. Cancel wins over failure.
func (s SessionSnapshot) Outcome() string {
	switch {
	case s.Cancelled:
		return OutcomeCancelled
	case s.Failed():
		return OutcomeFailed
	default:
		return OutcomeSucceeded
	}
}

// Summary renders a one-line description of the finished session
func (s SessionSnapshot) Summary() string {
	verb := s.Outcome()

	counts := s.StateCounts()
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)

	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%d %s", counts[ProjectState(state)], state))
	}

	summary := fmt.Sprintf("%s %s %s", capitalize(string(s.Action)), s.Scope, verb)
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	if d := s.Duration(); d > 0 {
		summary += fmt.Sprintf(" in %s", d.Round(time.Millisecond))
	}
	return summary
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
