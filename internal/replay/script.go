// Package replay drives the build session from a recorded script of engine
// callbacks. It stands in for the IDE host: it owns the project model, the
// logger attachment point and the cancel command.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poltergeist/buildvision/pkg/types"
)

// ErrInvalidScript is returned for scripts that cannot be replayed
var ErrInvalidScript = errors.New("invalid replay script")

// Script is a host solution plus an ordered list of engine callbacks
type Script struct {
	Name     string              `json:"name,omitempty" yaml:"name,omitempty"`
	Solution types.Solution      `json:"solution" yaml:"solution"`
	Projects []types.ProjectInfo `json:"projects" yaml:"projects"`

	// CancelFails makes the host reject cancel requests
	CancelFails bool   `json:"cancelFails,omitempty" yaml:"cancelFails,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step is one engine callback. Exactly one field is set.
type Step struct {
	Focus          *types.Window         `json:"focus,omitempty" yaml:"focus,omitempty"`
	SolutionBegin  *SolutionBeginStep    `json:"solutionBegin,omitempty" yaml:"solutionBegin,omitempty"`
	ProjectBegin   *ProjectStep          `json:"projectBegin,omitempty" yaml:"projectBegin,omitempty"`
	ProjectStarted *types.ProjectStarted `json:"projectStarted,omitempty" yaml:"projectStarted,omitempty"`
	Log            *LogStep              `json:"log,omitempty" yaml:"log,omitempty"`
	ProjectDone    *ProjectStep          `json:"projectDone,omitempty" yaml:"projectDone,omitempty"`
	SolutionDone   *struct{}             `json:"solutionDone,omitempty" yaml:"solutionDone,omitempty"`
	CancelRequest  *struct{}             `json:"cancelRequest,omitempty" yaml:"cancelRequest,omitempty"`
	CancelObserved *struct{}             `json:"cancelObserved,omitempty" yaml:"cancelObserved,omitempty"`
	Wait           string                `json:"wait,omitempty" yaml:"wait,omitempty"`
}

// SolutionBeginStep carries the engine's raw scope and action names
type SolutionBeginStep struct {
	Scope  string `json:"scope" yaml:"scope"`
	Action string `json:"action" yaml:"action"`
}

// ProjectStep is a project begin or done callback
type ProjectStep struct {
	Name          string `json:"name" yaml:"name"`
	Configuration string `json:"configuration" yaml:"configuration"`
	Platform      string `json:"platform" yaml:"platform"`
	Success       bool   `json:"success,omitempty" yaml:"success,omitempty"`
}

// LogStep is a logger message, warning or error
type LogStep struct {
	Context     *types.EventContext `json:"context" yaml:"context"`
	Level       string              `json:"level" yaml:"level"`
	Importance  string              `json:"importance,omitempty" yaml:"importance,omitempty"`
	Code        string              `json:"code,omitempty" yaml:"code,omitempty"`
	File        string              `json:"file,omitempty" yaml:"file,omitempty"`
	ProjectFile string              `json:"projectFile,omitempty" yaml:"projectFile,omitempty"`
	Line        int                 `json:"line,omitempty" yaml:"line,omitempty"`
	Column      int                 `json:"column,omitempty" yaml:"column,omitempty"`
	EndLine     int                 `json:"endLine,omitempty" yaml:"endLine,omitempty"`
	EndColumn   int                 `json:"endColumn,omitempty" yaml:"endColumn,omitempty"`
	Subcategory string              `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Message     string              `json:"message" yaml:"message"`
}

// Event converts the step into a logger event
func (l LogStep) Event() (types.LogEvent, error) {
	level, err := types.ParseDiagnosticLevel(l.Level)
	if err != nil {
		return types.LogEvent{}, err
	}
	importance, err := types.ParseImportance(l.Importance)
	if err != nil {
		return types.LogEvent{}, err
	}
	return types.LogEvent{
		Context:     l.Context,
		Level:       level,
		Importance:  importance,
		Code:        l.Code,
		File:        l.File,
		ProjectFile: l.ProjectFile,
		Line:        l.Line,
		Column:      l.Column,
		EndLine:     l.EndLine,
		EndColumn:   l.EndColumn,
		Subcategory: l.Subcategory,
		Message:     l.Message,
	}, nil
}

// Kind names the callback a step carries
func (s Step) Kind() string {
	var kinds []string
	if s.Focus != nil {
		kinds = append(kinds, "focus")
	}
	if s.SolutionBegin != nil {
		kinds = append(kinds, "solutionBegin")
	}
	if s.ProjectBegin != nil {
		kinds = append(kinds, "projectBegin")
	}
	if s.ProjectStarted != nil {
		kinds = append(kinds, "projectStarted")
	}
	if s.Log != nil {
		kinds = append(kinds, "log")
	}
	if s.ProjectDone != nil {
		kinds = append(kinds, "projectDone")
	}
	if s.SolutionDone != nil {
		kinds = append(kinds, "solutionDone")
	}
	if s.CancelRequest != nil {
		kinds = append(kinds, "cancelRequest")
	}
	if s.CancelObserved != nil {
		kinds = append(kinds, "cancelObserved")
	}
	if s.Wait != "" {
		kinds = append(kinds, "wait")
	}
	return strings.Join(kinds, "+")
}

// Validate checks that every step carries exactly one callback with
// well-formed values
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	for i, step := range s.Steps {
		kind := step.Kind()
		if kind == "" || strings.Contains(kind, "+") {
			return fmt.Errorf("%w: step %d must set exactly one callback, got %q", ErrInvalidScript, i, kind)
		}
		switch {
		case step.Wait != "":
			if _, err := time.ParseDuration(step.Wait); err != nil {
				return fmt.Errorf("%w: step %d: %v", ErrInvalidScript, i, err)
			}
		case step.Log != nil:
			if _, err := step.Log.Event(); err != nil {
				return fmt.Errorf("%w: step %d: %v", ErrInvalidScript, i, err)
			}
		}
	}
	return nil
}

// LoadScript reads a JSON or YAML script from path
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	script, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// ParseScript decodes and validates script bytes
func ParseScript(data []byte) (*Script, error) {
	var script Script
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		if err := json.Unmarshal(data, &script); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
		}
	} else if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}

	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}
