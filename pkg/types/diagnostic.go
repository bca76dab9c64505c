package types

import (
	"sync"
	"time"
)

// EventContext identifies the engine project instance that raised a log event.
// A nil context or a negative id is invalid.
type EventContext struct {
	InstanceID int `json:"instanceId" yaml:"instanceId"`
	ContextID  int `json:"contextId" yaml:"contextId"`
}

// InvalidID is the engine sentinel for an unknown instance or context id
const InvalidID = -1

// Valid reports whether the context can be joined to a project
func (c *EventContext) Valid() bool {
	return c != nil && c.InstanceID > InvalidID && c.ContextID > InvalidID
}

// ProjectProperties are the build properties the engine reports for a
// project instance. Both fields are present or the pointer is nil.
type ProjectProperties struct {
	Configuration string `json:"configuration" yaml:"configuration"`
	Platform      string `json:"platform" yaml:"platform"`
}

// ProjectStarted is the logger side channel describing a project instance
type ProjectStarted struct {
	Context     *EventContext      `json:"context" yaml:"context"`
	ProjectFile string             `json:"projectFile" yaml:"projectFile"`
	Properties  *ProjectProperties `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// LogEvent is a raw message, warning or error raised by the build logger
type LogEvent struct {
	Context     *EventContext     `json:"context" yaml:"context"`
	Level       DiagnosticLevel   `json:"level" yaml:"level"`
	Importance  MessageImportance `json:"importance" yaml:"importance"`
	Code        string            `json:"code,omitempty" yaml:"code,omitempty"`
	File        string            `json:"file,omitempty" yaml:"file,omitempty"`
	ProjectFile string            `json:"projectFile,omitempty" yaml:"projectFile,omitempty"`
	Line        int               `json:"line,omitempty" yaml:"line,omitempty"`
	Column      int               `json:"column,omitempty" yaml:"column,omitempty"`
	EndLine     int               `json:"endLine,omitempty" yaml:"endLine,omitempty"`
	EndColumn   int               `json:"endColumn,omitempty" yaml:"endColumn,omitempty"`
	Subcategory string            `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Message     string            `json:"message" yaml:"message"`
}

// Diagnostic is a typed diagnostic attached to a project result
type Diagnostic struct {
	Level       DiagnosticLevel `json:"level"`
	Code        string          `json:"code,omitempty"`
	File        string          `json:"file,omitempty"`
	ProjectFile string          `json:"projectFile,omitempty"`
	Line        int             `json:"line,omitempty"`
	Column      int             `json:"column,omitempty"`
	EndLine     int             `json:"endLine,omitempty"`
	EndColumn   int             `json:"endColumn,omitempty"`
	Subcategory string          `json:"subcategory,omitempty"`
	Message     string          `json:"message"`
	// ProjectName is the unique name of the owning project, used to navigate to source.
	ProjectName string `json:"projectName"`
}

// NewDiagnostic builds a diagnostic from a raw log event
func NewDiagnostic(e LogEvent, project *Project) Diagnostic {
	d := Diagnostic{
		Level:       e.Level,
		Code:        e.Code,
		File:        e.File,
		ProjectFile: e.ProjectFile,
		Line:        e.Line,
		Column:      e.Column,
		EndLine:     e.EndLine,
		EndColumn:   e.EndColumn,
		Subcategory: e.Subcategory,
		Message:     e.Message,
	}
	if project != nil {
		d.ProjectName = project.UniqueName
	}
	return d.Normalize()
}

// Normalize clamps positions so that the span is never negative or inverted
func (d Diagnostic) Normalize() Diagnostic {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		return v
	}
	d.Line = clamp(d.Line)
	d.Column = clamp(d.Column)
	d.EndLine = clamp(d.EndLine)
	d.EndColumn = clamp(d.EndColumn)
	if d.EndLine < d.Line {
		d.EndLine = d.Line
	}
	if d.EndLine == d.Line && d.EndColumn < d.Column {
		d.EndColumn = d.Column
	}
	return d
}

// DiagnosticBox is an ordered, concurrency-safe collection of diagnostics
type DiagnosticBox struct {
	mu       sync.RWMutex
	items    []Diagnostic
	errors   int
	warnings int
	messages int
}

// NewDiagnosticBox creates an empty box
func NewDiagnosticBox() *DiagnosticBox {
	return &DiagnosticBox{}
}

// Add appends a diagnostic
func (b *DiagnosticBox) Add(d Diagnostic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, d)
	switch d.Level {
	case LevelError:
		b.errors++
	case LevelWarning:
		b.warnings++
	case LevelMessage:
		b.messages++
	}
}

// Items returns a copy of the diagnostics in arrival order
func (b *DiagnosticBox) Items() []Diagnostic {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Diagnostic, len(b.items))
	copy(out, b.items)
	return out
}

// Count returns the number of diagnostics of any level
func (b *DiagnosticBox) Count() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// ErrorCount returns the number of error diagnostics
func (b *DiagnosticBox) ErrorCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errors
}

// WarningCount returns the number of warning diagnostics
func (b *DiagnosticBox) WarningCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.warnings
}

// MessageCount returns the number of message diagnostics
func (b *DiagnosticBox) MessageCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.messages
}

// Clone returns an independent copy of the box
func (b *DiagnosticBox) Clone() *DiagnosticBox {
	if b == nil {
		return NewDiagnosticBox()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	c := &DiagnosticBox{
		items:    make([]Diagnostic, len(b.items)),
		errors:   b.errors,
		warnings: b.warnings,
		messages: b.messages,
	}
	copy(c.items, b.items)
	return c
}

// ProjectResult is the outcome of one project in the current session.
// Project is fixed at creation; everything else goes through accessors.
type ProjectResult struct {
	Project *Project

	mu          sync.RWMutex
	success     *bool
	state       ProjectState
	started     time.Time
	finished    time.Time
	diagnostics *DiagnosticBox
}

// NewProjectResult creates a pending result for a project
func NewProjectResult(p *Project) *ProjectResult {
	return &ProjectResult{
		Project:     p,
		state:       ProjectStatePending,
		diagnostics: NewDiagnosticBox(),
	}
}

// Begin marks the project as started in the given provisional state
func (r *ProjectResult) Begin(state ProjectState, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.started = at
}

// Finish records the engine outcome and the final classification
func (r *ProjectResult) Finish(success bool, state ProjectState, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = &success
	r.state = state
	r.finished = at
}

// SetSuccess records the engine-reported outcome
func (r *ProjectResult) SetSuccess(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = &success
}

// State returns the current classification
func (r *ProjectResult) State() ProjectState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Success returns the engine outcome, or nil while the project is building
func (r *ProjectResult) Success() *bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.success == nil {
		return nil
	}
	v := *r.success
	return &v
}

// Started returns when the project began building
func (r *ProjectResult) Started() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Finished returns when the project finished
func (r *ProjectResult) Finished() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finished
}

// Diagnostics returns the diagnostics collected for this result
func (r *ProjectResult) Diagnostics() *DiagnosticBox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.diagnostics
}

// ReplaceDiagnostics swaps the diagnostics collection, used when an
// up-to-date project carries over its previous diagnostics.
func (r *ProjectResult) ReplaceDiagnostics(box *DiagnosticBox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = box
}

// Duration returns how long the project took, or zero if unfinished
func (r *ProjectResult) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.started.IsZero() || r.finished.IsZero() {
		return 0
	}
	return r.finished.Sub(r.started)
}
