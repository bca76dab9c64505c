package types

import (
	"path/filepath"
	"strings"
	"sync"
)

// ProjectInfo is what the host project model knows about a project
type ProjectInfo struct {
	UniqueName    string `json:"uniqueName" yaml:"uniqueName"`
	FullName      string `json:"fullName" yaml:"fullName"`
	Configuration string `json:"configuration" yaml:"configuration"`
	Platform      string `json:"platform" yaml:"platform"`
	Hidden        bool   `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// Project is a stable project identity owned by the registry
type Project struct {
	UniqueName    string
	FullName      string
	Configuration string
	Platform      string
	IsBatchBuild  bool
	Hidden        bool

	// diagnostics of the last build that did real work for this project.
	// Up-to-date builds report these instead of an empty set.
	mu          sync.RWMutex
	diagnostics *DiagnosticBox
}

// NewProject materializes a project entity from host metadata
func NewProject(info ProjectInfo) *Project {
	return &Project{
		UniqueName:    info.UniqueName,
		FullName:      info.FullName,
		Configuration: info.Configuration,
		Platform:      info.Platform,
		Hidden:        info.Hidden,
		diagnostics:   NewDiagnosticBox(),
	}
}

// BatchBuildCopy returns a batch build variant of p for the given
// configuration and platform. The copy does not share diagnostics.
func (p *Project) BatchBuildCopy(configuration, platform string) *Project {
	return &Project{
		UniqueName:    p.UniqueName,
		FullName:      p.FullName,
		Configuration: configuration,
		Platform:      platform,
		IsBatchBuild:  true,
		Hidden:        p.Hidden,
		diagnostics:   NewDiagnosticBox(),
	}
}

// LastDiagnostics returns the diagnostics of the last build that did work
func (p *Project) LastDiagnostics() *DiagnosticBox {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.diagnostics
}

// SetLastDiagnostics records the diagnostics of a completed build
func (p *Project) SetLastDiagnostics(box *DiagnosticBox) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diagnostics = box
}

// Info returns the host view of the project
func (p *Project) Info() ProjectInfo {
	return ProjectInfo{
		UniqueName:    p.UniqueName,
		FullName:      p.FullName,
		Configuration: p.Configuration,
		Platform:      p.Platform,
		Hidden:        p.Hidden,
	}
}

// Name returns a display name for logs
func (p *Project) Name() string {
	if p == nil {
		return "<nil>"
	}
	if p.UniqueName != "" {
		return p.UniqueName
	}
	return filepath.Base(p.FullName)
}

func isAnyCPU(platform string) bool {
	return platform == "Any CPU" || platform == "AnyCPU"
}

// PlatformsEqual compares platform names case-insensitively. The engine
// reports "AnyCPU" where the project model says "Any CPU"; both are equal.
func PlatformsEqual(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	return isAnyCPU(a) && isAnyCPU(b)
}

// hiddenProjectExtensions are project files that never produce build output
// of their own (solution folders and solution-level pseudo projects).
var hiddenProjectExtensions = map[string]bool{
	".sln":       true,
	".slnx":      true,
	".metaproj":  true,
	".slnfolder": true,
}

// IsHiddenProjectFile reports whether a project file belongs to a
// solution folder or pseudo project that has no entity of its own.
func IsHiddenProjectFile(projectFile string) bool {
	if strings.TrimSpace(projectFile) == "" {
		return true
	}
	lower := strings.ToLower(projectFile)
	for ext := range hiddenProjectExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Solution describes the solution a build ran against
type Solution struct {
	FullName string `json:"fullName" yaml:"fullName"`
	FileName string `json:"fileName" yaml:"fileName"`
}

// WindowKind is the kind of host window that received focus
type WindowKind string

const (
	WindowSolutionExplorer WindowKind = "solution-explorer"
	WindowDocument         WindowKind = "document"
	WindowDesigner         WindowKind = "designer"
	WindowCodeWindow       WindowKind = "code"
	WindowOther            WindowKind = "other"
)

// Window is the host focus context used to resolve a project-scope build
type Window struct {
	Kind      WindowKind    `json:"kind" yaml:"kind"`
	// Project is the owning project of a document-like window.
	Project   *ProjectInfo  `json:"project,omitempty" yaml:"project,omitempty"`
	// Selection is the solution explorer selection.
	Selection []ProjectInfo `json:"selection,omitempty" yaml:"selection,omitempty"`
}

// IsDocument reports whether the window shows a document of some project
func (w Window) IsDocument() bool {
	return w.Kind == WindowDocument || w.Kind == WindowDesigner || w.Kind == WindowCodeWindow
}
