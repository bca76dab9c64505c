// Package registry maps engine project references to stable project
// entities that live for the whole host session.
package registry

import (
	"sync"

	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

type keyKind int

const (
	byUniqueName keyKind = iota
	byFullName
)

// Key addresses a project by name or path, optionally narrowed to a
// configuration and platform.
type Key struct {
	kind          keyKind
	value         string
	configuration string
	platform      string
	withConfig    bool
}

// ByUniqueName addresses a project by its unique name
func ByUniqueName(name string) Key {
	return Key{kind: byUniqueName, value: name}
}

// ByFullName addresses a project by its full path
func ByFullName(path string) Key {
	return Key{kind: byFullName, value: path}
}

// ByUniqueNameConfig addresses a configuration of a project by unique name
func ByUniqueNameConfig(name, configuration, platform string) Key {
	return Key{kind: byUniqueName, value: name, configuration: configuration, platform: platform, withConfig: true}
}

// ByFullNameConfig addresses a configuration of a project by full path
func ByFullNameConfig(path, configuration, platform string) Key {
	return Key{kind: byFullName, value: path, configuration: configuration, platform: platform, withConfig: true}
}

func (k Key) String() string {
	s := k.value
	if k.withConfig {
		s += "|" + k.configuration + "|" + k.platform
	}
	return s
}

// matches applies the key to host metadata
func (k Key) matches(info types.ProjectInfo) bool {
	switch k.kind {
	case byUniqueName:
		if info.UniqueName != k.value {
			return false
		}
	case byFullName:
		if info.FullName != k.value {
			return false
		}
	}
	if !k.withConfig {
		return true
	}
	return info.Configuration == k.configuration && types.PlatformsEqual(info.Platform, k.platform)
}

// Registry is the append-only set of materialized project entities.
// It is safe for concurrent use.
type Registry struct {
	model  interfaces.ProjectModel
	logger logger.Logger

	mu       sync.RWMutex
	projects []*types.Project
}

// New creates a registry backed by the host project model
func New(model interfaces.ProjectModel, log logger.Logger) *Registry {
	return &Registry{
		model:  model,
		logger: log.WithComponent("registry"),
	}
}

// Resolve returns the entity addressed by key, materializing it from the
// project model on first sighting.
func (r *Registry) Resolve(key Key) (*types.Project, bool) {
	if p, ok := r.lookup(key); ok {
		return p, true
	}

	if r.model == nil {
		return nil, false
	}
	info, ok := r.model.FindProject(key.matches)
	if !ok || info == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have materialized it while the model was queried.
	if p, ok := r.lookupLocked(key); ok {
		return p, true
	}

	p := types.NewProject(*info)
	r.projects = append(r.projects, p)
	r.logger.Debug("Materialized project",
		logger.WithField("project", p.UniqueName),
		logger.WithField("configuration", p.Configuration),
		logger.WithField("platform", p.Platform))
	return p, true
}

// ResolveForBatch resolves one configuration of a project built as part of
// a batch request. When no entity matches the configuration exactly, a
// batch copy of the name-matched entity is registered instead, or an entity
// carrying only the name when the project model does not know it.
func (r *Registry) ResolveForBatch(name, configuration, platform string) *types.Project {
	if p, ok := r.Resolve(ByUniqueNameConfig(name, configuration, platform)); ok {
		return p
	}

	var p *types.Project
	if base, ok := r.Resolve(ByUniqueName(name)); ok {
		p = base.BatchBuildCopy(configuration, platform)
	} else {
		p = &types.Project{UniqueName: name}
		p = p.BatchBuildCopy(configuration, platform)
		r.logger.Warn("Batch project unknown to the project model",
			logger.WithField("project", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.lookupLocked(ByUniqueNameConfig(name, configuration, platform)); ok {
		return existing
	}
	r.projects = append(r.projects, p)
	return p
}

// Projects returns a snapshot of all materialized entities
func (r *Registry) Projects() []*types.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Project, len(r.projects))
	copy(out, r.projects)
	return out
}

// Len returns the number of materialized entities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// Reset forgets every materialized entity, used when the host closes the
// solution.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = nil
}

func (r *Registry) lookup(key Key) (*types.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(key)
}

// lookupLocked scans materialized entities. Name-only keys skip batch
// copies so a plain build never resolves to a batch variant.
func (r *Registry) lookupLocked(key Key) (*types.Project, bool) {
	for _, p := range r.projects {
		if !key.withConfig && p.IsBatchBuild {
			continue
		}
		if key.matches(p.Info()) {
			return p, true
		}
	}
	return nil, false
}
