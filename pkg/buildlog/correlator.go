// Package buildlog joins the engine's logger stream to project entities.
//
// The engine keys diagnostics by (instance id, context id). A side channel
// announces each project instance with its file and build properties; the
// correlator keeps one ContextEntry per announced instance and resolves it
// to a registry entity the first time a diagnostic needs it.
package buildlog

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/registry"
	"github.com/poltergeist/buildvision/pkg/types"
)

// Resolver looks up project entities
type Resolver interface {
	Resolve(key registry.Key) (*types.Project, bool)
}

// ResultSink receives accepted diagnostics for the current session
type ResultSink interface {
	AttachDiagnostic(project *types.Project, d types.Diagnostic)
}

// ContextEntry correlates one engine project instance with a project entity
type ContextEntry struct {
	InstanceID int
	ContextID  int
	FileName   string
	Properties *types.ProjectProperties

	// Project is cached after the first successful resolution
	Project *types.Project
	// Invalid is set once resolution failed; the entry is never retried
	Invalid bool
}

type entryKey struct {
	instance int
	context  int
}

// Correlator verifies logger events and attaches them to project results
type Correlator struct {
	resolver Resolver
	logger   logger.Logger

	mu        sync.RWMutex
	sink      ResultSink
	entries   map[entryKey]*ContextEntry
	order     []entryKey
	attached  bool
	verbosity types.Verbosity
}

// New creates a correlator. Verbosity starts at Quiet: warnings and errors
// pass, messages are dropped.
func New(resolver Resolver, log logger.Logger) *Correlator {
	return &Correlator{
		resolver:  resolver,
		logger:    log.WithComponent("buildlog"),
		entries:   make(map[entryKey]*ContextEntry),
		verbosity: types.VerbosityQuiet,
	}
}

// SetSink sets where accepted diagnostics go
func (c *Correlator) SetSink(sink ResultSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// SetVerbosity changes the message threshold for following events
func (c *Correlator) SetVerbosity(v types.Verbosity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verbosity = v
}

// Verbosity returns the current message threshold
func (c *Correlator) Verbosity() types.Verbosity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verbosity
}

// Register attaches handler to the engine's logger for a new build. Context
// entries of the previous build are dropped either way; when the engine
// reports a handler is already attached, that one keeps receiving events.
func (c *Correlator) Register(source interfaces.LogSource, handler interfaces.LogHandler) error {
	c.mu.Lock()
	c.entries = make(map[entryKey]*ContextEntry)
	c.order = nil
	verbosity := c.verbosity
	c.mu.Unlock()

	if source == nil {
		c.setAttached(false)
		return ErrNoLogSource
	}

	already, err := source.Attach(handler, verbosity)
	if err != nil {
		c.setAttached(false)
		return fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}
	if already {
		c.logger.Debug("Logger already attached, cleared stale context entries")
	}
	c.setAttached(true)
	return nil
}

func (c *Correlator) setAttached(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = v
}

// Attached reports whether a logger is registered with the engine
func (c *Correlator) Attached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attached
}

// HasEntryForFile reports whether the engine announced a project instance
// for the given project file during this build.
func (c *Correlator) HasEntryForFile(file string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.FileName == file {
			return true
		}
	}
	return false
}

// ReportsUpToDate reports whether the logger saw no work for the project
// file. Without an attached logger nothing can be concluded.
func (c *Correlator) ReportsUpToDate(file string) bool {
	return c.Attached() && !c.HasEntryForFile(file)
}

// Entries returns a copy of the context entries in announcement order
func (c *Correlator) Entries() []ContextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ContextEntry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.entries[k])
	}
	return out
}

// OnProjectStarted records a project instance announced by the engine
func (c *Correlator) OnProjectStarted(e types.ProjectStarted) {
	defer c.recoverHandler("project-started")

	if !e.Context.Valid() {
		c.logger.Debug("Ignoring project start without a valid context",
			logger.WithField("file", e.ProjectFile))
		return
	}

	key := entryKey{instance: e.Context.InstanceID, context: e.Context.ContextID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	c.entries[key] = &ContextEntry{
		InstanceID: e.Context.InstanceID,
		ContextID:  e.Context.ContextID,
		FileName:   e.ProjectFile,
		Properties: e.Properties,
	}
	c.order = append(c.order, key)
}

// OnMessage handles a message event
func (c *Correlator) OnMessage(e types.LogEvent) {
	e.Level = types.LevelMessage
	c.handle(e)
}

// OnWarning handles a warning event
func (c *Correlator) OnWarning(e types.LogEvent) {
	e.Level = types.LevelWarning
	c.handle(e)
}

// OnError handles an error event
func (c *Correlator) OnError(e types.LogEvent) {
	e.Level = types.LevelError
	c.handle(e)
}

// Verify applies the acceptance gate: a valid context, and for messages an
// importance the current verbosity lets through.
func (c *Correlator) Verify(e types.LogEvent) bool {
	if !e.Context.Valid() {
		return false
	}
	if e.Level == types.LevelMessage {
		return c.Verbosity().Accepts(e.Importance)
	}
	return true
}

func (c *Correlator) handle(e types.LogEvent) {
	defer c.recoverHandler(string(e.Level))

	if !c.Verify(e) {
		return
	}

	project, ok := c.projectFor(*e.Context)
	if !ok {
		return
	}

	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}

	sink.AttachDiagnostic(project, types.NewDiagnostic(e, project))
}

// projectFor finds the entity behind an engine context, caching the
// result on the entry.
func (c *Correlator) projectFor(ctx types.EventContext) (*types.Project, bool) {
	key := entryKey{instance: ctx.InstanceID, context: ctx.ContextID}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.logger.Warn("Log event for unknown project instance",
			logger.WithField("instance", ctx.InstanceID),
			logger.WithField("context", ctx.ContextID))
		return nil, false
	}
	if entry.Invalid {
		return nil, false
	}
	if entry.Project != nil {
		return entry.Project, true
	}

	if types.IsHiddenProjectFile(entry.FileName) {
		entry.Invalid = true
		return nil, false
	}

	var lookup registry.Key
	if p := entry.Properties; p != nil && p.Configuration != "" && p.Platform != "" {
		lookup = registry.ByFullNameConfig(entry.FileName, p.Configuration, p.Platform)
	} else {
		lookup = registry.ByFullName(entry.FileName)
	}

	project, found := c.resolver.Resolve(lookup)
	if !found {
		entry.Invalid = true
		c.logger.Warn("Cannot resolve project for log event",
			logger.WithField("file", entry.FileName),
			logger.WithField("key", lookup.String()))
		return nil, false
	}
	if project.Hidden {
		entry.Invalid = true
		return nil, false
	}

	entry.Project = project
	return project, true
}

func (c *Correlator) recoverHandler(event string) {
	if r := recover(); r != nil {
		c.logger.Error("Panic in logger callback recovered",
			logger.WithField("event", event),
			logger.WithField("panic", r),
			logger.WithField("stack_trace", string(debug.Stack())))
	}
}
