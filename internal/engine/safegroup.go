package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/poltergeist/buildvision/pkg/logger"
)

// SafeGroup runs named background workers (dispatcher feeders, inbox
// watcher, metrics server, subscribers) on an errgroup. A panicking worker
// is turned into an error, which cancels the shared context.
type SafeGroup struct {
	group  *errgroup.Group
	ctx    context.Context
	logger logger.Logger
}

// NewSafeGroup creates a group bound to ctx
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &SafeGroup{
		group:  g,
		ctx:    gctx,
		logger: log.WithComponent("workers"),
	}, gctx
}

// Go runs fn with the group context. Panics are logged with their stack
// and returned as errors.
func (sg *SafeGroup) Go(name string, fn func(ctx context.Context) error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Worker panic recovered",
					logger.WithField("worker", name),
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("worker %s panicked: %v", name, r)
			}
		}()

		if err := fn(sg.ctx); err != nil {
			return fmt.Errorf("worker %s: %w", name, err)
		}
		return nil
	})
}

// Wait blocks until every worker returned and reports the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}
