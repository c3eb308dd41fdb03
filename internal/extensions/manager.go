package extensions

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Manager ticks every loaded extension once per frame and fans out the
// lifecycle calls (startup, suspend, resume, shutdown) that have no
// ordering requirement relative to one another.
type Manager struct {
	extensions []Loaded
}

// NewManager wraps an already-loaded extension set.
func NewManager(loaded []Loaded) *Manager {
	return &Manager{extensions: loaded}
}

// Startup runs every extension's startup concurrently via errgroup, since
// nothing requires one extension's startup to complete before another's
// begins, only that all of them finish before the guest is ticked for
// the first time.
func (m *Manager) Startup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ext := range m.extensions {
		ext := ext
		g.Go(func() error {
			return ext.Vtable.Startup(ctx)
		})
	}
	return g.Wait()
}

// TickAll advances every extension by one frame, in load order. Unlike
// Startup, Tick runs sequentially: extensions may share host resources
// (the event ring, the file façade) that the orchestrator's single-
// main-thread ownership rule assumes are touched one at a time.
func (m *Manager) TickAll(ctx context.Context) error {
	for _, ext := range m.extensions {
		if err := ext.Vtable.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Suspend fans out to every extension's suspend, used ahead of a
// background transition or video-mode restart.
func (m *Manager) Suspend(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ext := range m.extensions {
		ext := ext
		g.Go(func() error {
			return ext.Vtable.Suspend(ctx)
		})
	}
	return g.Wait()
}

// Resume fans out to every extension's resume, the inverse of Suspend.
func (m *Manager) Resume(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ext := range m.extensions {
		ext := ext
		g.Go(func() error {
			return ext.Vtable.Resume(ctx)
		})
	}
	return g.Wait()
}

// Shutdown fans out to every extension's shutdown. Errors from
// individual extensions are collected rather than short-circuited, so
// one misbehaving extension never prevents the others from releasing
// their resources during host teardown.
func (m *Manager) Shutdown(ctx context.Context) []error {
	results := make([]error, len(m.extensions))
	g, ctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i, ext := range m.extensions {
		i, ext := i, ext
		g.Go(func() error {
			results[i] = ext.Vtable.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
