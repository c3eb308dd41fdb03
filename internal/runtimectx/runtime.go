// Package runtimectx builds the App-context: the one value that holds
// every long-lived subsystem handle a running app needs, constructed
// once by a Builder rather than stashed in package globals.
package runtimectx

import (
	"context"
	"net/http"

	"github.com/sandboxrt/sandboxrt/internal/reporting"
	"github.com/sandboxrt/sandboxrt/internal/reporting/redaction"
)

// DisplayMode is the app's current foreground/background state. A
// background→foreground transition destroys and recreates the render
// device and canvas context while everything else in the Context
// persists.
type DisplayMode int

const (
	DisplayForeground DisplayMode = iota
	DisplayBackground
)

func (m DisplayMode) String() string {
	if m == DisplayBackground {
		return "background"
	}
	return "foreground"
}

// RenderDevice is a stub: the concrete render device is out of scope
// here, so the Context only needs something it can hold, destroy, and
// recreate across display-mode transitions.
type RenderDevice interface {
	Close() error
}

// Context is the App-context: populated exactly once by Builder.Build,
// zeroed before init-subsystems, live until shutdown. Between
// background and foreground transitions only RenderDevice is torn down
// and rebuilt; the rest of the Context persists across that boundary.
type Context struct {
	ThreadPool *ThreadPool
	Bus        *Bus
	HTTP       *HTTPPump
	HTTPClient *http.Client
	Reporting  *reporting.Reporter

	RenderDevice RenderDevice
	DisplayMode  DisplayMode

	frameCounter uint64
}

// NextFrame increments and returns the frame counter. Called once per
// orchestrator frame.
func (c *Context) NextFrame() uint64 {
	c.frameCounter++
	return c.frameCounter
}

// FrameCount returns the current frame counter without advancing it.
func (c *Context) FrameCount() uint64 {
	return c.frameCounter
}

// SetRenderDevice destroys the current render device, if any, and
// installs the replacement. This is the operation a display-mode
// transition drives.
func (c *Context) SetRenderDevice(d RenderDevice) error {
	if c.RenderDevice != nil {
		if err := c.RenderDevice.Close(); err != nil {
			return err
		}
	}
	c.RenderDevice = d
	return nil
}

// Shutdown tears down every subsystem the Context owns. Safe to call
// once, at process shutdown.
func (c *Context) Shutdown() error {
	var firstErr error
	if c.RenderDevice != nil {
		if err := c.RenderDevice.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.ThreadPool != nil {
		if err := c.ThreadPool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Reporting != nil {
		if err := c.Reporting.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Options configures a Builder. Zero values pick sensible defaults: a
// single-worker thread pool, a default-timeout HTTP client, redaction
// disabled.
type Options struct {
	ThreadPoolWorkers int
	HTTPClient        *http.Client
	RedactionConfig   *redaction.Config
}

// Builder constructs a Context. Building is an explicit call, never a
// package-level singleton: nothing is wired until Build runs.
type Builder struct {
	opts Options
}

// NewBuilder returns a Builder configured with opts.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Build wires up every subsystem and returns the populated Context.
// The bus dispatcher goroutine is started against ctx and stops when
// ctx is canceled; callers own ctx's lifetime.
func (b *Builder) Build(ctx context.Context) (*Context, error) {
	var scrubber *redaction.Scrubber
	if b.opts.RedactionConfig != nil {
		s, err := redaction.New(*b.opts.RedactionConfig)
		if err != nil {
			return nil, err
		}
		scrubber = s
	}

	rc := &Context{
		ThreadPool:  NewThreadPool(ctx, b.opts.ThreadPoolWorkers),
		HTTP:        NewHTTPPump(b.opts.HTTPClient),
		HTTPClient:  b.opts.HTTPClient,
		Reporting:   reporting.New(scrubber),
		DisplayMode: DisplayForeground,
	}
	rc.Bus = NewBus(nil)
	go rc.Bus.RunDispatcher(ctx)

	return rc, nil
}
