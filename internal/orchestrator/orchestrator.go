// Package orchestrator drives the deterministic per-frame pipeline: drain
// callbacks from the thread pool and HTTP pump, tick WebSocket and loaded
// extensions, tick reporting, pump the event ring, advance the file-write
// budget, then render or sleep. Frame ordering is modeled as an explicit
// sequence of Stage functions over a Frame value so it is unit-testable in
// isolation from any real interpreter or render device.
package orchestrator

import (
	"context"
	"time"

	"github.com/sandboxrt/sandboxrt/internal/hostservices"
	"github.com/sandboxrt/sandboxrt/wireformat"
)

// MaxFrameDelta is the clamp applied to Δt, so a long stall (debugger
// breakpoint, suspended process) never presents the guest with an
// implausibly large tick.
const MaxFrameDelta = 1000 * time.Millisecond

// BackgroundFrameRate caps presentation while the app is backgrounded.
const BackgroundFrameRate = 2 // Hz

// Frame carries the mutable state one pipeline pass threads through its
// stages.
type Frame struct {
	Now          time.Time
	LastTime     time.Time
	Delta        time.Duration
	Backgrounded bool

	RestartRequested    bool
	BackgroundRequested bool
	ForegroundRequested bool

	Events []wireformat.EventWire
}

// Stage is one step of the frame pipeline.
type Stage func(ctx context.Context, f *Frame) error

// ThreadPoolDrainer drains completed thread-pool jobs (e.g. JSON
// schema-guided decode) onto the main thread.
type ThreadPoolDrainer interface {
	DrainCompletions(ctx context.Context) error
}

// HTTPPump drains completed HTTP transfers onto the main thread.
type HTTPPump interface {
	DrainCompletions(ctx context.Context) error
}

// WebSocketTicker advances the WebSocket/HTTP2 transport.
type WebSocketTicker interface {
	Tick(ctx context.Context) error
}

// ExtensionTicker advances every loaded extension by one frame.
type ExtensionTicker interface {
	TickAll(ctx context.Context) error
}

// ReportingTicker advances the telemetry/crash reporting subsystem.
type ReportingTicker interface {
	Tick(ctx context.Context) error
}

// GuestTicker invokes the guest's app_tick with the computed Δt.
type GuestTicker interface {
	Tick(ctx context.Context, nowMs int64, deltaSeconds float64) error
}

// Pipeline wires the concrete subsystems the frame stages call into.
type Pipeline struct {
	ThreadPool  ThreadPoolDrainer
	HTTP        HTTPPump
	WebSocket   WebSocketTicker
	Extensions  ExtensionTicker
	Reporting   ReportingTicker
	Guest       GuestTicker
	Events      *hostservices.EventRing
	WriteBudget *hostservices.WriteBudget

	// Present renders one frame; Sleep backs off while backgrounded.
	Present func(ctx context.Context) error
	Sleep   func(d time.Duration)
}

// Stages returns the 9-step frame pipeline in order, matching the
// orchestrator's fixed frame ordering.
func (p *Pipeline) Stages() []Stage {
	return []Stage{
		p.drainThreadPool,
		p.drainHTTP,
		p.tickWS,
		p.tickExtensions,
		p.tickReporting,
		p.pumpEvents,
		p.advanceWriteBudget,
		p.renderOrSleep,
		p.handleLifecycleFlags,
	}
}

// RunFrame executes every stage in order, stopping at the first error.
func (p *Pipeline) RunFrame(ctx context.Context, f *Frame) error {
	for _, stage := range p.Stages() {
		if err := stage(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) drainThreadPool(ctx context.Context, _ *Frame) error {
	if p.ThreadPool == nil {
		return nil
	}
	return p.ThreadPool.DrainCompletions(ctx)
}

func (p *Pipeline) drainHTTP(ctx context.Context, _ *Frame) error {
	if p.HTTP == nil {
		return nil
	}
	return p.HTTP.DrainCompletions(ctx)
}

func (p *Pipeline) tickWS(ctx context.Context, _ *Frame) error {
	if p.WebSocket == nil {
		return nil
	}
	return p.WebSocket.Tick(ctx)
}

func (p *Pipeline) tickExtensions(ctx context.Context, _ *Frame) error {
	if p.Extensions == nil {
		return nil
	}
	return p.Extensions.TickAll(ctx)
}

func (p *Pipeline) tickReporting(ctx context.Context, _ *Frame) error {
	if p.Reporting == nil {
		return nil
	}
	return p.Reporting.Tick(ctx)
}

// pumpEvents fills the event ring, computing Δt against the ring's
// always-last time event and clamping it to MaxFrameDelta.
func (p *Pipeline) pumpEvents(_ context.Context, f *Frame) error {
	last := f.Now
	f.Now = timeNow()

	delta := f.Now.Sub(last)
	if delta < 0 {
		delta = 0
	}
	if delta > MaxFrameDelta {
		delta = MaxFrameDelta
	}
	f.LastTime = last
	f.Delta = delta

	if p.Events != nil {
		batch, err := hostservices.ReadEvents(p.Events, f.Now.UnixMilli(), 256, hostservices.EventRecordSize)
		if err != nil {
			return err
		}
		f.Events = batch
	}
	return nil
}

func (p *Pipeline) advanceWriteBudget(_ context.Context, f *Frame) error {
	if p.WriteBudget != nil {
		p.WriteBudget.Advance(f.Delta.Seconds())
	}
	return nil
}

func (p *Pipeline) renderOrSleep(ctx context.Context, f *Frame) error {
	if f.Backgrounded {
		if p.Sleep != nil {
			p.Sleep(time.Second / BackgroundFrameRate)
		}
		return nil
	}

	if p.Guest != nil {
		if err := p.Guest.Tick(ctx, f.Now.UnixMilli(), f.Delta.Seconds()); err != nil {
			return err
		}
	}
	if p.Present != nil {
		return p.Present(ctx)
	}
	return nil
}

func (p *Pipeline) handleLifecycleFlags(_ context.Context, f *Frame) error {
	if f.BackgroundRequested {
		f.Backgrounded = true
		f.BackgroundRequested = false
	}
	if f.ForegroundRequested {
		f.Backgrounded = false
		f.ForegroundRequested = false
	}
	return nil
}

// timeNow is a seam so tests can substitute a deterministic clock.
var timeNow = time.Now
