package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/internal/hostservices"
)

type fakePipeline struct {
	order []string
}

func TestStagesRunInFixedOrder(t *testing.T) {
	f := &fakePipeline{}

	threadPool := recorderStage{f, "thread_pool"}
	http := recorderStage{f, "http"}
	ws := recorderStage{f, "ws"}
	ext := recorderStage{f, "extensions"}
	reporting := recorderStage{f, "reporting"}

	p := &Pipeline{
		ThreadPool: threadPool,
		HTTP:       http,
		WebSocket:  ws,
		Extensions: ext,
		Reporting:  reporting,
		Present: func(ctx context.Context) error {
			f.order = append(f.order, "present")
			return nil
		},
	}

	frame := &Frame{Now: time.Unix(0, 0)}
	require.NoError(t, p.RunFrame(context.Background(), frame))

	assert.Equal(t, []string{
		"thread_pool",
		"http",
		"ws",
		"extensions",
		"reporting",
		"present",
	}, f.order)
}

type recorderStage struct {
	f    *fakePipeline
	name string
}

func (r recorderStage) DrainCompletions(ctx context.Context) error { r.f.order = append(r.f.order, r.name); return nil }
func (r recorderStage) Tick(ctx context.Context) error             { r.f.order = append(r.f.order, r.name); return nil }
func (r recorderStage) TickAll(ctx context.Context) error          { r.f.order = append(r.f.order, r.name); return nil }

func TestRunFrameStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	calledPresent := false

	p := &Pipeline{
		Reporting: erroringTicker{boom},
		Present: func(ctx context.Context) error {
			calledPresent = true
			return nil
		},
	}

	err := p.RunFrame(context.Background(), &Frame{Now: time.Unix(0, 0)})
	assert.ErrorIs(t, err, boom)
	assert.False(t, calledPresent, "a stage after the failing one must not run")
}

type erroringTicker struct{ err error }

func (e erroringTicker) Tick(ctx context.Context) error { return e.err }

func TestPumpEventsClampsDelta(t *testing.T) {
	restore := timeNow
	defer func() { timeNow = restore }()

	base := time.Unix(1000, 0)
	timeNow = func() time.Time { return base.Add(5 * time.Second) }

	p := &Pipeline{}
	frame := &Frame{Now: base}
	require.NoError(t, p.pumpEvents(context.Background(), frame))

	assert.Equal(t, MaxFrameDelta, frame.Delta, "a 5s stall must clamp to MaxFrameDelta")
}

func TestPumpEventsComputesDeltaFromEventRing(t *testing.T) {
	restore := timeNow
	defer func() { timeNow = restore }()

	base := time.Unix(2000, 0)
	timeNow = func() time.Time { return base.Add(16 * time.Millisecond) }

	ring := hostservices.NewEventRing()
	p := &Pipeline{Events: ring}
	frame := &Frame{Now: base}
	require.NoError(t, p.pumpEvents(context.Background(), frame))

	assert.Equal(t, 16*time.Millisecond, frame.Delta)
	require.Len(t, frame.Events, 1)
	assert.Equal(t, "time", frame.Events[len(frame.Events)-1].Type)
}

func TestAdvanceWriteBudgetAccruesByDelta(t *testing.T) {
	budget := hostservices.NewWriteBudget(100)
	p := &Pipeline{WriteBudget: budget}
	frame := &Frame{Delta: 500 * time.Millisecond}

	require.NoError(t, p.advanceWriteBudget(context.Background(), frame))
	assert.True(t, budget.TrySpend(50))
	assert.False(t, budget.TrySpend(1))
}

func TestRenderOrSleepSkipsGuestTickWhenBackgrounded(t *testing.T) {
	guestTicked := false
	slept := false

	p := &Pipeline{
		Guest: guestTickerFunc(func(ctx context.Context, nowMs int64, deltaSeconds float64) error {
			guestTicked = true
			return nil
		}),
		Sleep: func(d time.Duration) { slept = true },
	}

	frame := &Frame{Backgrounded: true}
	require.NoError(t, p.renderOrSleep(context.Background(), frame))

	assert.False(t, guestTicked)
	assert.True(t, slept)
}

type guestTickerFunc func(ctx context.Context, nowMs int64, deltaSeconds float64) error

func (g guestTickerFunc) Tick(ctx context.Context, nowMs int64, deltaSeconds float64) error {
	return g(ctx, nowMs, deltaSeconds)
}

func TestHandleLifecycleFlagsTransitionsBackgroundState(t *testing.T) {
	p := &Pipeline{}
	frame := &Frame{BackgroundRequested: true}

	require.NoError(t, p.handleLifecycleFlags(context.Background(), frame))
	assert.True(t, frame.Backgrounded)
	assert.False(t, frame.BackgroundRequested, "the flag is consumed once applied")

	frame.ForegroundRequested = true
	require.NoError(t, p.handleLifecycleFlags(context.Background(), frame))
	assert.False(t, frame.Backgrounded)
}
