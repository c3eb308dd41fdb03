package runtimectx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderDevice struct {
	closed bool
}

func (f *fakeRenderDevice) Close() error {
	f.closed = true
	return nil
}

func TestBuilderBuildWiresSubsystems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBuilder(Options{ThreadPoolWorkers: 2})
	rc, err := b.Build(ctx)
	require.NoError(t, err)

	assert.NotNil(t, rc.ThreadPool)
	assert.NotNil(t, rc.Bus)
	assert.NotNil(t, rc.HTTP)
	assert.NotNil(t, rc.Reporting)
	assert.Equal(t, DisplayForeground, rc.DisplayMode)
	assert.Equal(t, uint64(0), rc.FrameCount())
}

func TestContextNextFrameIncrements(t *testing.T) {
	rc := &Context{}
	assert.Equal(t, uint64(1), rc.NextFrame())
	assert.Equal(t, uint64(2), rc.NextFrame())
	assert.Equal(t, uint64(2), rc.FrameCount())
}

func TestContextSetRenderDeviceClosesPrevious(t *testing.T) {
	rc := &Context{}
	first := &fakeRenderDevice{}
	require.NoError(t, rc.SetRenderDevice(first))

	second := &fakeRenderDevice{}
	require.NoError(t, rc.SetRenderDevice(second))

	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.Equal(t, RenderDevice(second), rc.RenderDevice)
}

func TestDisplayModeString(t *testing.T) {
	assert.Equal(t, "foreground", DisplayForeground.String())
	assert.Equal(t, "background", DisplayBackground.String())
}

func TestContextShutdownClosesSubsystems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBuilder(Options{ThreadPoolWorkers: 1})
	rc, err := b.Build(ctx)
	require.NoError(t, err)

	device := &fakeRenderDevice{}
	require.NoError(t, rc.SetRenderDevice(device))

	assert.NoError(t, rc.Shutdown())
	assert.True(t, device.closed)
}
