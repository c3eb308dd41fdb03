package ffi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaRegisterResolveDrop(t *testing.T) {
	arena := NewArena()
	called := false
	handle := arena.RegisterNative(func(args ...uint64) (uint64, error) {
		called = true
		return 0, nil
	})

	mode, native, _, err := arena.Resolve(handle)
	require.NoError(t, err)
	assert.Equal(t, DispatchNative, mode)
	_, _ = native(1, 2)
	assert.True(t, called)

	require.NoError(t, arena.Drop(handle))
}

func TestArenaDoubleDropFails(t *testing.T) {
	arena := NewArena()
	handle := arena.RegisterWASM("app_dispatch_callback_vi")

	require.NoError(t, arena.Drop(handle))
	assert.Error(t, arena.Drop(handle), "dropping an already-dropped handle must error, not no-op")
}

func TestArenaResolveAfterDropFails(t *testing.T) {
	arena := NewArena()
	handle := arena.RegisterWASM("app_dispatch_callback_vi")
	require.NoError(t, arena.Drop(handle))

	_, _, _, err := arena.Resolve(handle)
	assert.Error(t, err)
}

func TestArenaPendingCount(t *testing.T) {
	arena := NewArena()
	h1 := arena.RegisterWASM("a")
	h2 := arena.RegisterWASM("b")
	assert.Equal(t, 2, arena.PendingCount())

	require.NoError(t, arena.Drop(h1))
	assert.Equal(t, 1, arena.PendingCount())

	require.NoError(t, arena.Drop(h2))
	assert.Equal(t, 0, arena.PendingCount())
}
