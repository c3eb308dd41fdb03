package ffi

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DispatchMode selects how a ClosureHandle is invoked: directly through a
// native function pointer table (extensions) or via the guest's fixed
// dispatcher export (WASM callbacks).
type DispatchMode int

const (
	DispatchNative DispatchMode = iota
	DispatchWASM
)

// NativeCallback is the function-pointer-table entry a native extension
// supplies at registration time.
type NativeCallback func(args ...uint64) (uint64, error)

// ClosureHandle is an opaque, guest-issued handle identifying a pending
// callback. It is minted from a generational arena so a stale handle
// reused after DropCallback is detected rather than silently
// dereferencing a reused slot.
type ClosureHandle struct {
	id         uuid.UUID
	generation uint64
}

func (h ClosureHandle) String() string {
	return fmt.Sprintf("%s/%d", h.id, h.generation)
}

type closureSlot struct {
	generation uint64
	mode       DispatchMode
	native     NativeCallback
	guestFunc  string // fixed guest-exported dispatcher name, DispatchWASM mode
}

// Arena is the generational arena every closure handle is minted from and
// released back to. A handle that has already been dropped, or whose
// generation doesn't match the arena's current record, is rejected rather
// than resolved to whatever now occupies that slot.
type Arena struct {
	mu         sync.Mutex
	slots      map[uuid.UUID]*closureSlot
	generation uint64
}

// NewArena creates an empty closure-handle arena.
func NewArena() *Arena {
	return &Arena{slots: make(map[uuid.UUID]*closureSlot)}
}

// RegisterNative mints a handle backed by a native function pointer,
// supplied by an extension's callbacks table at startup.
func (a *Arena) RegisterNative(cb NativeCallback) ClosureHandle {
	return a.register(DispatchNative, cb, "")
}

// RegisterWASM mints a handle dispatched through the guest's fixed
// dispatcher export, demuxed by handle on the guest side.
func (a *Arena) RegisterWASM(guestDispatcherFunc string) ClosureHandle {
	return a.register(DispatchWASM, nil, guestDispatcherFunc)
}

func (a *Arena) register(mode DispatchMode, native NativeCallback, guestFunc string) ClosureHandle {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.generation++
	gen := a.generation
	id := uuid.New()
	a.slots[id] = &closureSlot{generation: gen, mode: mode, native: native, guestFunc: guestFunc}
	return ClosureHandle{id: id, generation: gen}
}

// Resolve looks up a live closure slot for handle, rejecting stale or
// already-dropped handles.
func (a *Arena) Resolve(handle ClosureHandle) (mode DispatchMode, native NativeCallback, guestFunc string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, ok := a.slots[handle.id]
	if !ok {
		return 0, nil, "", fmt.Errorf("ffi: closure handle %s not found or already dropped", handle)
	}
	if slot.generation != handle.generation {
		return 0, nil, "", fmt.Errorf("ffi: closure handle %s is stale (generation mismatch)", handle)
	}
	return slot.mode, slot.native, slot.guestFunc, nil
}

// Drop releases a closure handle. Every closure the bridge owns must be
// dropped on every code path, including error paths that short-circuit
// before the callback ever fires; calling Drop twice for the same handle
// is an error, not a no-op, so double-drop bugs surface immediately.
func (a *Arena) Drop(handle ClosureHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, ok := a.slots[handle.id]
	if !ok {
		return fmt.Errorf("ffi: closure handle %s not found or already dropped", handle)
	}
	if slot.generation != handle.generation {
		return fmt.Errorf("ffi: closure handle %s is stale (generation mismatch)", handle)
	}
	delete(a.slots, handle.id)
	return nil
}

// PendingCount reports the number of live (not-yet-dropped) closures, for
// leak diagnostics at shutdown.
func (a *Arena) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}
