package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero/api"

	"github.com/sandboxrt/sandboxrt/internal/wasm"
	"github.com/sandboxrt/sandboxrt/internal/wasm/ffi"
)

// dispatchFuncName is the guest's fixed dispatcher export every WASM-mode
// closure handle resolves to (§4.4): the host always calls back through
// this one entry point, demuxed on the guest side by the handle it carries.
const dispatchFuncName = "ffi_dispatch"

// moduleMemory adapts a wazero api.Module's linear memory to
// ffi.MemorySource, so hostfuncs' guest-memory reads go through the same
// offset/length bounds checking the interpreter backend's TranslatePtr does.
type moduleMemory struct {
	mod api.Module
}

func (m moduleMemory) TranslatePtr(region wasm.MemoryRegion) ([]byte, bool) {
	return m.mod.Memory().Read(region.Offset, region.Length)
}

// readGuestBytes translates a packed ptr/len argument into a host-visible
// byte slice via ffi.RequirePointer, reporting an ErrorDetail instead of a
// Go error since a malformed request from the guest is a recoverable
// protocol violation, not a host fault.
func readGuestBytes(ctx context.Context, mod api.Module, packed uint64, what string) ([]byte, *ErrorDetail) {
	ptr, length := unpackPtrLen(packed)
	data, ok := ffi.RequirePointer(moduleMemory{mod: mod}, ptr, length)
	if !ok {
		errMsg := fmt.Sprintf("hostfuncs: failed to read %s from guest memory", what)
		slog.ErrorContext(ctx, errMsg)
		return nil, &ErrorDetail{Message: errMsg, Type: "internal"}
	}
	return data, nil
}

// completeAsync resolves exactly one of successHandle/errorHandle through
// closures, invokes the guest's dispatcher with the outcome payload, and
// drops both closures. Every call path that reached this point owns both
// handles and must drop both exactly once (§4.4) regardless of which one
// fires, so the unused half is dropped first and unconditionally.
func completeAsync(ctx context.Context, mod api.Module, closures *ffi.Arena, successHandle, errorHandle uint32, ok bool, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		errMsg := fmt.Sprintf("hostfuncs: failed to marshal closure payload: %v", err)
		slog.ErrorContext(ctx, errMsg)
		data, _ = json.Marshal(errorOnlyWire{Error: &ErrorDetail{Message: errMsg, Type: "internal"}})
		ok = false
	}

	fireHandle := errorHandle
	if ok {
		fireHandle = successHandle
	}

	// The arena's two handles stand in for the guest's success/error
	// closure pair purely so the exactly-one-fires/both-drop contract is
	// enforced host-side; the guest's own numeric handles are carried as
	// the dispatch argument, not looked up in the arena.
	fire := closures.RegisterWASM(dispatchFuncName)
	drop := closures.RegisterWASM(dispatchFuncName)

	if derr := closures.Drop(drop); derr != nil {
		slog.ErrorContext(ctx, "hostfuncs: drop unresolved closure", "error", derr)
	}

	if _, _, guestFunc, rerr := closures.Resolve(fire); rerr == nil {
		invokeGuestDispatcher(ctx, mod, guestFunc, fireHandle, data)
	} else {
		slog.ErrorContext(ctx, "hostfuncs: resolve closure for dispatch", "error", rerr)
	}

	if derr := closures.Drop(fire); derr != nil {
		slog.ErrorContext(ctx, "hostfuncs: drop fired closure", "error", derr)
	}
}

// invokeGuestDispatcher calls the guest's dispatcher export with the
// resolved handle and a freshly allocated guest buffer holding payload.
func invokeGuestDispatcher(ctx context.Context, mod api.Module, guestFunc string, handle uint32, payload []byte) {
	fn := mod.ExportedFunction(guestFunc)
	if fn == nil {
		slog.ErrorContext(ctx, "hostfuncs: guest dispatcher not exported", "func", guestFunc)
		return
	}
	allocateFn := mod.ExportedFunction("allocate")
	if allocateFn == nil {
		slog.ErrorContext(ctx, "hostfuncs: guest module does not export allocate()")
		return
	}

	results, err := allocateFn.Call(ctx, uint64(len(payload)))
	if err != nil || len(results) == 0 {
		slog.ErrorContext(ctx, "hostfuncs: failed to allocate guest buffer for closure payload", "error", err)
		return
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: wasm32 pointers are always 32-bit

	if !mod.Memory().Write(ptr, payload) {
		slog.ErrorContext(ctx, "hostfuncs: failed to write closure payload into guest memory")
		return
	}

	if _, err := fn.Call(ctx, uint64(handle), packPtrLen(ptr, uint32(len(payload)))); err != nil { //nolint:gosec // G115: guest allocations are bounded to 4GB
		slog.ErrorContext(ctx, "hostfuncs: guest dispatcher call failed", "func", guestFunc, "error", err)
	}
}
