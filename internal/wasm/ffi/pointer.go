package ffi

import "github.com/sandboxrt/sandboxrt/internal/wasm"

// MemorySource abstracts the interpreter backend's linear memory just
// enough for pointer translation: a guest-space offset maps to a
// host-addressable byte slice, or ok=false if the offset plus length
// falls outside the current memory.
type MemorySource interface {
	TranslatePtr(region wasm.MemoryRegion) ([]byte, bool)
}

// TranslateGuestToHost maps a guest-space offset into the current linear
// memory. Offset 0 always maps to null (no bytes, ok=true), matching the
// vtable contract that a null guest pointer is a legal, non-erroring
// input.
func TranslateGuestToHost(mem MemorySource, offset, length uint32) ([]byte, bool) {
	if offset == 0 {
		return nil, true
	}
	return mem.TranslatePtr(wasm.MemoryRegion{Offset: offset, Length: length})
}

// RequirePointer is the argument-layout thunk's pointer-argument step: it
// translates a non-null offset and reports out_of_bounds_memory_access
// semantics (via ok=false) if the offset is non-null but translation
// fails.
func RequirePointer(mem MemorySource, offset, length uint32) (data []byte, ok bool) {
	if offset == 0 {
		return nil, true
	}
	data, ok = mem.TranslatePtr(wasm.MemoryRegion{Offset: offset, Length: length})
	return data, ok
}
