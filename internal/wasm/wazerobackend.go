package wasm

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/sandboxrt/sandboxrt/internal/memory"
	"github.com/sandboxrt/sandboxrt/internal/wasm/ffi"
)

// wasmHeapStagingBytes sizes the host-side bookkeeping heap mirroring the
// guest's allocate()/deallocate() exports. wazero owns the guest's actual
// linear memory directly; this heap never backs guest reads or writes, it
// only tracks outstanding allocations for leak reporting and guard-page
// corruption checks the same way the teacher's native allocator does.
const wasmHeapStagingBytes = 16 * 1024 * 1024

// globalCache speeds up compilation across runtimes within a single process.
var globalCache = wazero.NewCompilationCache()

// CloseGlobalCache releases resources held by the global compilation cache.
// Only needed for long-running processes during graceful shutdown.
func CloseGlobalCache(ctx context.Context) error {
	return globalCache.Close(ctx)
}

// HostFuncRegisterer registers the host function surface a guest module can
// import. Kept as an interface so the ffi package's call dispatch machinery
// doesn't create an import cycle with this package.
type HostFuncRegisterer func(ctx context.Context, r wazero.Runtime) error

// WazeroBackend is the wazero-backed Interpreter implementation. One
// instance corresponds to one loaded guest application; it is not a
// multi-module registry.
type WazeroBackend struct {
	runtime  wazero.Runtime
	module   wazero.CompiledModule
	instance api.Module

	mu sync.Mutex

	stdout, stderr io.Writer
	memoryLimitMB  int

	registerHostFuncs HostFuncRegisterer

	guardMode   memory.GuardPageMode
	wasmRegion  *memory.Region
	wasmHeap    *memory.Heap
	heapOffsets map[uint32]int

	diag ffi.DiagnosticSlot
}

// BackendOptions configures a WazeroBackend before Load is called.
type BackendOptions struct {
	MemoryLimitMB     int // 0 = default 256MB, -1 = unlimited, >0 = explicit
	Stdout, Stderr    io.Writer
	RegisterHostFuncs HostFuncRegisterer
}

// NewWazeroBackend constructs an unloaded backend. Call Load to compile and
// instantiate a guest module.
func NewWazeroBackend(opts BackendOptions) *WazeroBackend {
	return &WazeroBackend{
		stdout:            opts.Stdout,
		stderr:            opts.Stderr,
		memoryLimitMB:     opts.MemoryLimitMB,
		registerHostFuncs: opts.RegisterHostFuncs,
	}
}

var _ Interpreter = (*WazeroBackend)(nil)

func (b *WazeroBackend) Load(ctx context.Context, wasmBytes []byte, opts LoadOptions) error {
	memoryLimitMB := b.memoryLimitMB
	switch {
	case memoryLimitMB == 0:
		memoryLimitMB = 256
	case memoryLimitMB == -1:
		slog.Warn("wasm memory limit disabled (unlimited memory)")
	case memoryLimitMB < 0:
		return fmt.Errorf("invalid wasm memory limit: %d", memoryLimitMB)
	}

	config := wazero.NewRuntimeConfig().WithCompilationCache(globalCache)
	if memoryLimitMB > 0 {
		pages := uint32(memoryLimitMB * 16) //nolint:gosec // G115: bounded by validated memoryLimitMB
		config = config.WithMemoryLimitPages(pages)
	}
	if opts.MemoryPages > 0 {
		config = config.WithMemoryLimitPages(opts.MemoryPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, config)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return fmt.Errorf("instantiate wasi: %w", err)
	}
	if b.registerHostFuncs != nil {
		if err := b.registerHostFuncs(ctx, r); err != nil {
			_ = r.Close(ctx)
			return fmt.Errorf("register host functions: %w", err)
		}
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return fmt.Errorf("compile guest module: %w", err)
	}

	modConfig := wazero.NewModuleConfig().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)
	if b.stdout != nil {
		modConfig = modConfig.WithStdout(b.stdout)
	}
	if b.stderr != nil {
		modConfig = modConfig.WithStderr(b.stderr)
	}

	instance, err := r.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		_ = r.Close(ctx)
		return fmt.Errorf("instantiate guest module: %w", err)
	}

	if opts.CallInitialize {
		if initFn := instance.ExportedFunction("_initialize"); initFn != nil {
			if _, err := initFn.Call(ctx); err != nil {
				_ = instance.Close(ctx)
				_ = r.Close(ctx)
				return fmt.Errorf("_initialize: %w", err)
			}
		}
	}

	guardMode := memory.GuardPageMode(opts.GuardPageMode)
	switch guardMode {
	case memory.GuardPageEnabled, memory.GuardPageMinimal, memory.GuardPageDisabled:
	default:
		guardMode = memory.GuardPageMinimal
	}
	region, err := memory.MapPages(wasmHeapStagingBytes, guardMode != memory.GuardPageDisabled)
	if err != nil {
		_ = instance.Close(ctx)
		_ = r.Close(ctx)
		return fmt.Errorf("map wasm heap staging region: %w", err)
	}

	b.runtime = r
	b.module = compiled
	b.instance = instance
	b.guardMode = guardMode
	b.wasmRegion = region
	b.wasmHeap = memory.NewHeap(region, 8, 16, "wasm-heap")
	b.heapOffsets = make(map[uint32]int)
	return nil
}

func (b *WazeroBackend) Unload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.instance != nil {
		err = b.instance.Close(ctx)
		b.instance = nil
	}
	if b.wasmHeap != nil {
		if leaked := b.wasmHeap.LeakReport(); len(leaked) > 0 {
			slog.Warn("wasm heap: outstanding allocations at unload", "tags", leaked)
		}
	}
	if b.wasmRegion != nil {
		if !b.wasmRegion.CheckGuards() {
			slog.Error("wasm heap: guard pages corrupted at unload")
		}
		b.wasmRegion.UnmapPages()
		b.wasmRegion = nil
	}
	b.wasmHeap = nil
	b.heapOffsets = nil
	return err
}

func (b *WazeroBackend) Close(ctx context.Context) error {
	_ = b.Unload(ctx)
	if b.runtime != nil {
		return b.runtime.Close(ctx)
	}
	return nil
}

func (b *WazeroBackend) TranslatePtr(region MemoryRegion) ([]byte, bool) {
	if b.instance == nil {
		return nil, false
	}
	return b.instance.Memory().Read(region.Offset, region.Length)
}

func (b *WazeroBackend) GetCallstack() []Frame {
	// wazero does not expose a live guest call stack once a function call
	// has returned; a crash/trap's frames are captured at the moment of
	// the call in Call below, via the originating experimental listener
	// hook is not wired here, so this reports the top-level entry only.
	return nil
}

func (b *WazeroBackend) Allocate(ctx context.Context, size uint32) (uint32, error) {
	if b.instance == nil {
		return 0, fmt.Errorf("module not loaded")
	}
	fn := b.instance.ExportedFunction("allocate")
	if fn == nil {
		return 0, fmt.Errorf("guest module does not export allocate()")
	}
	results, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("allocate(%d): %w", size, err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("allocate() returned no results")
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: wasm32 pointers are 32-bit

	b.mu.Lock()
	if b.wasmHeap != nil {
		if offset := b.wasmHeap.Alloc(int(size), "guest-allocate"); offset >= 0 {
			b.heapOffsets[ptr] = offset
		}
		if b.guardMode == memory.GuardPageEnabled && !b.wasmRegion.CheckGuards() {
			slog.Error("wasm heap: guard pages corrupted after allocate", "ptr", ptr, "size", size)
		}
	}
	b.mu.Unlock()

	return ptr, nil
}

func (b *WazeroBackend) Deallocate(ctx context.Context, ptr, size uint32) error {
	if b.instance == nil {
		return fmt.Errorf("module not loaded")
	}

	b.mu.Lock()
	if b.wasmHeap != nil {
		if offset, ok := b.heapOffsets[ptr]; ok {
			b.wasmHeap.Free(offset)
			delete(b.heapOffsets, ptr)
		}
		if b.guardMode == memory.GuardPageEnabled && !b.wasmRegion.CheckGuards() {
			slog.Error("wasm heap: guard pages corrupted before deallocate", "ptr", ptr, "size", size)
		}
	}
	b.mu.Unlock()

	fn := b.instance.ExportedFunction("deallocate")
	if fn == nil {
		return nil
	}
	_, err := fn.Call(ctx, uint64(ptr), uint64(size))
	return err
}

// Call dispatches one call_SIG invocation by exported function name. Traps
// and missing-function conditions are translated into a CallResult rather
// than a Go error, since a guest failing to export or trapping inside a
// function is an expected, recoverable runtime event.
func (b *WazeroBackend) Call(ctx context.Context, funcName string, args ...uint64) (CallResult, []uint64) {
	if b.instance == nil {
		return CallResult{Status: CallStatusUnknownFailure, Details: "module not loaded", FuncName: funcName}, nil
	}
	fn := b.instance.ExportedFunction(funcName)
	if fn == nil {
		return CallResult{Status: CallStatusFunctionNotFound, FuncName: funcName}, nil
	}

	results, err := fn.Call(ctx, args...)
	if err != nil {
		status := CallStatusUnknownFailure
		msg := err.Error()
		switch {
		case strings.Contains(msg, "unreachable"):
			status = CallStatusUnreachableExecuted
		case strings.Contains(msg, "out of bounds memory access"):
			status = CallStatusOutOfBoundsMemoryAccess
		}
		b.diag.Capture(msg, renderCallstack(b.GetCallstack(), funcName))
		return CallResult{Status: status, Details: msg, FuncName: funcName}, nil
	}

	return CallResult{Status: CallStatusSuccess, FuncName: funcName}, results
}

// LastDiagnostic returns the most recently captured guest-trap diagnostic,
// for error-reporting callers that want the stack trace alongside the
// CallResult a failed Call already returned.
func (b *WazeroBackend) LastDiagnostic() (ffi.Diagnostic, bool) {
	return b.diag.GetWasmErrorAndStackTrace()
}

func renderCallstack(frames []Frame, funcName string) string {
	if len(frames) == 0 {
		return funcName
	}
	var b strings.Builder
	for i, f := range frames {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s+%d", f.FuncName, f.Offset)
	}
	return b.String()
}
