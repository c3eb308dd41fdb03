package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tetratelabs/wazero"

	"github.com/sandboxrt/sandboxrt/internal/bundle"
	"github.com/sandboxrt/sandboxrt/internal/cache"
	"github.com/sandboxrt/sandboxrt/internal/capabilities"
	"github.com/sandboxrt/sandboxrt/internal/config"
	"github.com/sandboxrt/sandboxrt/internal/extensions"
	"github.com/sandboxrt/sandboxrt/internal/hostservices"
	"github.com/sandboxrt/sandboxrt/internal/manifest"
	"github.com/sandboxrt/sandboxrt/internal/orchestrator"
	"github.com/sandboxrt/sandboxrt/internal/reporting"
	"github.com/sandboxrt/sandboxrt/internal/runtimectx"
	"github.com/sandboxrt/sandboxrt/internal/splash"
	"github.com/sandboxrt/sandboxrt/internal/wasm"
	"github.com/sandboxrt/sandboxrt/internal/wasm/hostfuncs"
)

// frameInterval is the fixed tick rate the render-or-sleep stage runs at
// when no real render device is attached to pace it.
const frameInterval = 16 * time.Millisecond

// runApp is rootCmd's RunE: it resolves a guest application's bytes
// (directly, from a local bundle, or through the persona/manifest
// pipeline), loads it behind the host function surface, and drives it
// through the frame pipeline until interrupted.
func runApp(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := cmd.Flags()
	wasmPath, _ := flags.GetString("wasm")
	bundlePath, _ := flags.GetString("bundle")
	extensionPaths, _ := flags.GetStringSlice("extensions")
	noAppLoad, _ := flags.GetBool("no-app-load")
	skipSignature, _ := flags.GetBool("skip-signature")

	builder := runtimectx.NewBuilder(runtimectx.Options{
		ThreadPoolWorkers: config.Default().SysParams.ThreadPoolThreadCount,
	})
	rc, err := builder.Build(ctx)
	if err != nil {
		return newExitError(exitCodeSubsystemInitFailure, fmt.Errorf("init subsystems: %w", err))
	}
	defer rc.Shutdown()

	wasmBytes, handle, manifestRuntimeConfig, loadErr := resolveGuestBytes(ctx, flags, wasmPath, bundlePath, skipSignature)
	if loadErr != nil {
		return enterSplashAndFail(handle, loadErr, exitCodeWASMLoadFailure)
	}
	if handle != nil {
		defer handle.Close()
	}

	if noAppLoad {
		slog.Info("bundle resolved and verified, app load skipped per --no-app-load")
		return nil
	}

	var bundleRuntimeConfig []byte
	if handle != nil {
		bundleRuntimeConfig, err = handle.Config()
		if err != nil {
			return newExitError(exitCodeWASMLoadFailure, fmt.Errorf("reading bundle runtime config: %w", err))
		}
	}

	granted := capabilities.NewGrant()
	loader := newExtensionLoader(granted)

	var loadedExtensions []extensions.Loaded
	for _, path := range extensionPaths {
		l, err := loader.Load(path)
		if err != nil {
			return newExitError(exitCodeExtensionFailure, fmt.Errorf("loading extension %s: %w", path, err))
		}
		loadedExtensions = append(loadedExtensions, l)
	}
	extManager := extensions.NewManager(loadedExtensions)

	return runPipeline(ctx, rc, wasmBytes, granted, extManager, bundleRuntimeConfig, manifestRuntimeConfig)
}

// newExtensionLoader builds a Loader backed by an interactive huh
// confirmation prompt when stdin is a terminal, and a fail-closed
// non-interactive loader otherwise.
func newExtensionLoader(granted capabilities.Grant) *extensions.Loader {
	if extensions.IsInteractive() {
		return extensions.NewLoader(granted, extensions.NewHuhPrompter())
	}
	return extensions.NewLoader(granted, nil)
}

// resolveGuestBytes picks the guest WASM bytes up through whichever
// source the flags name: a raw module, a local bundle archive, or the
// persona/manifest resolution pipeline. handle is non-nil only when a
// bundle was opened and must be closed by the caller. The returned
// manifestRuntimeConfig is the resolved manifest option's runtime_config
// overlay (nil unless the persona/manifest path was used), the highest
// precedence layer in the config overlay chain (§3).
func resolveGuestBytes(ctx context.Context, flags *pflag.FlagSet, wasmPath, bundlePath string, skipSignature bool) ([]byte, *bundle.Handle, []byte, error) {
	if wasmPath != "" {
		data, err := os.ReadFile(wasmPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading %s: %w", wasmPath, err)
		}
		return data, nil, nil, nil
	}

	if bundlePath != "" {
		f, err := os.Open(bundlePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening bundle %s: %w", bundlePath, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, nil, err
		}
		archive, err := bundle.OpenZipArchive(f, info.Size(), f)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening bundle archive %s: %w", bundlePath, err)
		}
		h := bundle.NewHandle(archive)
		wasmBytes, err := h.WASMBytes()
		if err != nil {
			h.Close()
			return nil, nil, nil, fmt.Errorf("reading wasm module from bundle: %w", err)
		}
		return wasmBytes, h, nil, nil
	}

	return resolveGuestBytesFromManifest(ctx, flags, skipSignature)
}

func resolveGuestBytesFromManifest(ctx context.Context, flags *pflag.FlagSet, skipSignature bool) ([]byte, *bundle.Handle, []byte, error) {
	personaFilePath, _ := flags.GetString("persona-file")
	personaID, _ := flags.GetString("persona-id")
	if personaFilePath == "" || personaID == "" {
		return nil, nil, nil, fmt.Errorf("no guest source given: pass --wasm, --bundle, or --persona-file with --persona-id")
	}

	personaData, err := os.ReadFile(personaFilePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading persona file %s: %w", personaFilePath, err)
	}
	persona, err := manifest.ParsePersonaFile(personaData)
	if err != nil {
		return nil, nil, nil, err
	}

	cacheDir := viper.GetString("cache_dir")
	if cacheDir == "" {
		cacheDir = os.TempDir() + "/sandboxrt-cache"
	}
	store, err := cache.NewStore(cacheDir, cache.DefaultRetryPolicy(), slog.Default())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening cache store: %w", err)
	}

	resolver := manifest.NewResolver(store, "sandboxrt", buildVersion(), slog.Default())
	deviceID := viper.GetString("device_id")
	resolution, err := resolver.Resolve(ctx, persona, personaID, manifest.DeviceMetrics{DeviceID: deviceID})
	if err != nil {
		return nil, nil, nil, err
	}

	ref := resolution.Variant.Resource()
	var bundleBytes []byte
	if skipSignature {
		fetcher := cache.FetcherFor(ref, nil)
		entry, err := store.Fetch(ctx, ref, fetcher, false)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("fetching bundle %s: %w", ref, err)
		}
		bundleBytes, err = entry.ReadAll()
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		signatureKey := viper.GetString("signature_key")
		fetchCfg := config.Default().SysParams.BundleFetch
		bundleBytes, err = bundle.FetchAndVerify(ctx, store, ref, signatureKey, resolution.Variant.Signature,
			fetchCfg.RetryMaxAttempts, time.Duration(fetchCfg.RetryBackoffMs)*time.Millisecond, slog.Default())
		if err != nil {
			return nil, nil, nil, err
		}
	}

	h, err := bundle.OpenFromBytes(bundleBytes)
	if err != nil {
		return nil, nil, nil, err
	}
	wasmBytes, err := h.WASMBytes()
	if err != nil {
		h.Close()
		return nil, nil, nil, err
	}
	return wasmBytes, h, resolution.Option.RuntimeConfig, nil
}

// enterSplashAndFail resolves the error-splash state for a terminal
// load failure, logs it, and returns the exit error that ends the
// process with code.
func enterSplashAndFail(handle *bundle.Handle, cause error, code int) error {
	s, splashErr := splash.Resolve(handle, cause.Error())
	if splashErr == nil {
		slog.Error("terminal load failure, showing splash", "state", s.State.String(), "message", s.Message, "cause", cause)
	}
	return newExitError(code, cause)
}

func buildVersion() string {
	return version
}

// runPipeline drives the frame loop until ctx is canceled (SIGINT/
// SIGTERM), wiring the thread pool/HTTP pump/extension manager/
// reporting instance already built into rc as the orchestrator's
// Pipeline stages. bundleRuntimeConfig and manifestRuntimeConfig are
// overlaid onto config.Default() in that order, per §3's fixed
// precedence (manifest runtime_config wins over bundle embedded config
// wins over defaults) before the guest module is loaded.
func runPipeline(ctx context.Context, rc *runtimectx.Context, wasmBytes []byte, granted capabilities.Grant, extManager *extensions.Manager, bundleRuntimeConfig, manifestRuntimeConfig []byte) error {
	loadCfg, err := config.Overlay(config.Default(), bundleRuntimeConfig)
	if err != nil {
		return newExitError(exitCodeAppInitFailure, fmt.Errorf("applying bundle runtime config: %w", err))
	}
	loadCfg, err = config.Overlay(loadCfg, manifestRuntimeConfig)
	if err != nil {
		return newExitError(exitCodeAppInitFailure, fmt.Errorf("applying manifest runtime config: %w", err))
	}

	var wsTicker *hostfuncs.WebSocketTicker
	backend := wasm.NewWazeroBackend(wasm.BackendOptions{
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
		RegisterHostFuncs: registerHostFuncsFor(granted, loadCfg.SysParams.GuardPageMode, &wsTicker),
	})

	if err := backend.Load(ctx, wasmBytes, wasm.LoadOptions{
		GuardPageMode:  loadCfg.SysParams.GuardPageMode,
		MemoryPages:    16,
		CallInitialize: true,
	}); err != nil {
		return newExitError(exitCodeAppInitFailure, fmt.Errorf("loading guest module: %w", err))
	}
	defer backend.Close(context.WithoutCancel(ctx))

	if err := extManager.Startup(ctx); err != nil {
		return newExitError(exitCodeExtensionFailure, fmt.Errorf("starting extensions: %w", err))
	}
	defer func() {
		for _, shutdownErr := range extManager.Shutdown(context.WithoutCancel(ctx)) {
			slog.Error("extension shutdown failed", "error", shutdownErr)
		}
	}()

	events := hostservices.NewEventRing()
	if wsTicker != nil {
		wsTicker.Attach(events)
	}
	writeBudget := hostservices.NewWriteBudget(1024 * 1024)

	pipeline := &orchestrator.Pipeline{
		ThreadPool:  rc.ThreadPool,
		HTTP:        rc.HTTP,
		WebSocket:   wsTicker,
		Extensions:  extManager,
		Reporting:   rc.Reporting,
		Guest:       guestTicker{backend: backend},
		Events:      events,
		WriteBudget: writeBudget,
		Present:     func(context.Context) error { return nil },
		Sleep:       time.Sleep,
	}

	frame := &orchestrator.Frame{Now: time.Now()}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := pipeline.RunFrame(ctx, frame); err != nil {
				reportGuestTrap(rc.Reporting, backend, err)
				return newExitError(exitCodeAppShutdownFailure, err)
			}
			rc.NextFrame()
		}
	}
}

// guestTicker adapts a wasm.Interpreter to orchestrator.GuestTicker by
// invoking the guest's exported tick function with the frame's clock
// values, per the tick(nowMs, deltaSeconds) call_SIG convention.
type guestTicker struct {
	backend *wasm.WazeroBackend
}

func (g guestTicker) Tick(ctx context.Context, nowMs int64, deltaSeconds float64) error {
	result, _ := g.backend.Call(ctx, "tick", uint64(nowMs), uint64(deltaSeconds*1000))
	if !result.Ok() {
		return fmt.Errorf("guest tick trapped: %s (%s)", result.Details, result.Status)
	}
	return nil
}

func reportGuestTrap(r *reporting.Reporter, backend *wasm.WazeroBackend, cause error) {
	if r == nil {
		return
	}
	message := cause.Error()
	callstack := backend.GetCallstack()
	if diag, ok := backend.LastDiagnostic(); ok {
		message = diag.Error
		if len(callstack) == 0 {
			slog.Debug("guest trap stack trace", "stack_trace", diag.StackTrace)
		}
	}
	r.RecordGuestTrap(message, callstack, "unknown_failure")
}

// registerHostFuncsFor builds the host function registerer called during
// backend.Load, storing the concrete WebSocketTicker it gets back into
// *tickerOut so the caller can wire it into the frame pipeline once Load
// returns.
func registerHostFuncsFor(granted capabilities.Grant, guardPageMode string, tickerOut **hostfuncs.WebSocketTicker) wasm.HostFuncRegisterer {
	dialer := noopWebSocketDialer{}
	return func(ctx context.Context, r wazero.Runtime) error {
		ticker, err := hostfuncs.RegisterHostFunctions(ctx, r, granted, dialer, guardPageMode)
		if err != nil {
			return err
		}
		*tickerOut = ticker
		return nil
	}
}

// noopWebSocketDialer backs the websocket_create host function on hosts
// that have not wired a real transport; capability-gated calls still
// fail cleanly instead of panicking on a nil dialer.
type noopWebSocketDialer struct{}

func (noopWebSocketDialer) Dial(_ context.Context, _ hostfuncs.WebSocketCreateWire) (hostfuncs.Socket, error) {
	return nil, fmt.Errorf("websocket transport not configured on this host")
}
