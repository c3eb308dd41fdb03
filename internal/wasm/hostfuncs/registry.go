package hostfuncs

import (
	"context"

	"github.com/sandboxrt/sandboxrt/internal/capabilities"
	"github.com/sandboxrt/sandboxrt/internal/memory"
	"github.com/sandboxrt/sandboxrt/internal/wasm/ffi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// httpHeapStagingBytes sizes the host-side bounce-buffer heap HTTP
// responses stage through before their body is marshaled into the guest's
// success/error closure payload (§4.1's HTTP heap).
const httpHeapStagingBytes = 16 * 1024 * 1024

// RegisterHostFunctions registers the host function surface a guest
// application imports under the "sandboxrt_host" module namespace: HTTP,
// WebSocket, JSON schema-guided decode, and structured logging.
//
// guardPageMode mirrors config.SysParams.GuardPageMode ("enabled" |
// "minimal" | "disabled") and governs the HTTP staging heap's guard-page
// escort, the same way wasm.LoadOptions.GuardPageMode governs the WASM
// heap's.
func RegisterHostFunctions(ctx context.Context, runtime wazero.Runtime, granted capabilities.Grant, dialer WebSocketDialer, guardPageMode string) (*WebSocketTicker, error) {
	checker := NewCapabilityChecker(granted)
	sockets := newSocketRegistry()
	closures := ffi.NewArena()

	mode := memory.GuardPageMode(guardPageMode)
	switch mode {
	case memory.GuardPageEnabled, memory.GuardPageMinimal, memory.GuardPageDisabled:
	default:
		mode = memory.GuardPageMinimal
	}
	httpRegion, err := memory.MapPages(httpHeapStagingBytes, mode != memory.GuardPageDisabled)
	if err != nil {
		return nil, err
	}
	httpHeap := memory.NewHeap(httpRegion, 8, 16, "http-heap")

	builder := runtime.NewHostModuleBuilder("sandboxrt_host")

	// http_request(requestPacked i64) -> responsePacked i64
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			HTTPRequest(ctx, mod, stack, checker, closures, httpHeap)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("http_request")

	// websocket_create(requestPacked i64) -> responsePacked i64
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			WebSocketCreate(ctx, mod, stack, checker, dialer, sockets, closures)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("websocket_create")

	// websocket_send(requestPacked i64) -> responsePacked i64
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			WebSocketSend(ctx, mod, stack, sockets, closures)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("websocket_send")

	// json_decode(requestPacked i64) -> responsePacked i64
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			JSONDecode(ctx, mod, stack)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("json_decode")

	// log_message(messagePacked i64) -> ()
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			LogMessage(ctx, mod, stack)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("log_message")

	if _, err := builder.Instantiate(ctx); err != nil {
		return nil, err
	}

	return newWebSocketTicker(sockets), nil
}
