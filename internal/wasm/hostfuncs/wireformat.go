package hostfuncs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sandboxrt/sandboxrt/wireformat"
	"github.com/tetratelabs/wazero/api"
)

type (
	// ContextWireFormat is a re-export of wireformat.ContextWireFormat
	ContextWireFormat = wireformat.ContextWireFormat
	// HTTPRequestWire is a re-export of wireformat.HTTPRequestWire
	HTTPRequestWire = wireformat.HTTPRequestWire
	// HTTPResponseWire is a re-export of wireformat.HTTPResponseWire
	HTTPResponseWire = wireformat.HTTPResponseWire
	// WebSocketCreateWire is a re-export of wireformat.WebSocketCreateWire
	WebSocketCreateWire = wireformat.WebSocketCreateWire
	// WebSocketSendWire is a re-export of wireformat.WebSocketSendWire
	WebSocketSendWire = wireformat.WebSocketSendWire
	// WebSocketEventWire is a re-export of wireformat.WebSocketEventWire
	WebSocketEventWire = wireformat.WebSocketEventWire
	// EventWire is a re-export of wireformat.EventWire
	EventWire = wireformat.EventWire
	// JSONDecodeRequestWire is a re-export of wireformat.JSONDecodeRequestWire
	JSONDecodeRequestWire = wireformat.JSONDecodeRequestWire
	// JSONDecodeResponseWire is a re-export of wireformat.JSONDecodeResponseWire
	JSONDecodeResponseWire = wireformat.JSONDecodeResponseWire
	// ErrorDetail is a re-export of wireformat.ErrorDetail
	ErrorDetail = wireformat.ErrorDetail
)

// errorOnlyWire is the fallback envelope used when a façade must report a
// failure but does not otherwise have a typed response wrapper at hand.
type errorOnlyWire struct {
	Error *ErrorDetail `json:"error,omitempty"`
}

// createContextFromWire creates a new context from the wire format.
func createContextFromWire(parentCtx context.Context, wireCtx ContextWireFormat) (context.Context, context.CancelFunc) {
	if wireCtx.Cancelled {
		slog.Warn("hostfuncs: received already cancelled context from guest")
		ctx, cancel := context.WithCancel(parentCtx)
		cancel()
		return ctx, cancel
	}

	if wireCtx.Deadline != nil && !wireCtx.Deadline.IsZero() {
		return context.WithDeadline(parentCtx, *wireCtx.Deadline)
	}

	if wireCtx.TimeoutMs > 0 {
		return context.WithTimeout(parentCtx, time.Duration(wireCtx.TimeoutMs)*time.Millisecond)
	}

	return context.WithCancel(parentCtx)
}

// toErrorDetail converts a Go error to our structured ErrorDetail.
func toErrorDetail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}

	detail := &ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		detail.Type = "network"
		if dnsErr.IsTimeout {
			detail.Type = "timeout"
			detail.IsTimeout = true
		}
		if dnsErr.IsNotFound {
			detail.IsNotFound = true
		}
	}

	return detail
}

// hostWriteResponse writes the JSON response to guest memory and returns a
// packed ptr+len value.
func hostWriteResponse(ctx context.Context, mod api.Module, response interface{}) uint64 {
	data, err := json.Marshal(response)
	if err != nil {
		errMsg := fmt.Sprintf("hostfuncs: failed to marshal response: %v", err)
		slog.ErrorContext(ctx, errMsg)
		data, _ = json.Marshal(errorOnlyWire{Error: &ErrorDetail{Message: errMsg, Type: "internal"}})
	}

	allocateFn := mod.ExportedFunction("allocate")
	if allocateFn == nil {
		slog.ErrorContext(ctx, "hostfuncs: guest module does not export allocate()")
		return 0
	}
	results, err := allocateFn.Call(ctx, uint64(len(data)))
	if err != nil {
		slog.ErrorContext(ctx, "hostfuncs: critical - failed to call guest allocate function", "error", err)
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: wasm32 pointers are always 32-bit

	mod.Memory().Write(ptr, data)

	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: guest allocations are bounded to 4GB
}

// packPtrLen and unpackPtrLen implement the ABI's single-i64 pointer
// packing convention: (ptr<<32)|length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32) //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed)    //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}
