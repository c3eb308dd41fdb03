// Package wireformat defines the JSON wire format structures exchanged
// across the FFI boundary between the host kernel and guest WASM code.
// These types are the ABI contract: every host-to-guest and guest-to-host
// call that carries structured data marshals through one of these shapes,
// so they must stay backward compatible once a guest bundle depends on them.
package wireformat

import (
	"fmt"
	"time"
)

// ContextWireFormat carries cancellation/deadline/correlation information
// across the FFI boundary, since a context.Context itself cannot cross it.
type ContextWireFormat struct {
	Deadline  *time.Time `json:"deadline,omitempty"`
	TimeoutMs int64      `json:"timeout_ms,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Cancelled bool       `json:"cancelled,omitempty"`
}

// ErrorDetail is the structured error shape returned to guest code on any
// host service failure. Type is one of "network", "timeout", "config",
// "capability", "validation", "internal".
type ErrorDetail struct {
	Message    string       `json:"message"`
	Type       string       `json:"type"`
	Code       string       `json:"code,omitempty"`
	IsTimeout  bool         `json:"is_timeout,omitempty"`
	IsNotFound bool         `json:"is_not_found,omitempty"`
	Wrapped    *ErrorDetail `json:"wrapped,omitempty"`
}

// Error implements the error interface for ErrorDetail.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped.Error())
	}
	return msg
}

// HTTPRequestWire is the guest-to-host request for the async HTTP façade
// (§4.5). The guest supplies a closure handle pair for completion.
type HTTPRequestWire struct {
	Context        ContextWireFormat   `json:"context"`
	Method         string              `json:"method"`
	URL            string              `json:"url"`
	Headers        map[string][]string `json:"headers,omitempty"`
	Body           string              `json:"body,omitempty"` // base64
	TimeoutMs      int64               `json:"timeout_ms,omitempty"`
	SuccessHandle  uint32              `json:"success_handle"`
	ErrorHandle    uint32              `json:"error_handle"`
	MaxBodyBytes   int64               `json:"max_body_bytes,omitempty"`
}

// HTTPResponseWire is the host-to-guest response, delivered through the
// success closure's argument buffer or, on failure, the error closure's.
type HTTPResponseWire struct {
	RequestHandle uint32              `json:"request_handle"`
	StatusCode    int                 `json:"status_code"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          string              `json:"body,omitempty"` // base64
	BodyTruncated bool                `json:"body_truncated,omitempty"`
	Error         *ErrorDetail        `json:"error,omitempty"`
}

// WebSocketCreateWire is the guest-to-host request to open a socket
// (§4.5 WebSocket.create).
type WebSocketCreateWire struct {
	Context       ContextWireFormat `json:"context"`
	URL           string            `json:"url"`
	Protocols     []string          `json:"protocols,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	SuccessHandle uint32            `json:"success_handle"`
	ErrorHandle   uint32            `json:"error_handle"`
}

// WebSocketSendWire is the guest-to-host request to send a message on an
// already-connected socket.
type WebSocketSendWire struct {
	SocketHandle  uint32 `json:"socket_handle"`
	Message       string `json:"message"` // base64
	MessageType   string `json:"message_type"` // "text" | "binary"
	SuccessHandle uint32 `json:"success_handle"`
	ErrorHandle   uint32 `json:"error_handle"`
}

// WebSocketEventWire is pushed to the guest on a read (begin_read/end_read
// cycle, §4.5); it is also the shape delivered to the error closure on
// send failure, with Error set and Message empty.
type WebSocketEventWire struct {
	SocketHandle uint32       `json:"socket_handle"`
	Message      string       `json:"message,omitempty"` // base64
	MessageType  string       `json:"message_type,omitempty"`
	ClosedReason string       `json:"closed_reason,omitempty"` // "closed_by_user" | "closed_by_peer" | ""
	Error        *ErrorDetail `json:"error,omitempty"`
}

// EventWire is one entry in the per-frame event ring the guest drains via
// read_events (§4.5, §4.6). The last event of every batch is always a
// "time" event.
type EventWire struct {
	Type      string              `json:"type"` // "input" | "time" | "background" | "foreground" | "websocket"
	TimeNowMs int64               `json:"time_now_ms,omitempty"`
	Input     *InputEventWire     `json:"input,omitempty"`
	WebSocket *WebSocketEventWire `json:"websocket,omitempty"`
}

// InputEventWire describes a single input event payload.
type InputEventWire struct {
	Device string  `json:"device"` // "pointer" | "key" | "gamepad"
	Code   int32   `json:"code"`
	Value  float32 `json:"value"`
}

// JSONDecodeRequestWire is the guest-to-host request for schema-guided JSON
// decoding (§4.5 added façade), dispatched onto a thread-pool worker.
type JSONDecodeRequestWire struct {
	JSON          string `json:"json"`
	Schema        string `json:"schema"`
	SuccessHandle uint32 `json:"success_handle"`
	ErrorHandle   uint32 `json:"error_handle"`
}

// JSONDecodeResponseWire is the host-to-guest response for a completed
// schema-guided decode.
type JSONDecodeResponseWire struct {
	Valid  bool         `json:"valid"`
	Errors []string     `json:"errors,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// LogMessageWire is a guest-to-host structured log record.
type LogMessageWire struct {
	Context   ContextWireFormat `json:"context"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Attrs     []LogAttrWire     `json:"attrs,omitempty"`
}

// LogAttrWire is a single slog-style attribute attached to a log record.
type LogAttrWire struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}
