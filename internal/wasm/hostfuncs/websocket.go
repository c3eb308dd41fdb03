package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	"github.com/sandboxrt/sandboxrt/internal/wasm/ffi"
)

// socketRegistry tracks open WebSocket connections so send() calls can look
// up the connection their handle refers to. The actual network transport is
// provided by whatever implements Socket; tests substitute a fake.
type socketRegistry struct {
	mu      sync.Mutex
	sockets map[uint32]Socket
	nextID  uint32
}

// Socket is the minimal transport a registered WebSocket connection must
// support.
type Socket interface {
	Send(messageType string, payload []byte) error
	Close() error
	// Poll returns the next buffered inbound message or close notification
	// for this socket without blocking. ok is false when nothing is
	// pending; Poll never blocks the frame pipeline waiting on the network.
	Poll() (WebSocketEventWire, bool)
}

func newSocketRegistry() *socketRegistry {
	return &socketRegistry{sockets: make(map[uint32]Socket)}
}

func (r *socketRegistry) register(s Socket) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := atomic.AddUint32(&r.nextID, 1)
	r.sockets[id] = s
	return id
}

func (r *socketRegistry) get(handle uint32) (Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sockets[handle]
	return s, ok
}

func (r *socketRegistry) remove(handle uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sockets, handle)
}

// forEach invokes fn for every socket registered at the time of the call,
// over a snapshot so fn is free to call remove without deadlocking.
func (r *socketRegistry) forEach(fn func(handle uint32, s Socket)) {
	r.mu.Lock()
	snapshot := make(map[uint32]Socket, len(r.sockets))
	for handle, s := range r.sockets {
		snapshot[handle] = s
	}
	r.mu.Unlock()

	for handle, s := range snapshot {
		fn(handle, s)
	}
}

// WebSocketDialer opens a connection for a WebSocketCreateWire request. The
// concrete implementation lives in the host services layer; this package
// only needs the narrow interface to stay free of a net/http dependency on
// a specific client library.
type WebSocketDialer interface {
	Dial(ctx context.Context, req WebSocketCreateWire) (Socket, error)
}

// WebSocketCreate is the host function backing the guest's WebSocket.create
// façade (§4.5). Once the request envelope is parsed, every outcome
// (capability denial, dial failure, or success) is delivered through the
// guest's success/error closure pair rather than a synchronous return.
func WebSocketCreate(ctx context.Context, mod api.Module, stack []uint64, checker *CapabilityChecker, dialer WebSocketDialer, registry *socketRegistry, closures *ffi.Arena) {
	req, errDetail := readWebSocketCreateRequest(ctx, mod, stack[0])
	if errDetail != nil {
		stack[0] = hostWriteResponse(ctx, mod, WebSocketEventWire{Error: errDetail})
		return
	}
	stack[0] = 0

	if err := checker.Check("network", "outbound:443"); err != nil {
		errMsg := fmt.Sprintf("permission denied for websocket to %s: %v", req.URL, err)
		slog.WarnContext(ctx, errMsg, "url", req.URL)
		completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, false,
			WebSocketEventWire{Error: &ErrorDetail{Message: errMsg, Type: "capability"}})
		return
	}

	dialCtx, cancel := createContextFromWire(ctx, req.Context)
	defer cancel()

	socket, err := dialer.Dial(dialCtx, *req)
	if err != nil {
		completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, false, WebSocketEventWire{Error: toErrorDetail(err)})
		return
	}

	handle := registry.register(socket)
	completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, true, WebSocketEventWire{SocketHandle: handle})
}

// WebSocketSend is the host function backing the guest's WebSocket.send
// façade.
func WebSocketSend(ctx context.Context, mod api.Module, stack []uint64, registry *socketRegistry, closures *ffi.Arena) {
	req, errDetail := readWebSocketSendRequest(ctx, mod, stack[0])
	if errDetail != nil {
		stack[0] = hostWriteResponse(ctx, mod, WebSocketEventWire{Error: errDetail})
		return
	}
	stack[0] = 0

	socket, ok := registry.get(req.SocketHandle)
	if !ok {
		errMsg := fmt.Sprintf("unknown socket handle %d", req.SocketHandle)
		completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, false,
			WebSocketEventWire{Error: &ErrorDetail{Message: errMsg, Type: "internal"}})
		return
	}

	payload, decodeErr := decodeBase64(req.Message)
	if decodeErr != nil {
		completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, false, WebSocketEventWire{Error: toErrorDetail(decodeErr)})
		return
	}

	if err := socket.Send(req.MessageType, payload); err != nil {
		completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, false,
			WebSocketEventWire{SocketHandle: req.SocketHandle, Error: toErrorDetail(err)})
		return
	}

	completeAsync(ctx, mod, closures, req.SuccessHandle, req.ErrorHandle, true, WebSocketEventWire{SocketHandle: req.SocketHandle})
}

func readWebSocketCreateRequest(ctx context.Context, mod api.Module, packed uint64) (*WebSocketCreateWire, *ErrorDetail) {
	raw, errDetail := readGuestBytes(ctx, mod, packed, "websocket create request")
	if errDetail != nil {
		return nil, errDetail
	}
	var req WebSocketCreateWire
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &ErrorDetail{Message: fmt.Sprintf("invalid websocket create request: %v", err), Type: "internal"}
	}
	return &req, nil
}

func readWebSocketSendRequest(ctx context.Context, mod api.Module, packed uint64) (*WebSocketSendWire, *ErrorDetail) {
	raw, errDetail := readGuestBytes(ctx, mod, packed, "websocket send request")
	if errDetail != nil {
		return nil, errDetail
	}
	var req WebSocketSendWire
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &ErrorDetail{Message: fmt.Sprintf("invalid websocket send request: %v", err), Type: "internal"}
	}
	return &req, nil
}
