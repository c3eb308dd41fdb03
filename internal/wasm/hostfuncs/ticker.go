package hostfuncs

import (
	"context"

	"github.com/sandboxrt/sandboxrt/internal/hostservices"
)

// WebSocketTicker drains every registered socket's pending inbound events
// once per frame and pushes them onto the shared event ring as "websocket"
// events, satisfying orchestrator.WebSocketTicker. A socket that reports a
// close is removed from the registry once its closing event has been
// delivered.
type WebSocketTicker struct {
	sockets *socketRegistry
	events  *hostservices.EventRing
}

func newWebSocketTicker(sockets *socketRegistry) *WebSocketTicker {
	return &WebSocketTicker{sockets: sockets}
}

// Attach wires the event ring the ticker delivers onto. The ring is built
// after RegisterHostFunctions returns, so this is a second wiring step
// rather than a constructor argument.
func (t *WebSocketTicker) Attach(events *hostservices.EventRing) {
	t.events = events
}

// Tick drains every socket's pending Poll() events without blocking.
func (t *WebSocketTicker) Tick(_ context.Context) error {
	if t.events == nil {
		return nil
	}
	t.sockets.forEach(func(handle uint32, s Socket) {
		for {
			event, ok := s.Poll()
			if !ok {
				return
			}
			event.SocketHandle = handle
			t.events.Push(EventWire{Type: "websocket", WebSocket: &event})
			if event.ClosedReason != "" {
				t.sockets.remove(handle)
				return
			}
		}
	})
	return nil
}
