package runtimectx

import (
	"context"
	"sync"
	"time"
)

// Message is one payload posted to the bus. Kind identifies the topic;
// Payload is left opaque since the bus has no business interpreting it.
type Message struct {
	Kind    string
	Payload interface{}
}

// Bus is the in-process message bus a dedicated dispatcher thread
// flushes at a fixed rate. Producers (worker threads, extensions) post
// without blocking; the dispatcher is the only goroutine that drains.
type Bus struct {
	mu      sync.Mutex
	pending []Message
	handler func(Message)
}

// NewBus returns a Bus that calls handler for every message the
// dispatcher flushes. handler runs on the dispatcher's own goroutine,
// never on the posting goroutine.
func NewBus(handler func(Message)) *Bus {
	return &Bus{handler: handler}
}

// Post enqueues a message without blocking the caller.
func (b *Bus) Post(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, msg)
}

// Flush drains every pending message in post order and hands each to the
// configured handler. Returns the number of messages flushed.
func (b *Bus) Flush() int {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, msg := range pending {
		if b.handler != nil {
			b.handler(msg)
		}
	}
	return len(pending)
}

// DispatchRate is the fixed dispatcher frequency: 1 kHz, a 1ms sleep
// between flushes.
const DispatchRate = time.Millisecond

// RunDispatcher flushes the bus every DispatchRate until ctx is done.
// This is the bus-dispatcher thread: its own goroutine, continuously
// running, independent of the main frame pipeline.
func (b *Bus) RunDispatcher(ctx context.Context) {
	ticker := time.NewTicker(DispatchRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
