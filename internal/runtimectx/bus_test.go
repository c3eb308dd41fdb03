package runtimectx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusFlushDeliversInPostOrder(t *testing.T) {
	var mu sync.Mutex
	var received []string

	b := NewBus(func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg.Kind)
	})

	b.Post(Message{Kind: "first"})
	b.Post(Message{Kind: "second"})
	b.Post(Message{Kind: "third"})

	n := b.Flush()
	assert.Equal(t, 3, n)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, received)
}

func TestBusFlushWithNothingPendingReturnsZero(t *testing.T) {
	b := NewBus(func(Message) {})
	assert.Equal(t, 0, b.Flush())
}

func TestBusRunDispatcherStopsOnContextCancel(t *testing.T) {
	var count int32Counter
	b := NewBus(func(Message) { count.inc() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.RunDispatcher(ctx)
		close(done)
	}()

	b.Post(Message{Kind: "x"})
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDispatcher did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, count.get(), 1)
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
