package hostservices

import (
	"fmt"
	"sync"

	"github.com/sandboxrt/sandboxrt/wireformat"
)

// EventRecordSize is the host's fixed wire size for one event record, the
// value read_events verifies the guest's declared record size against
// before ever writing into guest memory.
const EventRecordSize = 24

// EventRing accumulates pending events for one frame, in input order. A
// time event is always appended as the last event of a batch by
// DrainBatch, giving the orchestrator its Δt source.
type EventRing struct {
	mu     sync.Mutex
	events []wireformat.EventWire
}

// NewEventRing creates an empty ring.
func NewEventRing() *EventRing {
	return &EventRing{}
}

// Push appends a non-time event to the ring in arrival order.
func (r *EventRing) Push(event wireformat.EventWire) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// DrainBatch empties the ring and returns its contents with a time event
// appended last, carrying nowMs. This is the invariant the orchestrator
// relies on to compute Δt.
func (r *EventRing) DrainBatch(nowMs int64) []wireformat.EventWire {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := r.events
	r.events = nil

	batch = append(batch, wireformat.EventWire{Type: "time", TimeNowMs: nowMs})
	return batch
}

// ReadEvents drains a batch and verifies the guest's declared per-event
// record size matches the host's before reporting how many events were
// written, matching the "host verifies guest record size" contract. It
// reports how many of the batch's events fit within capacity records;
// the caller (the hostfuncs façade) is responsible for actually
// marshaling each event into guest memory.
func ReadEvents(ring *EventRing, nowMs int64, capacity int, guestEventSize int) ([]wireformat.EventWire, error) {
	if guestEventSize != EventRecordSize {
		return nil, fmt.Errorf("hostservices: guest event record size %d does not match host size %d", guestEventSize, EventRecordSize)
	}

	batch := ring.DrainBatch(nowMs)
	if capacity > 0 && len(batch) > capacity {
		// Truncate but keep the time event last, since the orchestrator
		// depends on it always being present to compute Δt.
		timeEvent := batch[len(batch)-1]
		batch = append(batch[:capacity-1:capacity-1], timeEvent)
	}
	return batch, nil
}
