package hostservices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/wireformat"
)

func TestDrainBatchAppendsTimeEventLast(t *testing.T) {
	ring := NewEventRing()
	ring.Push(wireformat.EventWire{Type: "input", Input: &wireformat.InputEventWire{Device: 1, Code: 2, Value: 3}})
	ring.Push(wireformat.EventWire{Type: "input", Input: &wireformat.InputEventWire{Device: 4, Code: 5, Value: 6}})

	batch := ring.DrainBatch(1234)
	require.Len(t, batch, 3)
	assert.Equal(t, "time", batch[len(batch)-1].Type)
	assert.Equal(t, int64(1234), batch[len(batch)-1].TimeNowMs)
}

func TestDrainBatchEmptiesRing(t *testing.T) {
	ring := NewEventRing()
	ring.Push(wireformat.EventWire{Type: "input"})
	ring.DrainBatch(0)

	batch := ring.DrainBatch(0)
	assert.Len(t, batch, 1, "only the time event remains on a second drain")
}

func TestReadEventsRejectsMismatchedRecordSize(t *testing.T) {
	ring := NewEventRing()
	_, err := ReadEvents(ring, 0, 16, EventRecordSize+1)
	assert.Error(t, err)
}

func TestReadEventsTruncatesButKeepsTimeEventLast(t *testing.T) {
	ring := NewEventRing()
	for i := 0; i < 5; i++ {
		ring.Push(wireformat.EventWire{Type: "input"})
	}

	batch, err := ReadEvents(ring, 999, 3, EventRecordSize)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "time", batch[2].Type)
}
