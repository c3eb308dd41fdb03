package ffi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnosticSlotCaptureAndClear(t *testing.T) {
	var slot DiagnosticSlot

	_, ok := slot.GetWasmErrorAndStackTrace()
	assert.False(t, ok)

	slot.Capture("trap: unreachable", "guest_fn1\nguest_fn2")
	diag, ok := slot.GetWasmErrorAndStackTrace()
	assert.True(t, ok)
	assert.Equal(t, "trap: unreachable", diag.Error)

	slot.Capture("second error", "")
	diag, ok = slot.GetWasmErrorAndStackTrace()
	assert.True(t, ok)
	assert.Equal(t, "second error", diag.Error, "capture overwrites, does not queue")

	slot.ClearWasmErrorAndStackTrace()
	_, ok = slot.GetWasmErrorAndStackTrace()
	assert.False(t, ok)

	// Clearing an already-empty slot is idempotent, not an error.
	slot.ClearWasmErrorAndStackTrace()
}
