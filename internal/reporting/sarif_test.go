package reporting

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/internal/wasm"
)

func TestSARIFExportIncludesOneResultPerTrap(t *testing.T) {
	r := New(nil)
	r.RecordGuestTrap("unreachable instruction executed", []wasm.Frame{{FuncName: "app_tick", Offset: 4}}, "unreachable_executed")
	r.RecordGuestTrap("out of bounds memory access", nil, "out_of_bounds_memory_access")

	var buf bytes.Buffer
	exporter := NewSARIFExporter(&buf)
	require.NoError(t, exporter.Export(r))

	output := buf.String()
	assert.Contains(t, output, "guest-trap")
	assert.Contains(t, output, "unreachable instruction executed")
	assert.Contains(t, output, "out of bounds memory access")
}

func TestSARIFExportWithNoTrapsStillProducesValidReport(t *testing.T) {
	r := New(nil)
	var buf bytes.Buffer
	exporter := NewSARIFExporter(&buf)
	require.NoError(t, exporter.Export(r))
	assert.NotEmpty(t, buf.String())
}
