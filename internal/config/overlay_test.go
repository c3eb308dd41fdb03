package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayPrecedenceManifestWinsOverBundle(t *testing.T) {
	base := Default()

	bundleOverlay := []byte(`{"sys_params": {"guard_page_mode": "enabled", "thread_pool_thread_count": 8}}`)
	merged, err := Overlay(base, bundleOverlay)
	require.NoError(t, err)
	assert.Equal(t, "enabled", merged.SysParams.GuardPageMode)
	assert.Equal(t, 8, merged.SysParams.ThreadPoolThreadCount)

	manifestOverlay := []byte(`{"sys_params": {"guard_page_mode": "disabled"}}`)
	merged, err = Overlay(merged, manifestOverlay)
	require.NoError(t, err)

	// manifest runtime_config overrides the bundle-embedded value...
	assert.Equal(t, "disabled", merged.SysParams.GuardPageMode)
	// ...but leaves fields the manifest overlay never mentioned alone.
	assert.Equal(t, 8, merged.SysParams.ThreadPoolThreadCount)
}

func TestOverlayEmptyOrNilLeavesBaseUnchanged(t *testing.T) {
	base := Default()

	merged, err := Overlay(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, merged)

	merged, err = Overlay(base, []byte{})
	require.NoError(t, err)
	assert.Equal(t, base, merged)
}

func TestOverlayMemoryReservationsKeepsTheLargerValue(t *testing.T) {
	base := Default()
	base.SysParams.MemoryReservations.Low.Runtime = 100
	base.SysParams.MemoryReservations.Low.Bundle = 500

	overlay := []byte(`{"sys_params": {"memory_reservations": {"low": {"runtime": 50, "bundle": 900}}}}`)
	merged, err := Overlay(base, overlay)
	require.NoError(t, err)

	// a lower overlay value never shrinks an already-reserved budget...
	assert.Equal(t, int64(100), merged.SysParams.MemoryReservations.Low.Runtime)
	// ...but a higher overlay value replaces it.
	assert.Equal(t, int64(900), merged.SysParams.MemoryReservations.Low.Bundle)
}

func TestOverlayInvalidJSONReturnsError(t *testing.T) {
	_, err := Overlay(Default(), []byte(`not json`))
	assert.Error(t, err)
}

func TestOverlayFullPrecedenceChainDefaultsBundleManifest(t *testing.T) {
	bundleOverlay := []byte(`{"sys_params": {"network_pump_fragment_size": 4096}}`)
	manifestOverlay := []byte(`{"sys_params": {"network_pump_fragment_size": 8192, "http_max_pooled_connections": 32}}`)

	merged, err := Overlay(Default(), bundleOverlay)
	require.NoError(t, err)
	merged, err = Overlay(merged, manifestOverlay)
	require.NoError(t, err)

	assert.Equal(t, 8192, merged.SysParams.NetworkPumpFragmentSize)
	assert.Equal(t, 32, merged.SysParams.HTTPMaxPooledConnections)
	// a field neither overlay touched keeps the system default.
	assert.Equal(t, int64(16), merged.SysParams.NetworkPumpSleepPeriodMs)
}
