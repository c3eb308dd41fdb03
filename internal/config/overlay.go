package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Overlay merges higher-precedence JSON (bundle config, then manifest
// overlay) onto a lower-precedence RuntimeConfig, per §3's fixed precedence:
// defaults, bundle embedded config, manifest runtime_config.
//
// Numeric memory-reservation fields are the one documented exception to
// "overlay replaces": a reservation present in both layers keeps whichever
// value is larger, since a later layer lowering a budget below what an
// already-initialized subsystem reserved would be unsafe.
func Overlay(base RuntimeConfig, overlayJSON []byte) (RuntimeConfig, error) {
	if len(overlayJSON) == 0 {
		return base, nil
	}

	var raw struct {
		SysParams json.RawMessage `json:"sys_params"`
	}
	if err := json.Unmarshal(overlayJSON, &raw); err != nil {
		return base, fmt.Errorf("config: invalid overlay document: %w", err)
	}
	if len(raw.SysParams) == 0 {
		return base, nil
	}

	var delta SysParams
	if err := json.Unmarshal(raw.SysParams, &delta); err != nil {
		return base, fmt.Errorf("config: invalid sys_params overlay: %w", err)
	}

	if delta.WASMMemorySize.WasScalarForm() {
		slog.Warn("config: wasm_memory_size given as legacy scalar, treating as high")
	}

	merged := base
	mergeSysParams(&merged.SysParams, delta)
	return merged, nil
}

func mergeSysParams(dst *SysParams, src SysParams) {
	dst.MemoryReservations = mergeMemoryReservationTiers(dst.MemoryReservations, src.MemoryReservations)

	if src.WASMMemorySize.High != 0 || src.WASMMemorySize.Low != 0 {
		dst.WASMMemorySize = src.WASMMemorySize
	}
	if src.GuardPageMode != "" {
		dst.GuardPageMode = src.GuardPageMode
	}
	if src.NetworkPumpFragmentSize != 0 {
		dst.NetworkPumpFragmentSize = src.NetworkPumpFragmentSize
	}
	if src.NetworkPumpSleepPeriodMs != 0 {
		dst.NetworkPumpSleepPeriodMs = src.NetworkPumpSleepPeriodMs
	}
	if (src.Watchdog != Watchdog{}) {
		dst.Watchdog = src.Watchdog
	}
	if (src.BundleFetch != BundleFetch{}) {
		dst.BundleFetch = src.BundleFetch
	}
	if src.CoredumpMemorySize != 0 {
		dst.CoredumpMemorySize = src.CoredumpMemorySize
	}
	if src.ThreadPoolThreadCount != 0 {
		dst.ThreadPoolThreadCount = src.ThreadPoolThreadCount
	}
	if src.HTTPMaxPooledConnections != 0 {
		dst.HTTPMaxPooledConnections = src.HTTPMaxPooledConnections
	}
	dst.LogInputEvents = dst.LogInputEvents || src.LogInputEvents
	if src.ADKWebSocket.Backend != "" {
		dst.ADKWebSocket = src.ADKWebSocket
	}
	if (src.Canvas != Canvas{}) {
		dst.Canvas = src.Canvas
	}
	if (src.Renderer != Renderer{}) {
		dst.Renderer = src.Renderer
	}
	if src.Reporting.MinimumEventLevel != "" || src.Reporting.SentryDSN != "" {
		dst.Reporting = src.Reporting
	}
	dst.HTTP = src.HTTP
	if (src.HTTP2 != HTTP2Config{}) {
		dst.HTTP2 = src.HTTP2
	}
	if src.PlatformSettings != nil {
		if dst.PlatformSettings == nil {
			dst.PlatformSettings = map[string]map[string]interface{}{}
		}
		for platform, kv := range src.PlatformSettings {
			if dst.PlatformSettings[platform] == nil {
				dst.PlatformSettings[platform] = map[string]interface{}{}
			}
			for k, v := range kv {
				dst.PlatformSettings[platform][k] = v
			}
		}
	}
}

func mergeMemoryReservationTiers(dst, src MemoryReservationTiers) MemoryReservationTiers {
	return MemoryReservationTiers{
		Low:  mergeMemoryReservations(dst.Low, src.Low),
		High: mergeMemoryReservations(dst.High, src.High),
	}
}

func mergeMemoryReservations(dst, src MemoryReservations) MemoryReservations {
	dst.Runtime = maxInt64(dst.Runtime, src.Runtime)
	dst.RHI = maxInt64(dst.RHI, src.RHI)
	dst.RenderDevice = maxInt64(dst.RenderDevice, src.RenderDevice)
	dst.Bundle = maxInt64(dst.Bundle, src.Bundle)
	dst.Canvas = maxInt64(dst.Canvas, src.Canvas)
	dst.CanvasFontScratchpad = maxInt64(dst.CanvasFontScratchpad, src.CanvasFontScratchpad)
	dst.CNCBus = maxInt64(dst.CNCBus, src.CNCBus)
	dst.Curl = maxInt64(dst.Curl, src.Curl)
	dst.CurlFragmentBuffers = maxInt64(dst.CurlFragmentBuffers, src.CurlFragmentBuffers)
	dst.JSONDeflate = maxInt64(dst.JSONDeflate, src.JSONDeflate)
	dst.DefaultThreadPool = maxInt64(dst.DefaultThreadPool, src.DefaultThreadPool)
	dst.SSL = maxInt64(dst.SSL, src.SSL)
	dst.HTTP2 = maxInt64(dst.HTTP2, src.HTTP2)
	dst.HTTPX = maxInt64(dst.HTTPX, src.HTTPX)
	dst.HTTPXFragmentBuffers = maxInt64(dst.HTTPXFragmentBuffers, src.HTTPXFragmentBuffers)
	dst.Reporting = maxInt64(dst.Reporting, src.Reporting)
	return dst
}

func maxInt64(a, b int64) int64 {
	if b > a {
		return b
	}
	return a
}
