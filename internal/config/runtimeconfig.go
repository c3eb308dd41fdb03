// Package config defines the runtime-configuration tree overlaid from
// defaults, bundle-embedded config, and manifest overlay, plus the
// JSON-schema-backed validation used at each overlay boundary.
package config

import "encoding/json"

// MemoryReservations enumerates the closed set of subsystem byte budgets.
type MemoryReservations struct {
	Runtime               int64 `json:"runtime,omitempty"`
	RHI                   int64 `json:"rhi,omitempty"`
	RenderDevice          int64 `json:"render_device,omitempty"`
	Bundle                int64 `json:"bundle,omitempty"`
	Canvas                int64 `json:"canvas,omitempty"`
	CanvasFontScratchpad  int64 `json:"canvas_font_scratchpad,omitempty"`
	CNCBus                int64 `json:"cncbus,omitempty"`
	Curl                  int64 `json:"curl,omitempty"`
	CurlFragmentBuffers   int64 `json:"curl_fragment_buffers,omitempty"`
	JSONDeflate           int64 `json:"json_deflate,omitempty"`
	DefaultThreadPool     int64 `json:"default_thread_pool,omitempty"`
	SSL                   int64 `json:"ssl,omitempty"`
	HTTP2                 int64 `json:"http2,omitempty"`
	HTTPX                 int64 `json:"httpx,omitempty"`
	HTTPXFragmentBuffers  int64 `json:"httpx_fragment_buffers,omitempty"`
	Reporting             int64 `json:"reporting,omitempty"`
}

// MemoryReservationTiers is the low/high pair the spec calls for; high
// additionally carries a canvas override that has no low-tier counterpart.
type MemoryReservationTiers struct {
	Low  MemoryReservations `json:"low,omitempty"`
	High MemoryReservations `json:"high,omitempty"`
}

// WASMMemorySize is accepted either as this object or as a bare scalar
// (legacy form, treated as High — see UnmarshalJSON).
type WASMMemorySize struct {
	Low                 int64 `json:"low,omitempty"`
	High                int64 `json:"high,omitempty"`
	AllocationThreshold int64 `json:"allocation_threshold,omitempty"`
	scalarForm          bool
}

// UnmarshalJSON accepts either the object form or a bare integer (legacy
// scalar), mapped onto High with a warning surfaced by the caller via the
// ScalarWarning flag.
func (w *WASMMemorySize) UnmarshalJSON(data []byte) error {
	var scalar int64
	if err := json.Unmarshal(data, &scalar); err == nil {
		w.High = scalar
		w.scalarForm = true
		return nil
	}
	type alias WASMMemorySize
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*w = WASMMemorySize(obj)
	return nil
}

// WasScalarForm reports whether this value arrived as the legacy bare-
// scalar form, so the loader can log a deprecation warning once.
func (w WASMMemorySize) WasScalarForm() bool { return w.scalarForm }

// Watchdog configures the stall-detection subsystem.
type Watchdog struct {
	Enabled          bool  `json:"enabled"`
	SuspendThreshold int   `json:"suspend_threshold,omitempty"`
	WarningDelayMs   int64 `json:"warning_delay_ms,omitempty"`
	FatalDelayMs     int64 `json:"fatal_delay_ms,omitempty"`
}

// BundleFetch configures retry/backoff for bundle download and signature
// verification.
type BundleFetch struct {
	RetryMaxAttempts int   `json:"retry_max_attempts,omitempty"`
	RetryBackoffMs   int64 `json:"retry_backoff_ms,omitempty"`
}

// WebSocketConfig configures the adk_websocket transport when backend is
// not null.
type WebSocketConfig struct {
	PingTimeout             int64 `json:"ping_timeout,omitempty"`
	NoActivityWaitPeriod    int64 `json:"no_activity_wait_period,omitempty"`
	MaxHandshakeTimeout     int64 `json:"max_handshake_timeout,omitempty"`
	MaxReceivableMessageSize int64 `json:"max_receivable_message_size,omitempty"`
	ReceiveBufferSize       int64 `json:"receive_buffer_size,omitempty"`
	SendBufferSize          int64 `json:"send_buffer_size,omitempty"`
	HeaderBufferSize        int64 `json:"header_buffer_size,omitempty"`
	MaximumRedirects        int   `json:"maximum_redirects,omitempty"`
}

// ADKWebSocket selects and configures the WebSocket transport.
type ADKWebSocket struct {
	Backend         string          `json:"backend,omitempty"` // "http2" | "websocket" | "null"
	WebSocketConfig WebSocketConfig `json:"websocket_config,omitempty"`
}

// FontAtlas sizes the canvas text rasterizer's atlas.
type FontAtlas struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// TextMeshCache configures canvas text mesh caching.
type TextMeshCache struct {
	Enabled bool `json:"enabled"`
	Size    int  `json:"size,omitempty"`
}

// GLInternalLimits bounds the canvas GL vertex bank pool.
type GLInternalLimits struct {
	MaxVertsPerVertexBank int `json:"max_verts_per_vertex_bank,omitempty"`
	NumVertexBanks        int `json:"num_vertex_banks,omitempty"`
	NumMeshes             int `json:"num_meshes,omitempty"`
}

// GzipLimits bounds canvas gzip decompression scratch space.
type GzipLimits struct {
	WorkingSpace int64 `json:"working_space,omitempty"`
}

// CanvasGL groups the canvas GL-backend internal limits.
type CanvasGL struct {
	InternalLimits GLInternalLimits `json:"internal_limits,omitempty"`
}

// Canvas configures the vector-graphics subsystem.
type Canvas struct {
	MaxStates                       int           `json:"max_states,omitempty"`
	MaxTessellationSteps            int           `json:"max_tessellation_steps,omitempty"`
	EnablePunchthroughBlendModeFix  bool          `json:"enable_punchthrough_blend_mode_fix"`
	FontAtlas                       FontAtlas     `json:"font_atlas,omitempty"`
	TextMeshCache                   TextMeshCache `json:"text_mesh_cache,omitempty"`
	GzipLimits                      GzipLimits    `json:"gzip_limits,omitempty"`
	GL                              CanvasGL      `json:"gl,omitempty"`
}

// RenderDevice configures the render-device command buffering.
type RenderDevice struct {
	NumCmdBuffers int `json:"num_cmd_buffers,omitempty"`
	CmdBufSize    int `json:"cmd_buf_size,omitempty"`
}

// RHICommandDiffingTracking configures RHI command diff tracking buffers.
type RHICommandDiffingTracking struct {
	Enabled    bool `json:"enabled"`
	BufferSize int  `json:"buffer_size,omitempty"`
}

// RHICommandDiffing configures RHI command diffing.
type RHICommandDiffing struct {
	Enabled  bool                      `json:"enabled"`
	Verbose  bool                      `json:"verbose"`
	Tracking RHICommandDiffingTracking `json:"tracking,omitempty"`
}

// RenderResourceTracking configures render-resource logging cadence.
type RenderResourceTracking struct {
	PeriodicLogging string `json:"periodic_logging,omitempty"` // disabled|tty|metrics|tty_and_metrics
}

// Renderer configures the render device and RHI diagnostics.
type Renderer struct {
	Device                RenderDevice           `json:"device,omitempty"`
	RHICommandDiffing     RHICommandDiffing      `json:"rhi_command_diffing,omitempty"`
	RenderResourceTracking RenderResourceTracking `json:"render_resource_tracking,omitempty"`
}

// Reporting configures the crash/event telemetry sink contract.
type Reporting struct {
	CaptureLogs        bool   `json:"capture_logs"`
	MinimumEventLevel  string `json:"minimum_event_level,omitempty"` // debug|info|warning|error|fatal
	SentryDSN          string `json:"sentry_dsn,omitempty"`
	SendQueueSize      int    `json:"send_queue_size,omitempty"`
}

// HTTPConfig configures the curl/httpx transport's certificate handling.
type HTTPConfig struct {
	HTTPXGlobalCerts bool `json:"httpx_global_certs"`
}

// HTTP2Config configures HTTP/2 multiplexing behavior.
type HTTP2Config struct {
	Enabled                          bool `json:"enabled"`
	UseMultiplexing                  bool `json:"use_multiplexing"`
	MultiplexWaitForExistingConnection bool `json:"multiplex_wait_for_existing_connection"`
}

// SysParams is the full enumerated tunables tree.
type SysParams struct {
	MemoryReservations       MemoryReservationTiers `json:"memory_reservations,omitempty"`
	WASMMemorySize           WASMMemorySize         `json:"wasm_memory_size,omitempty"`
	GuardPageMode            string                 `json:"guard_page_mode,omitempty"` // enabled|minimal|disabled
	NetworkPumpFragmentSize  int                    `json:"network_pump_fragment_size,omitempty"`
	NetworkPumpSleepPeriodMs int64                  `json:"network_pump_sleep_period_ms,omitempty"`
	Watchdog                 Watchdog               `json:"watchdog,omitempty"`
	BundleFetch              BundleFetch            `json:"bundle_fetch,omitempty"`
	CoredumpMemorySize       int64                  `json:"coredump_memory_size,omitempty"`
	ThreadPoolThreadCount    int                    `json:"thread_pool_thread_count,omitempty"`
	HTTPMaxPooledConnections int                    `json:"http_max_pooled_connections,omitempty"`
	LogInputEvents           bool                   `json:"log_input_events"`
	ADKWebSocket             ADKWebSocket           `json:"adk_websocket,omitempty"`
	Canvas                   Canvas                 `json:"canvas,omitempty"`
	Renderer                 Renderer               `json:"renderer,omitempty"`
	Reporting                Reporting              `json:"reporting,omitempty"`
	HTTP                     HTTPConfig             `json:"http,omitempty"`
	HTTP2                    HTTP2Config            `json:"http2,omitempty"`
	// PlatformSettings holds sys_params.platform_settings.<platform>.<key>,
	// free-form scalars consulted only by extensions.
	PlatformSettings map[string]map[string]interface{} `json:"platform_settings,omitempty"`
}

// RuntimeConfig is the fully enumerated runtime-configuration record.
type RuntimeConfig struct {
	SysParams SysParams `json:"sys_params"`
}

// Default returns the system-default runtime-configuration: the lowest
// precedence layer in the overlay chain.
func Default() RuntimeConfig {
	return RuntimeConfig{
		SysParams: SysParams{
			GuardPageMode:            string(guardPageDefault),
			NetworkPumpFragmentSize:  16 * 1024,
			NetworkPumpSleepPeriodMs: 16,
			Watchdog: Watchdog{
				Enabled:          true,
				SuspendThreshold: 3,
				WarningDelayMs:   5000,
				FatalDelayMs:     15000,
			},
			BundleFetch: BundleFetch{
				RetryMaxAttempts: 4,
				RetryBackoffMs:   1000,
			},
			ThreadPoolThreadCount:    4,
			HTTPMaxPooledConnections: 16,
			Reporting: Reporting{
				CaptureLogs:       true,
				MinimumEventLevel: "warning",
				SendQueueSize:     64,
			},
			HTTP2: HTTP2Config{Enabled: true, UseMultiplexing: true},
		},
	}
}

const guardPageDefault = "minimal"
