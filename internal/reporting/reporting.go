// Package reporting implements the only telemetry contract the host
// kernel is required to honor: span begin/end markers and heap-metric
// plots accepted from every subsystem, redacted before they ever leave
// the process, with an optional SARIF export of captured guest-trap
// diagnostics. The concrete collector wire protocol is out of scope;
// this package only guarantees what gets recorded and how it is
// sanitized.
package reporting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandboxrt/sandboxrt/internal/memory"
	"github.com/sandboxrt/sandboxrt/internal/reporting/redaction"
	"github.com/sandboxrt/sandboxrt/internal/wasm"
)

// MaxRetainedSpans bounds how many closed spans Tick keeps around,
// oldest first, so a long-running host doesn't accumulate telemetry
// forever between flushes.
const MaxRetainedSpans = 4096

// Span is one begin/end interval reported by a subsystem.
type Span struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Duration reports how long the span ran. A still-open span (End is
// zero) reports zero.
func (s Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// HeapSample is one heap-metric plot point, tagged by the heap it was
// drawn from.
type HeapSample struct {
	HeapName string
	At       time.Time
	Metrics  memory.Metrics
}

// GuestTrap is a captured guest-trap diagnostic: the error and stack
// trace the FFI layer recorded, scrubbed before retention.
type GuestTrap struct {
	At         time.Time
	Message    string
	Callstack  []wasm.Frame
	CallStatus string
}

// Reporter accumulates spans, heap samples, and guest-trap diagnostics
// for one host process lifetime. Safe for concurrent use: any subsystem
// thread may report at any time.
type Reporter struct {
	mu sync.Mutex

	scrubber *redaction.Scrubber

	openSpans   map[string]Span
	closedSpans []Span
	heapSamples []HeapSample
	traps       []GuestTrap
}

// New returns a Reporter that scrubs every recorded value through s
// before retaining it. A nil Scrubber disables redaction, useful only
// for tests.
func New(s *redaction.Scrubber) *Reporter {
	return &Reporter{
		scrubber:  s,
		openSpans: make(map[string]Span),
	}
}

// BeginSpan opens a span under name. Opening a span with a name already
// open replaces the prior open span, matching the contract that a span
// name is a single in-flight interval, not a stack.
func (r *Reporter) BeginSpan(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openSpans[name] = Span{Name: name, Start: now()}
}

// EndSpan closes the span under name and retains it. Ending a span that
// was never begun is a no-op, since a subsystem torn down mid-span
// (e.g. a background transition) should never panic the reporter.
func (r *Reporter) EndSpan(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span, ok := r.openSpans[name]
	if !ok {
		return
	}
	delete(r.openSpans, name)
	span.End = now()
	r.closedSpans = append(r.closedSpans, span)
}

// RecordHeapSample plots one heap-metric reading.
func (r *Reporter) RecordHeapSample(heapName string, m memory.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heapSamples = append(r.heapSamples, HeapSample{HeapName: heapName, At: now(), Metrics: m})
}

// RecordGuestTrap retains a guest-trap diagnostic, scrubbing the message
// before it is stored so a leaked credential in a trap message never
// survives to export.
func (r *Reporter) RecordGuestTrap(message string, callstack []wasm.Frame, status string) {
	if r.scrubber != nil {
		message = r.scrubber.ScrubString(message)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.traps = append(r.traps, GuestTrap{At: now(), Message: message, Callstack: callstack, CallStatus: status})
}

// ClosedSpans returns a copy of every span closed so far.
func (r *Reporter) ClosedSpans() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Span, len(r.closedSpans))
	copy(out, r.closedSpans)
	return out
}

// HeapSamples returns a copy of every heap sample recorded so far.
func (r *Reporter) HeapSamples() []HeapSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HeapSample, len(r.heapSamples))
	copy(out, r.heapSamples)
	return out
}

// GuestTraps returns a copy of every guest-trap diagnostic recorded so
// far.
func (r *Reporter) GuestTraps() []GuestTrap {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GuestTrap, len(r.traps))
	copy(out, r.traps)
	return out
}

// Tick trims closed spans down to MaxRetainedSpans, dropping the oldest
// first. It satisfies the orchestrator's ReportingTicker interface so the
// frame pipeline can bound reporting's own memory growth once per frame.
func (r *Reporter) Tick(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.closedSpans) > MaxRetainedSpans {
		drop := len(r.closedSpans) - MaxRetainedSpans
		r.closedSpans = r.closedSpans[drop:]
	}
	return nil
}

// now is a seam so tests can substitute a deterministic clock.
var now = time.Now

// ErrSpanNeverClosed is returned by Close when spans remain open at
// shutdown, surfaced for diagnostics rather than silently dropped.
var ErrSpanNeverClosed = fmt.Errorf("reporting: span still open at shutdown")

// Close reports whether every span was closed before shutdown. It never
// mutates state; callers decide whether an unclosed span is fatal.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.openSpans) > 0 {
		return ErrSpanNeverClosed
	}
	return nil
}
