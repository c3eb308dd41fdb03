package ffi

import "sync"

// Diagnostic is the last captured guest-side error and stack trace,
// surfaced to error reporting via GetWasmErrorAndStackTrace.
type Diagnostic struct {
	Error      string
	StackTrace string
}

// DiagnosticSlot holds the single most recent guest-trap diagnostic. It is
// a capture slot, not a queue: a new capture overwrites the previous one,
// matching the interpreter vtable's single-active-error contract.
type DiagnosticSlot struct {
	mu   sync.Mutex
	last Diagnostic
	set  bool
}

// Capture records a new diagnostic, replacing whatever was captured
// before.
func (s *DiagnosticSlot) Capture(errMsg, stackTrace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = Diagnostic{Error: errMsg, StackTrace: stackTrace}
	s.set = true
}

// GetWasmErrorAndStackTrace returns the captured diagnostic without
// clearing it, and whether one is present.
func (s *DiagnosticSlot) GetWasmErrorAndStackTrace() (Diagnostic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.set
}

// ClearWasmErrorAndStackTrace empties the slot. Idempotent: clearing an
// already-empty slot is not an error.
func (s *DiagnosticSlot) ClearWasmErrorAndStackTrace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = Diagnostic{}
	s.set = false
}
