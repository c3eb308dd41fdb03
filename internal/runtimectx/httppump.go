package runtimectx

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPResult is one finished request's outcome, buffered until the main
// thread's DrainCompletions stage collects it.
type HTTPResult struct {
	RequestID string
	Status    int
	Body      []byte
	Err       error
}

// HTTPPump issues requests on its own goroutines and buffers their
// results for the main thread to pick up once per frame, mirroring
// ThreadPool's producer/drain split for network I/O specifically.
type HTTPPump struct {
	client *http.Client

	mu      sync.Mutex
	results []HTTPResult
	drained []HTTPResult
}

// NewHTTPPump wraps client (or a sensible default) as the pump's
// transport.
func NewHTTPPump(client *http.Client) *HTTPPump {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPump{client: client}
}

// Fetch issues req in its own goroutine and buffers the result under
// requestID for the next DrainCompletions call.
func (p *HTTPPump) Fetch(requestID string, req *http.Request) {
	go func() {
		resp, err := p.client.Do(req)
		result := HTTPResult{RequestID: requestID}
		if err != nil {
			result.Err = err
		} else {
			defer resp.Body.Close()
			body, readErr := io.ReadAll(resp.Body)
			result.Status = resp.StatusCode
			result.Body = body
			result.Err = readErr
		}
		p.mu.Lock()
		p.results = append(p.results, result)
		p.mu.Unlock()
	}()
}

// DrainCompletions moves every buffered result into Drained. Satisfies
// orchestrator.HTTPPump.
func (p *HTTPPump) DrainCompletions(_ context.Context) error {
	p.mu.Lock()
	p.drained = p.results
	p.results = nil
	p.mu.Unlock()
	return nil
}

// Drained returns the results gathered by the most recent
// DrainCompletions call.
func (p *HTTPPump) Drained() []HTTPResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drained
}
