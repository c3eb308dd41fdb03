package runtimectx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPumpFetchAndDrainCompletions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	pump := NewHTTPPump(nil)
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	pump.Fetch("req-1", req)

	require.Eventually(t, func() bool {
		_ = pump.DrainCompletions(context.Background())
		return len(pump.Drained()) == 1
	}, time.Second, time.Millisecond)

	results := pump.Drained()
	require.Len(t, results, 1)
	assert.Equal(t, "req-1", results[0].RequestID)
	assert.Equal(t, http.StatusOK, results[0].Status)
	assert.Equal(t, "hello", string(results[0].Body))
	assert.NoError(t, results[0].Err)
}

func TestHTTPPumpCapturesTransportError(t *testing.T) {
	pump := NewHTTPPump(nil)
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:0", nil)
	require.NoError(t, err)

	pump.Fetch("req-2", req)

	require.Eventually(t, func() bool {
		_ = pump.DrainCompletions(context.Background())
		return len(pump.Drained()) == 1
	}, time.Second, time.Millisecond)

	assert.Error(t, pump.Drained()[0].Err)
}
