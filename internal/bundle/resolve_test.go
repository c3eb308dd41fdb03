package bundle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/internal/cache"
)

// badSignatureServer counts requests and always serves bytes that fail
// signature verification, forcing FetchAndVerify to exhaust every retry.
func badSignatureServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("not the bundle you are looking for"))
	}))
	return server, &calls
}

func TestFetchAndVerifyAttemptsOneMoreThanMaxRetries(t *testing.T) {
	server, calls := badSignatureServer(t)
	defer server.Close()

	store, err := cache.NewStore(t.TempDir(), cache.DefaultRetryPolicy(), nil)
	require.NoError(t, err)

	_, err = FetchAndVerify(context.Background(), store, server.URL, "", "bm90LWEtbWF0Y2g=", 2, time.Millisecond, nil)
	require.Error(t, err)

	// retry_max_attempts=2 means the initial attempt plus 2 retries: 3
	// total fetches, never 2.
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestFetchAndVerifyZeroRetriesMeansOneAttempt(t *testing.T) {
	server, calls := badSignatureServer(t)
	defer server.Close()

	store, err := cache.NewStore(t.TempDir(), cache.DefaultRetryPolicy(), nil)
	require.NoError(t, err)

	_, err = FetchAndVerify(context.Background(), store, server.URL, "", "bm90LWEtbWF0Y2g=", 0, time.Millisecond, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetchAndVerifySucceedsOnFirstAttemptWithoutRetrying(t *testing.T) {
	var calls int32
	const key = "c2VjcmV0LWtleQ==" // base64("secret-key")
	bundleBytes := []byte("a perfectly valid bundle")
	signature := hmacSignatureForTest(t, bundleBytes, key)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write(bundleBytes)
	}))
	defer server.Close()

	store, err := cache.NewStore(t.TempDir(), cache.DefaultRetryPolicy(), nil)
	require.NoError(t, err)

	data, err := FetchAndVerify(context.Background(), store, server.URL, key, signature, 2, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, bundleBytes, data)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "a first-try match must not retry")
}

// hmacSignatureForTest mirrors VerifySignature's own HMAC-SHA256 so a test
// can hand FetchAndVerify a signature it will actually accept.
func hmacSignatureForTest(t *testing.T, data []byte, base64Key string) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(base64Key)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
