package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sandboxrt/sandboxrt/internal/cache"
)

// FetchAndVerify downloads (or reuses a cached copy of) the bundle
// identified by ref, verifying its HMAC-SHA256 signature against
// base64Key/expectedSignature. A signature mismatch evicts the cache
// entry and retries the fetch, each separated by backoff, until
// maxRetries retries are exhausted on top of the initial attempt
// (maxRetries+1 total attempts); after that the load fails.
func FetchAndVerify(
	ctx context.Context,
	store *cache.Store,
	ref string,
	base64Key string,
	expectedSignature string,
	maxRetries int,
	backoff time.Duration,
	logger *slog.Logger,
) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	totalAttempts := maxRetries + 1

	fetcher := cache.FetcherFor(ref, nil)
	forceRefresh := false

	var lastErr error
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		entry, err := store.Fetch(ctx, ref, fetcher, forceRefresh)
		if err != nil {
			return nil, fmt.Errorf("bundle: fetch %s: %w", ref, err)
		}

		data, err := entry.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("bundle: reading cached bundle %s: %w", ref, err)
		}

		if verifyErr := VerifySignature(data, base64Key, expectedSignature); verifyErr == nil {
			return data, nil
		} else {
			lastErr = verifyErr
			logger.Warn("bundle: signature mismatch, evicting and retrying", "ref", ref, "attempt", attempt, "total_attempts", totalAttempts)
			store.DeleteKey(ref)
			forceRefresh = true

			if attempt == totalAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("bundle: signature verification failed after %d attempts: %w", totalAttempts, lastErr)
}

// OpenFromBytes writes bundleBytes to a temp file and opens it as a
// ZipArchive-backed Handle, since archive/zip needs a ReaderAt.
func OpenFromBytes(bundleBytes []byte) (*Handle, error) {
	tmp, err := os.CreateTemp("", "bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("bundle: create temp file: %w", err)
	}
	path := tmp.Name()

	if _, err := tmp.Write(bundleBytes); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, fmt.Errorf("bundle: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	archive, err := OpenZipArchive(f, info.Size(), &removeOnCloseFile{File: f, path: path})
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return NewHandle(archive), nil
}

// removeOnCloseFile deletes its backing temp file once closed, so a bundle
// opened from in-memory bytes doesn't leak scratch files.
type removeOnCloseFile struct {
	*os.File
	path string
}

func (f *removeOnCloseFile) Close() error {
	err := f.File.Close()
	os.Remove(f.path)
	return err
}
