// Package cache implements the fetch-with-retry-and-atomic-replace layer
// backing the manifest and bundle resolvers: a content-addressed entry on
// disk, refreshed under a fixed attempts/backoff policy, never left
// partially written.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Entry is one cached fetch result: the bytes on disk plus, when the
// resource was pulled through an oras:// reference, the OCI descriptor
// that identified it.
type Entry struct {
	Key        string
	Path       string
	Descriptor *ocispec.Descriptor
}

// Fetcher retrieves the bytes for a resource reference. Implementations
// exist per scheme (https://, oras://, local path) and are selected by
// Store.Fetch based on the reference's prefix.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, *ocispec.Descriptor, error)
}

// RetryPolicy configures fixed-attempt, fixed-backoff retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches the documented default of four attempts at a
// one second backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, Backoff: time.Second}
}

// Store is a directory of cached fetch results, keyed by an opaque string
// (typically the resource reference itself).
type Store struct {
	dir    string
	policy RetryPolicy
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string, policy RetryPolicy, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, policy: policy, logger: logger}, nil
}

func (s *Store) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

// Lookup returns the cached entry for key without fetching, reporting
// false if nothing is cached.
func (s *Store) Lookup(key string) (Entry, bool) {
	path := s.pathFor(key)
	if _, err := os.Stat(path); err != nil {
		return Entry{}, false
	}
	entry := Entry{Key: key, Path: path}
	if desc, ok := s.loadDescriptor(path); ok {
		entry.Descriptor = desc
	}
	return entry, true
}

// Fetch consults the cache first; on miss (or when forceRefresh is set) it
// retries fetcher.Fetch under the store's retry policy, replacing the
// cached entry atomically on success. Failure after exhausting retries
// invalidates the cache key rather than leaving a stale entry in place.
func (s *Store) Fetch(ctx context.Context, key string, fetcher Fetcher, forceRefresh bool) (Entry, error) {
	if !forceRefresh {
		if entry, ok := s.Lookup(key); ok {
			return entry, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		data, desc, err := fetcher.Fetch(ctx, key)
		if err == nil {
			entry, werr := s.replace(key, data, desc)
			if werr != nil {
				return Entry{}, fmt.Errorf("cache: writing entry %s: %w", key, werr)
			}
			return entry, nil
		}

		lastErr = err
		s.logger.Warn("cache: fetch attempt failed", "key", key, "attempt", attempt, "error", err)

		if !isTransientError(err) {
			break
		}
		if attempt == s.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-time.After(s.policy.Backoff):
		}
	}

	s.DeleteKey(key)
	return Entry{}, fmt.Errorf("cache: fetch %s failed after %d attempts: %w", key, s.policy.MaxAttempts, lastErr)
}

// replace writes data to a temp file in the cache directory and renames it
// over the final path, so a reader never observes a partially written
// entry even if the process is interrupted mid-write.
func (s *Store) replace(key string, data []byte, desc *ocispec.Descriptor) (Entry, error) {
	path := s.pathFor(key)
	tmp, err := os.CreateTemp(s.dir, "fetch-*.tmp")
	if err != nil {
		return Entry{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Entry{}, err
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return Entry{}, err
	}

	entry := Entry{Key: key, Path: path, Descriptor: desc}
	if desc != nil {
		if err := s.saveDescriptor(path, desc); err != nil {
			s.logger.Warn("cache: failed to persist descriptor sidecar", "key", key, "error", err)
		}
	}
	return entry, nil
}

// DeleteKey removes a cached entry and its descriptor sidecar, if any.
func (s *Store) DeleteKey(key string) {
	path := s.pathFor(key)
	os.Remove(path)
	os.Remove(path + ".descriptor.json")
}

func (s *Store) saveDescriptor(path string, desc *ocispec.Descriptor) error {
	f, err := os.Create(path + ".descriptor.json")
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(desc)
}

func (s *Store) loadDescriptor(path string) (*ocispec.Descriptor, bool) {
	f, err := os.Open(path + ".descriptor.json")
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var desc ocispec.Descriptor
	if err := json.NewDecoder(f).Decode(&desc); err != nil {
		return nil, false
	}
	return &desc, true
}

// ReadAll reads the full contents of a cached entry.
func (e Entry) ReadAll() ([]byte, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// isTransientError reports whether a fetch error is worth retrying:
// network timeouts and resets, but never a cancelled or expired context.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}

	return false
}
