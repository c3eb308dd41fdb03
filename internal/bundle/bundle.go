// Package bundle implements the archive handle the manifest resolver hands
// off to the WASM loader: a verified, opened code bundle exposing its
// required WASM entry point, optional embedded runtime-configuration
// overlay, and the fixed fallback-image priority list for error-splash.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"sync"
)

// Required and well-known paths inside a bundle archive.
const (
	WASMPath   = "bin/app.wasm"
	ConfigPath = "bin/.config"
)

// FallbackImagePriority is the fixed, in-order list of in-bundle fallback
// images the error-splash state machine walks, rendering the first one
// present.
var FallbackImagePriority = []string{
	"resource/shared/fallback.png",
	"resource/shared/fallback.jpg",
}

// Archive is the minimal read-only view over a bundle's contents the rest
// of the system needs: an opaque seekable byte stream offering stat/open
// by path, kept abstract so the concrete archive format stays out of
// scope.
type Archive interface {
	Stat(path string) (fs.FileInfo, error)
	Open(path string) (fs.File, error)
	Close() error
}

// ZipArchive implements Archive over a standard zip-formatted bundle.
type ZipArchive struct {
	reader *zip.Reader
	closer io.Closer
}

// OpenZipArchive opens a zip-formatted bundle from a ReaderAt of known
// size (typically an *os.File).
func OpenZipArchive(r io.ReaderAt, size int64, closer io.Closer) (*ZipArchive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("bundle: open archive: %w", err)
	}
	return &ZipArchive{reader: zr, closer: closer}, nil
}

func (a *ZipArchive) Stat(path string) (fs.FileInfo, error) {
	f, err := a.reader.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

func (a *ZipArchive) Open(path string) (fs.File, error) {
	return a.reader.Open(path)
}

func (a *ZipArchive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Handle is an open archive rooted at one bundle, plus the mount bit the
// spec's invariant is defined over: at most one bundle is mounted as the
// app root at any time; files within a mounted bundle are read-only;
// closing a mounted bundle fails until it is explicitly unmounted.
type Handle struct {
	mu      sync.Mutex
	archive Archive
	mounted bool
}

// NewHandle wraps an already-opened Archive, unmounted.
func NewHandle(archive Archive) *Handle {
	return &Handle{archive: archive}
}

// Mount marks this handle as the single app root. It fails if another
// handle process-wide is already mounted, enforced by the caller (the
// bundle resolver) holding a single *Handle at a time per Runtime.
func (h *Handle) Mount() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mounted {
		return fmt.Errorf("bundle: already mounted")
	}
	h.mounted = true
	return nil
}

// Unmount clears the mount bit. A second call fails, matching
// adk_unmount_bundle's non-idempotent contract.
func (h *Handle) Unmount() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.mounted {
		return fmt.Errorf("bundle: not mounted")
	}
	h.mounted = false
	return nil
}

// Mounted reports whether this handle is currently the app root.
func (h *Handle) Mounted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mounted
}

// Close releases the underlying archive. It fails while the handle is
// still mounted, per the invariant that a mounted bundle cannot be closed
// out from under the running guest.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mounted {
		return fmt.Errorf("bundle: cannot close a mounted bundle")
	}
	return h.archive.Close()
}

// ReadFile reads the full contents of a path inside the archive.
func (h *Handle) ReadFile(path string) ([]byte, error) {
	f, err := h.archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %w", path, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WASMBytes reads the bundle's required app.wasm entry point.
func (h *Handle) WASMBytes() ([]byte, error) {
	return h.ReadFile(WASMPath)
}

// Config reads the bundle's optional embedded runtime-configuration
// overlay, reporting (nil, nil) when it's absent.
func (h *Handle) Config() ([]byte, error) {
	data, err := h.ReadFile(ConfigPath)
	if err != nil {
		if _, statErr := h.archive.Stat(ConfigPath); statErr != nil {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// FirstFallbackImage walks FallbackImagePriority and returns the bytes and
// path of the first one present in the bundle, or ok=false if none are.
func (h *Handle) FirstFallbackImage() (data []byte, path string, ok bool) {
	for _, candidate := range FallbackImagePriority {
		if _, err := h.archive.Stat(candidate); err != nil {
			continue
		}
		b, err := h.ReadFile(candidate)
		if err != nil {
			continue
		}
		return b, candidate, true
	}
	return nil, "", false
}
