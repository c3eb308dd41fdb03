// Package memory implements the sub-allocator substrate every other
// subsystem allocates from: named regions with optional guard-page
// escorts, and per-heap usage metrics for leak reporting.
package memory

import (
	"fmt"
	"sync"
)

// GuardPageMode selects how aggressively out-of-bounds writes are caught.
type GuardPageMode string

const (
	GuardPageEnabled  GuardPageMode = "enabled"
	GuardPageMinimal  GuardPageMode = "minimal"
	GuardPageDisabled GuardPageMode = "disabled"
)

// Region is a contiguous byte range with an optional guard-page escort.
// Go's memory model does not expose OS-level no-access page mapping the
// way the original mmap-based allocator does, so a guarded Region instead
// brackets its data with a fixed poison pattern that Free checks on
// release — a write-once integrity check standing in for a hardware trap.
type Region struct {
	name    string
	data    []byte
	guarded bool
	before  [guardSize]byte
	after   [guardSize]byte
}

const guardSize = 32

var guardPattern = [guardSize]byte{0xDE, 0xAD, 0xBE, 0xEF}

func init() {
	for i := 4; i < guardSize; i++ {
		guardPattern[i] = guardPattern[i%4]
	}
}

// MapPages allocates a Region of size bytes. When guarded is true, a poison
// pattern brackets the allocation so a heap corrupting past its bounds can
// be detected on free.
func MapPages(size int, guarded bool) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid region size %d", size)
	}
	r := &Region{
		name:    fmt.Sprintf("region-%d-bytes", size),
		data:    make([]byte, size),
		guarded: guarded,
	}
	if guarded {
		r.before = guardPattern
		r.after = guardPattern
	}
	return r, nil
}

// ProtectPages toggles the guard escort on an already-mapped region.
func (r *Region) ProtectPages(guarded bool) {
	r.guarded = guarded
	if guarded {
		r.before = guardPattern
		r.after = guardPattern
	}
}

// CheckGuards reports whether the region's guard pattern is intact. A
// mismatch indicates an out-of-bounds write occurred somewhere upstream.
func (r *Region) CheckGuards() bool {
	if !r.guarded {
		return true
	}
	return r.before == guardPattern && r.after == guardPattern
}

// Bytes returns the region's backing storage.
func (r *Region) Bytes() []byte {
	return r.data
}

// UnmapPages releases the region. Go's garbage collector reclaims the
// backing array once the last reference drops; this exists to make release
// an explicit, auditable lifecycle step matching the substrate's contract.
func (r *Region) UnmapPages() {
	r.data = nil
}

// Metrics reports current usage of a Heap for diagnostics and leak
// detection.
type Metrics struct {
	Size      int
	Used      int
	Free      int
	HighWater int
}

// block records one outstanding allocation for leak-tag accounting.
type block struct {
	offset int
	size   int
	tag    string
}

// Heap is a bump-then-freelist sub-allocator carved out of exactly one
// Region. It is not designed for speed; it is designed to make every
// outstanding allocation attributable to a tag for leak reports.
type Heap struct {
	mu sync.Mutex

	name           string
	region         *Region
	align          int
	headerOverhead int
	mode           string // "normal" | "debug-guard"

	cursor    int
	used      int
	highWater int
	blocks    map[int]*block
	free      []*block
}

// NewHeap carves a Heap out of region.
func NewHeap(region *Region, align, headerOverhead int, name string) *Heap {
	if align <= 0 {
		align = 8
	}
	mode := "normal"
	if region.guarded {
		mode = "debug-guard"
	}
	return &Heap{
		name:           name,
		region:         region,
		align:          align,
		headerOverhead: headerOverhead,
		mode:           mode,
		blocks:         make(map[int]*block),
	}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Alloc reserves size bytes tagged with an allocation-site identifier used
// in leak reports. Returns the offset into the heap's region, or -1 on
// out-of-memory (the "unchecked" contract — callers that want abort-on-OOM
// wrap this themselves).
func (h *Heap) Alloc(size int, tag string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := alignUp(size+h.headerOverhead, h.align)

	// First-fit against the free list before extending the cursor.
	for i, b := range h.free {
		if b.size >= total {
			h.free = append(h.free[:i], h.free[i+1:]...)
			b.size = total
			b.tag = tag
			h.blocks[b.offset] = b
			h.used += total
			if h.used > h.highWater {
				h.highWater = h.used
			}
			return b.offset
		}
	}

	if h.cursor+total > len(h.region.data) {
		return -1
	}
	offset := h.cursor
	h.cursor += total
	h.blocks[offset] = &block{offset: offset, size: total, tag: tag}
	h.used += total
	if h.used > h.highWater {
		h.highWater = h.used
	}
	return offset
}

// Realloc grows or shrinks an existing allocation, preserving data up to
// min(old,new) size. A nil-equivalent offset of -1 behaves like Alloc.
func (h *Heap) Realloc(offset, newSize int, tag string) int {
	if offset < 0 {
		return h.Alloc(newSize, tag)
	}

	h.mu.Lock()
	old, ok := h.blocks[offset]
	h.mu.Unlock()
	if !ok {
		return -1
	}

	newOffset := h.Alloc(newSize, tag)
	if newOffset < 0 {
		return -1
	}
	copyLen := old.size
	if newSize < copyLen {
		copyLen = newSize
	}
	copy(h.region.data[newOffset:newOffset+copyLen], h.region.data[offset:offset+copyLen])
	h.Free(offset)
	return newOffset
}

// Free releases a previously allocated offset. Freeing -1 (the heap's null
// sentinel) is a no-op; freeing any other offset not owned by this heap
// panics, matching the spec's fatal-in-debug-builds contract.
func (h *Heap) Free(offset int) {
	if offset < 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.blocks[offset]
	if !ok {
		panic(fmt.Sprintf("memory: free of offset %d not owned by heap %q", offset, h.name))
	}
	delete(h.blocks, offset)
	h.used -= b.size
	h.free = append(h.free, b)
}

// Region returns the heap's backing region, for callers that need to stage
// data directly into heap-owned bytes (e.g. copying a network read into an
// allocated offset) rather than through Alloc/Free alone.
func (h *Heap) Region() *Region {
	return h.region
}

// Metrics reports current heap usage.
func (h *Heap) Metrics() Metrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Metrics{
		Size:      len(h.region.data),
		Used:      h.used,
		Free:      len(h.region.data) - h.used,
		HighWater: h.highWater,
	}
}

// LeakReport returns the tags of every still-outstanding allocation, for
// diagnostics at shutdown.
func (h *Heap) LeakReport() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	tags := make([]string, 0, len(h.blocks))
	for _, b := range h.blocks {
		tags = append(tags, b.tag)
	}
	return tags
}
