package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPagesRejectsNonPositiveSize(t *testing.T) {
	_, err := MapPages(0, false)
	assert.Error(t, err)

	_, err = MapPages(-1, true)
	assert.Error(t, err)
}

func TestRegionGuardsIntactByDefault(t *testing.T) {
	region, err := MapPages(4096, true)
	require.NoError(t, err)
	assert.True(t, region.CheckGuards())
}

func TestRegionGuardsDetectCorruption(t *testing.T) {
	region, err := MapPages(4096, true)
	require.NoError(t, err)

	region.before[0] ^= 0xFF
	assert.False(t, region.CheckGuards())
}

func TestRegionUnguardedAlwaysPasses(t *testing.T) {
	region, err := MapPages(4096, false)
	require.NoError(t, err)

	// an unguarded region never had a poison pattern to begin with, so
	// CheckGuards can't observe corruption either way.
	assert.True(t, region.CheckGuards())
}

func TestHeapAllocFreeReusesFreedSpace(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	offsetA := heap.Alloc(32, "a")
	require.GreaterOrEqual(t, offsetA, 0)
	heap.Free(offsetA)

	offsetB := heap.Alloc(16, "b")
	require.GreaterOrEqual(t, offsetB, 0)
	// first-fit reuses the freed block rather than extending the cursor.
	assert.Equal(t, offsetA, offsetB)
}

func TestHeapAllocReturnsMinusOneOnExhaustion(t *testing.T) {
	region, err := MapPages(64, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "tiny-heap")

	offset := heap.Alloc(128, "too-big")
	assert.Equal(t, -1, offset)
}

func TestHeapFreeOfUnownedOffsetPanics(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	assert.Panics(t, func() {
		heap.Free(999)
	})
}

func TestHeapFreeOfNegativeOffsetIsNoop(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	assert.NotPanics(t, func() {
		heap.Free(-1)
	})
}

func TestHeapReallocPreservesDataAndGrows(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	offset := heap.Alloc(8, "grow-me")
	copy(region.Bytes()[offset:offset+8], []byte("ABCDEFGH"))

	newOffset := heap.Realloc(offset, 32, "grow-me")
	require.GreaterOrEqual(t, newOffset, 0)
	assert.Equal(t, []byte("ABCDEFGH"), region.Bytes()[newOffset:newOffset+8])
}

func TestHeapReallocOfNegativeOffsetBehavesLikeAlloc(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	offset := heap.Realloc(-1, 16, "fresh")
	assert.GreaterOrEqual(t, offset, 0)
}

func TestHeapLeakReportListsOutstandingTags(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	offset := heap.Alloc(16, "leaked-allocation")
	leaks := heap.LeakReport()
	require.Len(t, leaks, 1)
	assert.Equal(t, "leaked-allocation", leaks[0])

	heap.Free(offset)
	assert.Empty(t, heap.LeakReport())
}

func TestHeapMetricsTracksUsageAndHighWater(t *testing.T) {
	region, err := MapPages(256, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	a := heap.Alloc(32, "a")
	metricsAfterAlloc := heap.Metrics()
	assert.Equal(t, 256, metricsAfterAlloc.Size)
	assert.Positive(t, metricsAfterAlloc.Used)
	assert.Equal(t, metricsAfterAlloc.Used, metricsAfterAlloc.HighWater)

	heap.Free(a)
	metricsAfterFree := heap.Metrics()
	assert.Equal(t, 0, metricsAfterFree.Used)
	// high water mark never drops even after everything is freed.
	assert.Equal(t, metricsAfterAlloc.Used, metricsAfterFree.HighWater)
}

func TestHeapRegionReturnsBackingRegion(t *testing.T) {
	region, err := MapPages(128, false)
	require.NoError(t, err)
	heap := NewHeap(region, 8, 0, "test-heap")

	assert.Same(t, region, heap.Region())
}

func TestNewHeapDetectsGuardedMode(t *testing.T) {
	guarded, err := MapPages(128, true)
	require.NoError(t, err)
	unguarded, err := MapPages(128, false)
	require.NoError(t, err)

	guardedHeap := NewHeap(guarded, 8, 0, "guarded")
	unguardedHeap := NewHeap(unguarded, 8, 0, "unguarded")

	assert.Equal(t, "debug-guard", guardedHeap.mode)
	assert.Equal(t, "normal", unguardedHeap.mode)
}
