package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectVariantDeterministicByDeviceID(t *testing.T) {
	variants := []BundleVariant{
		{URL: "https://example.test/a.wasm", Sample: 3},
		{URL: "https://example.test/b.wasm", Sample: 1},
	}
	selector := DeviceCRCSelector("e04f432955f1")

	first, ok := SelectVariant(variants, selector)
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		got, ok := SelectVariant(variants, DeviceCRCSelector("e04f432955f1"))
		require.True(t, ok)
		assert.Equal(t, first.URL, got.URL)
	}
}

func TestSelectVariantCumulativeWeight(t *testing.T) {
	variants := []BundleVariant{
		{URL: "a", Sample: 1},
		{URL: "b", Sample: 1},
		{URL: "c", Sample: 1},
	}

	tests := []struct {
		pick int
		want string
	}{
		{pick: 0, want: "a"},
		{pick: 1, want: "b"},
		{pick: 2, want: "c"},
	}
	for _, tt := range tests {
		got, ok := SelectVariant(variants, func(int) int { return tt.pick })
		require.True(t, ok)
		assert.Equal(t, tt.want, got.URL)
	}
}

func TestSelectVariantEmptyBundle(t *testing.T) {
	_, ok := SelectVariant(nil, func(int) int { return 0 })
	assert.False(t, ok)
}

func TestBundleVariantWeightDefault(t *testing.T) {
	assert.Equal(t, 1, BundleVariant{}.Weight())
	assert.Equal(t, 1, BundleVariant{Sample: -4}.Weight())
	assert.Equal(t, 5, BundleVariant{Sample: 5}.Weight())
}

func TestSatisfiesInterpreter(t *testing.T) {
	tests := []struct {
		name        string
		interpreter string
		installed   string
		want        bool
	}{
		{name: "no constraint", interpreter: "wasm3", installed: "1.0.0", want: true},
		{name: "satisfied constraint", interpreter: "wasm3@>=1.0.0", installed: "1.2.0", want: true},
		{name: "unsatisfied constraint", interpreter: "wasm3@>=2.0.0", installed: "1.2.0", want: false},
		{name: "different interpreter name", interpreter: "wasmtime@>=1.0.0", installed: "1.2.0", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := BundleVariant{Interpreter: tt.interpreter}
			got := SatisfiesInterpreter(v, "wasm3", tt.installed, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}
