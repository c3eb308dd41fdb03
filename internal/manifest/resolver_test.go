package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/internal/cache"
)

func writeManifestFixture(t *testing.T, dir string, doc string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestResolverResolveSelectsMatchingOption(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifestFixture(t, dir, `{
		"v1": {
			"options": [
				{
					"rules": {"region": "us"},
					"bundle": [{"file": "wrong.wasm", "signature": "sig"}]
				},
				{
					"rules": {"region": "eu"},
					"bundle": [{"file": "right.wasm", "signature": "sig"}]
				}
			]
		}
	}`)

	store, err := cache.NewStore(filepath.Join(dir, "cachedir"), cache.DefaultRetryPolicy(), nil)
	require.NoError(t, err)

	persona := PersonaFile{
		"default": PersonaEntry{ManifestURL: manifestPath, FallbackErrorMessage: "no manifest"},
	}

	resolver := NewResolver(store, "wasm3", "1.0.0", nil)
	resolution, err := resolver.Resolve(context.Background(), persona, "default", DeviceMetrics{Region: "eu", DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, "right.wasm", resolution.Variant.File)
}

func TestResolverResolveEmptyManifestWhenNoOptionMatches(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifestFixture(t, dir, `{
		"v1": {"options": [{"rules": {"region": "us"}, "bundle": [{"file": "a.wasm", "signature": "sig"}]}]}
	}`)

	store, err := cache.NewStore(filepath.Join(dir, "cachedir"), cache.DefaultRetryPolicy(), nil)
	require.NoError(t, err)

	persona := PersonaFile{"default": PersonaEntry{ManifestURL: manifestPath}}
	resolver := NewResolver(store, "wasm3", "1.0.0", nil)

	_, err = resolver.Resolve(context.Background(), persona, "default", DeviceMetrics{Region: "eu"})
	assert.Error(t, err)
}

func TestResolverInterpreterGateFallsThroughToNextVariant(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifestFixture(t, dir, `{
		"v1": {
			"options": [{
				"rules": {},
				"bundle": [
					{"file": "incompatible.wasm", "signature": "sig", "interpreter": "wasm3@>=2.0.0", "sample": 100},
					{"file": "compatible.wasm", "signature": "sig", "interpreter": "wasm3@>=1.0.0", "sample": 1}
				]
			}]
		}
	}`)

	store, err := cache.NewStore(filepath.Join(dir, "cachedir"), cache.DefaultRetryPolicy(), nil)
	require.NoError(t, err)

	persona := PersonaFile{"default": PersonaEntry{ManifestURL: manifestPath}}
	resolver := NewResolver(store, "wasm3", "1.0.0", nil).WithSelector(func(int) int { return 0 })

	resolution, err := resolver.Resolve(context.Background(), persona, "default", DeviceMetrics{})
	require.NoError(t, err)
	assert.Equal(t, "compatible.wasm", resolution.Variant.File)
}
