package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersonaFile(t *testing.T) {
	doc := []byte(`{
		"kid-profile": {"manifest_url": "https://example.test/%s/%s/manifest.json", "fallback_error_message": "no manifest for kid-profile"}
	}`)
	pf, err := ParsePersonaFile(doc)
	require.NoError(t, err)

	entry, err := pf.Lookup("kid-profile")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/%s/%s/manifest.json", entry.ManifestURL)

	_, err = pf.Lookup("missing")
	assert.Error(t, err)
}

func TestParseManifest(t *testing.T) {
	doc := []byte(`{
		"v1": {
			"options": [
				{
					"rules": {"region": "eu"},
					"bundle": [{"url": "https://example.test/a.wasm", "signature": "sig", "sample": 2}]
				}
			]
		}
	}`)
	m, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, m.V1.Options, 1)
	assert.Equal(t, 2, m.V1.Options[0].Bundle[0].Weight())
}
