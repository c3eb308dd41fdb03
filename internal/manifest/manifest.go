// Package manifest implements the persona → manifest → bundle-variant
// resolution pipeline: persona lookup, manifest fetch (through the cache),
// rule matching against device metrics, and weighted A/B selection of the
// bundle variant to load.
package manifest

import (
	"encoding/json"
	"fmt"
)

// PersonaFile is the top-level persona dictionary, keyed by persona id.
type PersonaFile map[string]PersonaEntry

// PersonaEntry names the manifest URL template for one persona id, plus a
// human-readable message shown when nothing resolves.
type PersonaEntry struct {
	ManifestURL          string `json:"manifest_url"`
	FallbackErrorMessage string `json:"fallback_error_message"`
}

// Lookup resolves a persona id to its manifest URL template, or an error
// carrying the persona's own fallback message when the id is unknown.
func (p PersonaFile) Lookup(personaID string) (PersonaEntry, error) {
	entry, ok := p[personaID]
	if !ok {
		return PersonaEntry{}, fmt.Errorf("manifest: unknown persona id %q", personaID)
	}
	return entry, nil
}

// ParsePersonaFile decodes a persona JSON document.
func ParsePersonaFile(data []byte) (PersonaFile, error) {
	var pf PersonaFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("manifest: invalid persona file: %w", err)
	}
	return pf, nil
}

// BundleVariant is one weighted entry in an option's bundle array.
type BundleVariant struct {
	URL         string `json:"url,omitempty"`
	File        string `json:"file,omitempty"`
	Signature   string `json:"signature"`
	Interpreter string `json:"interpreter,omitempty"`
	Sample      int    `json:"sample,omitempty"`
}

// Weight returns the variant's sampling weight, defaulting to 1 when
// omitted as the manifest format specifies.
func (v BundleVariant) Weight() int {
	if v.Sample <= 0 {
		return 1
	}
	return v.Sample
}

// Resource returns the variant's resource reference, preferring url over
// file when (invalidly) both are set.
func (v BundleVariant) Resource() string {
	if v.URL != "" {
		return v.URL
	}
	return v.File
}

// Option is one entry of v1.options[]: a set of device-metric predicates
// gating a runtime-configuration overlay and a weighted bundle variant set.
type Option struct {
	Rules         map[string]json.RawMessage `json:"rules"`
	RuntimeConfig json.RawMessage            `json:"runtime_config,omitempty"`
	Bundle        []BundleVariant            `json:"bundle"`
}

// manifestV1 is the versioned manifest body.
type manifestV1 struct {
	Options []Option `json:"options"`
}

// Manifest is the parsed manifest document.
type Manifest struct {
	V1 manifestV1 `json:"v1"`
}

// Parse decodes a manifest JSON document.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: invalid manifest document: %w", err)
	}
	return m, nil
}
