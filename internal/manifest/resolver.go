package manifest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sandboxrt/sandboxrt/internal/cache"
)

// Resolution is the outcome of resolving a persona id down to one bundle
// variant ready for the bundle reader.
type Resolution struct {
	Option  Option
	Variant BundleVariant
}

// Resolver turns a persona file plus a persona id into a verified bundle
// variant, applying the cache's retry/backoff policy on manifest fetch.
type Resolver struct {
	store            *cache.Store
	logger           *slog.Logger
	installedName    string
	installedVersion string
	selectorOverride Selector
}

// NewResolver builds a Resolver backed by store. installedName/Version
// identify the running interpreter for the compatibility gate (§4.2).
func NewResolver(store *cache.Store, installedName, installedVersion string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:            store,
		logger:           logger,
		installedName:    installedName,
		installedVersion: installedVersion,
	}
}

// WithSelector overrides the default device-id CRC selector, for tests
// that need a deterministic pick independent of device id.
func (r *Resolver) WithSelector(s Selector) *Resolver {
	r.selectorOverride = s
	return r
}

// Resolve runs the full persona → manifest → rules → selection pipeline.
func (r *Resolver) Resolve(ctx context.Context, persona PersonaFile, personaID string, metrics DeviceMetrics) (Resolution, error) {
	entry, err := persona.Lookup(personaID)
	if err != nil {
		return Resolution{}, err
	}

	fetched, err := r.store.Fetch(ctx, entry.ManifestURL, cache.FetcherFor(entry.ManifestURL, nil), false)
	if err != nil {
		return Resolution{}, fmt.Errorf("manifest: %s: %w", entry.FallbackErrorMessage, err)
	}

	data, err := fetched.ReadAll()
	if err != nil {
		return Resolution{}, fmt.Errorf("manifest: reading cached manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return Resolution{}, err
	}

	return r.resolveFromManifest(m, metrics)
}

func (r *Resolver) resolveFromManifest(m Manifest, metrics DeviceMetrics) (Resolution, error) {
	selector := r.selectorOverride
	if selector == nil {
		selector = DeviceCRCSelector(metrics.DeviceID)
	}

	for _, option := range m.V1.Options {
		if !Matches(option.Rules, metrics, r.logger) {
			continue
		}

		remaining := option.Bundle
		for len(remaining) > 0 {
			variant, ok := SelectVariant(remaining, selector)
			if !ok {
				break
			}
			if SatisfiesInterpreter(variant, r.installedName, r.installedVersion, r.logger) {
				return Resolution{Option: option, Variant: variant}, nil
			}
			remaining = removeVariant(remaining, variant)
		}
	}

	return Resolution{}, fmt.Errorf("manifest: empty manifest, no option matched device metrics")
}

func removeVariant(variants []BundleVariant, target BundleVariant) []BundleVariant {
	out := make([]BundleVariant, 0, len(variants)-1)
	removed := false
	for _, v := range variants {
		if !removed && v == target {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out
}
