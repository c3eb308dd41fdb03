// Package extensions loads dynamic libraries from an extension directory,
// each probed for a fixed vtable, and ticks them once per frame. An
// optional YAML sidecar describes the capabilities an extension requests
// before it is ever loaded; on an interactive host, a missing grant is
// gated by a confirmation prompt rather than failing closed outright.
package extensions

import (
	"context"
	"encoding/json"
	"fmt"
)

// Info is what an extension's query_info call reports about itself.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RuntimeConfigReservations is the subset of a runtime-configuration
// document an extension may request: numeric reservations that merge by
// taking the maximum across every loaded extension, never the minimum.
type RuntimeConfigReservations map[string]int64

// Merge folds other into r by taking, per key, the larger of the two
// reservations. Extensions can only ever raise a reservation, never lower
// one already requested by another extension.
func (r RuntimeConfigReservations) Merge(other RuntimeConfigReservations) {
	for key, value := range other {
		if existing, ok := r[key]; !ok || value > existing {
			r[key] = value
		}
	}
}

// Linker binds additional host functions into a freshly loaded guest
// module. Not every extension provides one; a nil Linker means the
// extension contributes no guest-visible surface beyond its own tick.
type Linker interface {
	LinkHostFunctions(ctx context.Context, target any) error
}

// Vtable is the fixed set of symbols get_interface() must resolve to.
// query_info, get_runtime_config, startup, tick, suspend, resume, and
// shutdown are mandatory; Linker is optional.
type Vtable struct {
	QueryInfo       func() Info
	GetRuntimeConfig func() RuntimeConfigReservations
	Startup         func(ctx context.Context) error
	Tick            func(ctx context.Context) error
	Suspend         func(ctx context.Context) error
	Resume          func(ctx context.Context) error
	Shutdown        func(ctx context.Context) error
	Linker          Linker
}

// validate reports the first missing mandatory vtable entry, if any.
func (v Vtable) validate() error {
	switch {
	case v.QueryInfo == nil:
		return fmt.Errorf("extensions: vtable missing query_info")
	case v.GetRuntimeConfig == nil:
		return fmt.Errorf("extensions: vtable missing get_runtime_config")
	case v.Startup == nil:
		return fmt.Errorf("extensions: vtable missing startup")
	case v.Tick == nil:
		return fmt.Errorf("extensions: vtable missing tick")
	case v.Suspend == nil:
		return fmt.Errorf("extensions: vtable missing suspend")
	case v.Resume == nil:
		return fmt.Errorf("extensions: vtable missing resume")
	case v.Shutdown == nil:
		return fmt.Errorf("extensions: vtable missing shutdown")
	}
	return nil
}

// Loaded is one extension after its dynamic library has been opened and
// its vtable resolved.
type Loaded struct {
	Path   string
	Info   Info
	Vtable Vtable
}

// marshalInfo round-trips Info through JSON purely so loaders built atop
// a describe()-style JSON return value (rather than a native struct) can
// reuse the same decoding path as the rest of the host.
func marshalInfo(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("extensions: invalid query_info payload: %w", err)
	}
	return info, nil
}
