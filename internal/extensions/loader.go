package extensions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/sandboxrt/sandboxrt/internal/capabilities"
)

// GetInterfaceSymbol is the exported symbol every extension's dynamic
// library must provide: a func() Vtable returning its fixed vtable.
const GetInterfaceSymbol = "GetInterface"

// Descriptor is the optional <name>.yaml sidecar declaring the
// capabilities an extension requests before it is ever loaded.
type Descriptor struct {
	Capabilities []DescriptorCapability `yaml:"capabilities"`
}

// DescriptorCapability mirrors capabilities.Capability in the sidecar's
// YAML shape.
type DescriptorCapability struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
}

// Prompter gates a capability grant the host has not already recorded.
// A TTY-backed Prompter asks the user; a non-interactive one always
// denies, matching the fail-closed contract for non-interactive hosts.
type Prompter interface {
	Confirm(cap capabilities.Capability) (bool, error)
}

// Loader probes a directory for extension dynamic libraries, reads each
// one's optional capability sidecar, gates any ungranted capability
// through a Prompter, and resolves the fixed vtable via GetInterfaceSymbol.
type Loader struct {
	granted  capabilities.Grant
	prompter Prompter
}

// NewLoader returns a Loader that treats granted as already-approved
// capabilities and falls back to prompter for anything missing.
func NewLoader(granted capabilities.Grant, prompter Prompter) *Loader {
	return &Loader{granted: granted, prompter: prompter}
}

// Discover lists candidate extension libraries under dir without loading
// them, matching the platform's shared-library suffix.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("extensions: reading extension directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".so") {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

// sidecarPath returns the optional descriptor path for a library path,
// e.g. "foo.so" -> "foo.yaml".
func sidecarPath(libPath string) string {
	ext := filepath.Ext(libPath)
	return strings.TrimSuffix(libPath, ext) + ".yaml"
}

func readDescriptor(libPath string) (Descriptor, bool, error) {
	path := sidecarPath(libPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, false, nil
		}
		return Descriptor{}, false, fmt.Errorf("extensions: reading descriptor %s: %w", path, err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, false, fmt.Errorf("extensions: parsing descriptor %s: %w", path, err)
	}
	return desc, true, nil
}

// authorize ensures every capability the descriptor requests is granted,
// prompting for anything missing. A nil Prompter means the host is
// non-interactive and fails closed on the first ungranted capability.
func (l *Loader) authorize(desc Descriptor) error {
	for _, c := range desc.Capabilities {
		cap := capabilities.Capability{Kind: c.Kind, Pattern: c.Pattern}
		if l.granted.Contains(cap) {
			continue
		}
		if l.prompter == nil {
			return fmt.Errorf("extensions: capability %s:%s not granted and host is non-interactive", cap.Kind, cap.Pattern)
		}
		ok, err := l.prompter.Confirm(cap)
		if err != nil {
			return fmt.Errorf("extensions: prompting for capability %s:%s: %w", cap.Kind, cap.Pattern, err)
		}
		if !ok {
			return fmt.Errorf("extensions: capability %s:%s denied", cap.Kind, cap.Pattern)
		}
		l.granted.Add(cap)
	}
	return nil
}

// Load opens the dynamic library at path, authorizes any capabilities its
// sidecar descriptor requests, and resolves its fixed vtable.
func (l *Loader) Load(path string) (Loaded, error) {
	desc, _, err := readDescriptor(path)
	if err != nil {
		return Loaded{}, err
	}
	if err := l.authorize(desc); err != nil {
		return Loaded{}, err
	}

	lib, err := plugin.Open(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("extensions: opening %s: %w", path, err)
	}

	sym, err := lib.Lookup(GetInterfaceSymbol)
	if err != nil {
		return Loaded{}, fmt.Errorf("extensions: %s does not export %s: %w", path, GetInterfaceSymbol, err)
	}

	getInterface, ok := sym.(func() Vtable)
	if !ok {
		return Loaded{}, fmt.Errorf("extensions: %s symbol has unexpected type", GetInterfaceSymbol)
	}

	vtable := getInterface()
	if err := vtable.validate(); err != nil {
		return Loaded{}, fmt.Errorf("extensions: %s: %w", path, err)
	}

	return Loaded{Path: path, Info: vtable.QueryInfo(), Vtable: vtable}, nil
}

// LoadAll discovers and loads every extension under dir, in filename
// order. A failure loading one extension aborts the whole batch, since a
// partially-initialized extension set has no well-defined merged runtime
// configuration.
func (l *Loader) LoadAll(ctx context.Context, dir string) ([]Loaded, error) {
	paths, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	loaded := make([]Loaded, 0, len(paths))
	for _, path := range paths {
		ext, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, ext)
	}
	return loaded, nil
}

// MergeReservations folds every loaded extension's requested runtime
// configuration into one set, taking the maximum of each numeric
// reservation across all extensions.
func MergeReservations(loaded []Loaded) RuntimeConfigReservations {
	merged := make(RuntimeConfigReservations)
	for _, ext := range loaded {
		merged.Merge(ext.Vtable.GetRuntimeConfig())
	}
	return merged
}
