package extensions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/internal/capabilities"
)

func TestVtableValidateRejectsMissingSymbol(t *testing.T) {
	v := Vtable{
		QueryInfo:        func() Info { return Info{} },
		GetRuntimeConfig: func() RuntimeConfigReservations { return nil },
		// Startup deliberately left nil.
	}
	assert.Error(t, v.validate())
}

func TestReadDescriptorMissingSidecarIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	desc, found, err := readDescriptor(filepath.Join(dir, "nothere.so"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, desc.Capabilities)
}

func TestReadDescriptorParsesSidecar(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "ext.so")
	yamlPath := sidecarPath(libPath)
	require.NoError(t, os.WriteFile(yamlPath, []byte("capabilities:\n  - kind: fs\n    pattern: \"read:/tmp/*\"\n"), 0o644))

	desc, found, err := readDescriptor(libPath)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, desc.Capabilities, 1)
	assert.Equal(t, "fs", desc.Capabilities[0].Kind)
	assert.Equal(t, "read:/tmp/*", desc.Capabilities[0].Pattern)
}

type fakePrompter struct {
	allow bool
	calls int
}

func (f *fakePrompter) Confirm(cap capabilities.Capability) (bool, error) {
	f.calls++
	return f.allow, nil
}

func TestAuthorizeSkipsAlreadyGrantedCapabilities(t *testing.T) {
	granted := capabilities.NewGrant()
	granted.Add(capabilities.Capability{Kind: "fs", Pattern: "read:/tmp/*"})

	prompter := &fakePrompter{allow: true}
	l := NewLoader(granted, prompter)

	desc := Descriptor{Capabilities: []DescriptorCapability{{Kind: "fs", Pattern: "read:/tmp/*"}}}
	require.NoError(t, l.authorize(desc))
	assert.Zero(t, prompter.calls, "an already-granted capability must never reach the prompter")
}

func TestAuthorizePromptsForMissingCapability(t *testing.T) {
	prompter := &fakePrompter{allow: true}
	l := NewLoader(capabilities.NewGrant(), prompter)

	desc := Descriptor{Capabilities: []DescriptorCapability{{Kind: "network", Pattern: "outbound:443"}}}
	require.NoError(t, l.authorize(desc))
	assert.Equal(t, 1, prompter.calls)
	assert.True(t, l.granted.Contains(capabilities.Capability{Kind: "network", Pattern: "outbound:443"}))
}

func TestAuthorizeFailsClosedWithoutPrompterOnMissingCapability(t *testing.T) {
	l := NewLoader(capabilities.NewGrant(), nil)
	desc := Descriptor{Capabilities: []DescriptorCapability{{Kind: "exec", Pattern: "/bin/sh"}}}
	assert.Error(t, l.authorize(desc))
}

func TestAuthorizeFailsWhenUserDenies(t *testing.T) {
	prompter := &fakePrompter{allow: false}
	l := NewLoader(capabilities.NewGrant(), prompter)
	desc := Descriptor{Capabilities: []DescriptorCapability{{Kind: "env", Pattern: "SECRET"}}}
	assert.Error(t, l.authorize(desc))
}

func TestDiscoverFindsSharedLibraries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.so"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte{}, 0o644))

	paths, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "a.so"), paths[0])
}

func TestMergeReservationsAcrossLoadedExtensions(t *testing.T) {
	loaded := []Loaded{
		{Vtable: Vtable{GetRuntimeConfig: func() RuntimeConfigReservations { return RuntimeConfigReservations{"threads": 2} }}},
		{Vtable: Vtable{GetRuntimeConfig: func() RuntimeConfigReservations { return RuntimeConfigReservations{"threads": 6} }}},
	}
	merged := MergeReservations(loaded)
	assert.Equal(t, int64(6), merged["threads"])
}
