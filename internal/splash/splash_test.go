package splash

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/sandboxrt/internal/bundle"
	"github.com/sandboxrt/sandboxrt/internal/config"
)

func buildBundleWithFallback(t *testing.T) *bundle.Handle {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(bundle.FallbackImagePriority[1])
	require.NoError(t, err)
	_, err = w.Write([]byte("jpg-bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	reader := bytes.NewReader(buf.Bytes())
	archive, err := bundle.OpenZipArchive(reader, int64(reader.Len()), nil)
	require.NoError(t, err)
	return bundle.NewHandle(archive)
}

func TestResolveWithBundleWalksPriorityList(t *testing.T) {
	handle := buildBundleWithFallback(t)
	s, err := Resolve(handle, "custom bundle error")
	require.NoError(t, err)

	assert.Equal(t, StateBundleSplash, s.State)
	assert.Equal(t, bundle.FallbackImagePriority[1], s.ImagePath)
	assert.Equal(t, "jpg-bytes", string(s.ImageData))
	assert.Equal(t, "custom bundle error", s.Message)
}

func TestResolveWithoutBundleUsesDefault(t *testing.T) {
	s, err := Resolve(nil, "")
	require.NoError(t, err)

	assert.Equal(t, StateDefaultSplash, s.State)
	assert.Equal(t, DefaultImage, s.ImagePath)
	assert.Equal(t, DefaultMessage, s.Message)
}

func TestResolveUsesDefaultRuntimeConfig(t *testing.T) {
	s, err := Resolve(nil, "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), s.RuntimeConfig)
}

type fakeReinitializer struct {
	called bool
	cfg    config.RuntimeConfig
}

func (f *fakeReinitializer) Reinitialize(ctx context.Context, cfg config.RuntimeConfig) error {
	f.called = true
	f.cfg = cfg
	return nil
}

func TestEnterReinitializesSubsystemsWithDefaultConfig(t *testing.T) {
	r := &fakeReinitializer{}
	s, err := Enter(context.Background(), nil, "", r)
	require.NoError(t, err)

	assert.True(t, r.called)
	assert.Equal(t, config.Default(), r.cfg)
	assert.Equal(t, StateDefaultSplash, s.State)
}
