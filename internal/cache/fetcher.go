package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
)

// HTTPFetcher fetches a resource over plain HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, *ocispec.Descriptor, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: build request for %s: %w", ref, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("cache: %s returned status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

// FileFetcher reads a resource from the local filesystem.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, ref string) ([]byte, *ocispec.Descriptor, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

// ORASFetcher pulls a single-layer OCI artifact referenced as
// oras://<registry>/<repository>:<tag>, returning the layer's bytes and
// its content-addressed descriptor.
type ORASFetcher struct {
	PlainHTTP bool
}

func (f *ORASFetcher) Fetch(ctx context.Context, ref string) ([]byte, *ocispec.Descriptor, error) {
	trimmed := strings.TrimPrefix(ref, "oras://")
	repoRef, err := remote.NewRepository(trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: invalid oras reference %s: %w", ref, err)
	}
	repoRef.PlainHTTP = f.PlainHTTP

	dst := memory.New()
	desc, err := oras.Copy(ctx, repoRef, repoRef.Reference.Reference, dst, repoRef.Reference.Reference, oras.DefaultCopyOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: oras copy %s: %w", ref, err)
	}

	manifestBytes, err := content.FetchAll(ctx, dst, desc)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: fetch manifest for %s: %w", ref, err)
	}

	var man ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &man); err != nil {
		return nil, nil, fmt.Errorf("cache: decode oras manifest for %s: %w", ref, err)
	}
	if len(man.Layers) == 0 {
		return nil, nil, fmt.Errorf("cache: oras manifest for %s has no layers", ref)
	}
	layer := man.Layers[0]
	data, err := content.FetchAll(ctx, dst, layer)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: fetch layer for %s: %w", ref, err)
	}
	return data, &layer, nil
}

// FetcherFor selects the Fetcher implementation matching a resource
// reference's scheme: oras://, http(s)://, or a bare local path.
func FetcherFor(ref string, client *http.Client) Fetcher {
	switch {
	case strings.HasPrefix(ref, "oras://"):
		return &ORASFetcher{}
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return &HTTPFetcher{Client: client}
	default:
		return FileFetcher{}
	}
}
