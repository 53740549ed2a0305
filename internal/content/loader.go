// Package content fetches item payloads referenced by case items. References
// are plain paths (resolved under a root directory), http(s) URLs, or
// azblob://container/key for Azure Blob Storage.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("content not found")
	ErrInvalidRef     = errors.New("invalid content reference")
	ErrUnsupportedRef = errors.New("unsupported content reference")
)

const maxContentBytes = 32 << 20

// Loader returns the bytes behind a content reference.
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

type RouterConfig struct {
	Root        string
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
	// Blob is optional; azblob:// references fail with ErrUnsupportedRef without it.
	Blob Loader
}

// Router dispatches a reference to the loader for its scheme.
type Router struct {
	root       string
	httpClient *http.Client
	blob       Loader
}

func NewRouter(config RouterConfig) *Router {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.HTTPTimeout}
	}
	return &Router{
		root:       config.Root,
		httpClient: config.HTTPClient,
		blob:       config.Blob,
	}
}

func (r *Router) Load(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, ErrInvalidRef
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.loadHTTP(ctx, ref)
	case strings.HasPrefix(ref, blobScheme):
		if r.blob == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedRef, ref)
		}
		return r.blob.Load(ctx, ref)
	default:
		return r.loadFile(ref)
	}
}

func (r *Router) loadFile(ref string) ([]byte, error) {
	if strings.Contains(ref, "..") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	path := ref
	if r.root != "" && !filepath.IsAbs(ref) {
		path = filepath.Join(r.root, ref)
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open content %s: %w", ref, err)
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", ref, err)
	}
	return body, nil
}

func (r *Router) loadHTTP(ctx context.Context, ref string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch content %s: %w", ref, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("fetch content %s: status %d", ref, response.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", ref, err)
	}
	return body, nil
}
