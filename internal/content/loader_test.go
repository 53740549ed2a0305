package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestRouterLoadsRelativeFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "photos"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "photos", "a.jpg"), []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	router := NewRouter(RouterConfig{Root: root})
	body, err := router.Load(context.Background(), "photos/a.jpg")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(body) != "jpeg-bytes" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := router.Load(context.Background(), "photos/missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := router.Load(context.Background(), "../etc/passwd"); !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef for traversal, got %v", err)
	}
}

func TestRouterLoadsHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer server.Close()

	router := NewRouter(RouterConfig{})
	body, err := router.Load(context.Background(), server.URL+"/img.png")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(body) != "remote-bytes" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := router.Load(context.Background(), server.URL+"/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRouterRejectsBlobWithoutLoader(t *testing.T) {
	router := NewRouter(RouterConfig{})
	if _, err := router.Load(context.Background(), "azblob://photos/a.jpg"); !errors.Is(err, ErrUnsupportedRef) {
		t.Fatalf("expected ErrUnsupportedRef, got %v", err)
	}
}

func TestParseBlobRef(t *testing.T) {
	container, key, err := parseBlobRef("azblob://inspections/case-1/photo.jpg")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if container != "inspections" || key != "case-1/photo.jpg" {
		t.Fatalf("unexpected parse result %q %q", container, key)
	}
	if _, _, err := parseBlobRef("azblob://inspections"); !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef, got %v", err)
	}
}
