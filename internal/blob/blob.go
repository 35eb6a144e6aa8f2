// Package blob abstracts attachment byte storage. The chat core only
// needs Put/Serve/Delete; which backend holds the bytes is a deployment
// concern.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Store reads and writes attachment blobs by opaque key. Keys are
// generated server-side and never derived from user input.
type Store interface {
	Put(ctx context.Context, key, contentType string, data io.Reader) error
	// Serve streams the blob over HTTP with byte-range support, so video
	// and audio attachments are seekable.
	Serve(w http.ResponseWriter, r *http.Request, key, fileName, contentType string)
	Delete(ctx context.Context, key string) error
}

// FSStore stores blobs under a local directory. Used in development and
// single-node deployments.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		dir = "./data/blobs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes the blob, creating intermediate directories.
func (s *FSStore) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(p)
		return err
	}
	return f.Close()
}

// Serve streams the blob. http.ServeContent handles Range requests and
// 206 responses.
func (s *FSStore) Serve(w http.ResponseWriter, r *http.Request, key, fileName, contentType string) {
	p, err := s.path(key)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(p)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fileName))
	http.ServeContent(w, r, fileName, info.ModTime(), f)
}

// Delete removes the blob. Missing blobs are not an error.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
