// Package memoryblob provides an in-memory backend.BlobStore. Uploads are
// sniffed and validated against an allow-list of media types so a bad upload
// fails at the write path instead of surfacing as a broken image later.
package memoryblob

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/elnormous/contenttype"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// Store implements backend.BlobStore.
type Store struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	allowed []contenttype.MediaType
}

var _ backend.BlobStore = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithAllowedTypes replaces the default allow-list (image/jpeg, image/png,
// image/gif, image/webp). Each entry is a media type like "image/png"; an
// empty list disables validation.
func WithAllowedTypes(types ...string) Option {
	return func(s *Store) {
		s.allowed = nil
		for _, t := range types {
			s.allowed = append(s.allowed, contenttype.NewMediaType(t))
		}
	}
}

// New creates an empty blob store.
func New(opts ...Option) *Store {
	s := &Store{blobs: make(map[string][]byte)}
	WithAllowedTypes("image/jpeg", "image/png", "image/gif", "image/webp")(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements backend.BlobStore.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if len(s.allowed) > 0 {
		detected, err := contenttype.ParseMediaType(http.DetectContentType(data))
		if err != nil {
			return fmt.Errorf("detecting media type for %q: %w", path, err)
		}
		ok := false
		for _, mt := range s.allowed {
			if detected.Type == mt.Type && detected.Subtype == mt.Subtype {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("media type %s/%s not allowed for %q", detected.Type, detected.Subtype, path)
		}
	}

	s.mu.Lock()
	s.blobs[path] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

// URL implements backend.BlobStore. URLs are deterministic per path so a
// re-upload at the same path keeps the same URL, matching the overwrite
// semantics callers rely on.
func (s *Store) URL(ctx context.Context, path string) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[path]
	s.mu.RUnlock()
	if !ok {
		return "", backend.ErrNotFound
	}
	return "mem://" + path, nil
}

// Get returns the stored bytes for tests and local serving.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[path]
	s.mu.RUnlock()
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
