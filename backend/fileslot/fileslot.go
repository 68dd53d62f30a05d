// Package fileslot provides a file-backed backend.Slot: one JSON blob in one
// file, surviving process restarts. An optional watch delivers external
// writes to the file, the way another browser tab's write to local storage
// is visible to its siblings.
package fileslot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// Slot implements backend.Slot on a single file.
type Slot struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ backend.Slot = (*Slot)(nil)

// Option configures the slot.
type Option func(*Slot)

// WithLogger sets the logger used by the watch loop. Default slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Slot) { s.log = log }
}

// New creates a slot persisted at path. The file is created on first Set.
func New(path string, opts ...Option) *Slot {
	s := &Slot{path: path, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements backend.Slot.
func (s *Slot) Get(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading slot %q: %w", s.path, err)
	}
	return data, nil
}

// Set implements backend.Slot. The write is atomic: a temp file in the same
// directory is renamed over the target, so a crash mid-write can never leave
// a torn blob behind.
func (s *Slot) Set(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating slot dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp slot file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing slot %q: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp slot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing slot %q: %w", s.path, err)
	}
	return nil
}

// Clear implements backend.Slot.
func (s *Slot) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing slot %q: %w", s.path, err)
	}
	return nil
}

// Watch invokes cb with the slot contents whenever the file is rewritten by
// another process. Only one watch per slot; Close stops it.
func (s *Slot) Watch(cb func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return fmt.Errorf("slot %q is already being watched", s.path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory, not the file: atomic rename replaces the inode
	// and a file-level watch would go stale after the first Set.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching slot dir: %w", err)
	}

	s.watcher = w
	s.done = make(chan struct{})
	done := s.done

	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(s.path)
				if err != nil {
					s.log.Debug("slot watch read failed", slog.String("path", s.path), slog.String("err", err.Error()))
					continue
				}
				cb(data)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Debug("slot watch error", slog.String("path", s.path), slog.String("err", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops the watch loop, if any.
func (s *Slot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
