package fileslot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

func TestGetBeforeSet(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "session.json"))
	if _, err := s.Get(context.Background()); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Get() before Set err = %v, want ErrNotFound", err)
	}
}

func TestSetGetClear(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "session.json"))
	ctx := context.Background()

	blob := []byte(`{"id":"u1"}`)
	if err := s.Set(ctx, blob); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("Get() = %s, want %s", got, blob)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if _, err := s.Get(ctx); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Get() after Clear err = %v, want ErrNotFound", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second Clear() failed: %v", err)
	}
}

func TestSetCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "session.json")
	s := New(path)
	if err := s.Set(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("slot file missing: %v", err)
	}
}

func TestSetLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "session.json"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Set(ctx, []byte("payload")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("slot dir has %d entries, want 1: %v", len(entries), names)
	}
}

func TestWatchSeesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)
	ctx := context.Background()

	if err := s.Set(ctx, []byte("initial")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	updates := make(chan []byte, 8)
	if err := s.Watch(func(data []byte) { updates <- data }); err != nil {
		t.Skipf("filesystem watching unavailable: %v", err)
	}
	defer s.Close()

	if err := s.Watch(func([]byte) {}); err == nil {
		t.Fatal("second Watch() on the same slot succeeded")
	}

	// Simulate another process replacing the file the same way Set does.
	other := New(path)
	if err := other.Set(ctx, []byte("external")); err != nil {
		t.Fatalf("external Set() failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case data := <-updates:
			if bytes.Equal(data, []byte("external")) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for watch callback")
		}
	}
}

func TestCloseWithoutWatch(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "session.json"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() without Watch failed: %v", err)
	}
}
