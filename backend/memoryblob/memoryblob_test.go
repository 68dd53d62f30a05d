package memoryblob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func TestPutAndURL(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, "users/u1/avatar.jpg", pngBytes); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	url, err := s.URL(ctx, "users/u1/avatar.jpg")
	if err != nil {
		t.Fatalf("URL() failed: %v", err)
	}
	if url != "mem://users/u1/avatar.jpg" {
		t.Fatalf("URL() = %q", url)
	}

	data, err := s.Get(ctx, "users/u1/avatar.jpg")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(data, pngBytes) {
		t.Fatal("Get() returned different bytes")
	}
}

func TestURLNotFound(t *testing.T) {
	s := New()
	if _, err := s.URL(context.Background(), "nope"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("URL() err = %v, want ErrNotFound", err)
	}
}

func TestPutRejectsDisallowedType(t *testing.T) {
	s := New()
	err := s.Put(context.Background(), "users/u1/avatar.jpg", []byte("just some text, not an image"))
	if err == nil {
		t.Fatal("Put() accepted a non-image upload")
	}
}

func TestPutOverwriteKeepsURL(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, "p", pngBytes); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	url1, _ := s.URL(ctx, "p")

	gif := append([]byte("GIF89a"), make([]byte, 32)...)
	if err := s.Put(ctx, "p", gif); err != nil {
		t.Fatalf("overwrite Put() failed: %v", err)
	}
	url2, _ := s.URL(ctx, "p")

	if url1 != url2 {
		t.Fatalf("overwrite changed URL: %q -> %q", url1, url2)
	}
	data, _ := s.Get(ctx, "p")
	if !bytes.Equal(data, gif) {
		t.Fatal("overwrite did not replace contents")
	}
}

func TestCustomAllowList(t *testing.T) {
	s := New(WithAllowedTypes("text/plain"))
	ctx := context.Background()

	if err := s.Put(ctx, "notes.txt", []byte("plain text here")); err != nil {
		t.Fatalf("Put() of allowed type failed: %v", err)
	}
	if err := s.Put(ctx, "img", pngBytes); err == nil {
		t.Fatal("Put() accepted a type outside the allow-list")
	}
}
