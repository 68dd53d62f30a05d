package memorystore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, "posts", map[string]any{"title": "dune"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	doc, err := s.Get(ctx, "posts", id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got := doc.Str("title"); got != "dune" {
		t.Fatalf("Get() title = %q, want %q", got, "dune")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "posts", "nope"); err != backend.ErrNotFound {
		t.Fatalf("Get() err = %v, want ErrNotFound", err)
	}
}

func TestServerTimestampMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Create(ctx, "msgs", map[string]any{
			"n":          int64(i),
			"created_at": backend.ServerTimestamp,
		})
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		ids = append(ids, id)
	}

	var last time.Time
	for i, id := range ids {
		doc, err := s.Get(ctx, "msgs", id)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		ts := doc.Time("created_at")
		if ts.IsZero() {
			t.Fatalf("doc %d: created_at not assigned", i)
		}
		if !ts.After(last) {
			t.Fatalf("doc %d: timestamp %v not after %v", i, ts, last)
		}
		last = ts
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, title := range []string{"b", "c", "a"} {
		if _, err := s.Create(ctx, "posts", map[string]any{
			"title":      title,
			"created_at": backend.ServerTimestamp,
		}); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	docs, err := s.Query(ctx, "posts", backend.Query{OrderBy: "created_at", Desc: true})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Query() returned %d docs, want 3", len(docs))
	}
	// Newest first: insertion order was b, c, a.
	want := []string{"a", "c", "b"}
	for i, doc := range docs {
		if doc.Str("title") != want[i] {
			t.Fatalf("docs[%d] title = %q, want %q", i, doc.Str("title"), want[i])
		}
	}

	limited, err := s.Query(ctx, "posts", backend.Query{OrderBy: "title", Limit: 2})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Str("title") != "a" || limited[1].Str("title") != "b" {
		t.Fatalf("limited query = %v, want titles [a b]", limited)
	}
}

func TestQueryMapEquality(t *testing.T) {
	s := New()
	ctx := context.Background()

	users := map[string]any{"u1": true, "u2": true}
	id, err := s.Create(ctx, "chats", map[string]any{"users": users})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := s.Create(ctx, "chats", map[string]any{
		"users": map[string]any{"u1": true, "u3": true},
	}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	docs, err := s.Query(ctx, "chats", backend.Query{
		Where: []backend.Filter{{Field: "users", Equals: map[string]any{"u2": true, "u1": true}}},
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != id {
		t.Fatalf("map-equality query = %v, want single doc %s", docs, id)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Set(ctx, "users", "u1", map[string]any{"email": "u1@x.com"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Update(ctx, "users", "u1", map[string]any{"bio": "hi"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	doc, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if doc.Str("email") != "u1@x.com" || doc.Str("bio") != "hi" {
		t.Fatalf("Update() lost fields: %v", doc.Data)
	}

	if err := s.Update(ctx, "users", "missing", map[string]any{"bio": "x"}); err != backend.ErrNotFound {
		t.Fatalf("Update() of missing doc err = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.Create(ctx, "posts", map[string]any{"title": "dune"})
	doc, _ := s.Get(ctx, "posts", id)
	doc.Data["title"] = "mutated"

	again, _ := s.Get(ctx, "posts", id)
	if again.Str("title") != "dune" {
		t.Fatal("mutating a returned document changed store state")
	}
}

func TestCreateIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	q := backend.Query{
		Where: []backend.Filter{{Field: "users", Equals: map[string]any{"a": true, "b": true}}},
		Limit: 1,
	}
	data := map[string]any{"users": map[string]any{"a": true, "b": true}}

	id1, created, err := s.CreateIfAbsent(ctx, "chats", q, data)
	if err != nil {
		t.Fatalf("CreateIfAbsent() failed: %v", err)
	}
	if !created {
		t.Fatal("first CreateIfAbsent() did not create")
	}

	id2, created, err := s.CreateIfAbsent(ctx, "chats", q, data)
	if err != nil {
		t.Fatalf("CreateIfAbsent() failed: %v", err)
	}
	if created || id2 != id1 {
		t.Fatalf("second CreateIfAbsent() = (%s, %v), want (%s, false)", id2, created, id1)
	}
}

func TestCreateIfAbsentConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	q := backend.Query{
		Where: []backend.Filter{{Field: "users", Equals: map[string]any{"a": true, "b": true}}},
		Limit: 1,
	}
	data := map[string]any{"users": map[string]any{"a": true, "b": true}}

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := s.CreateIfAbsent(ctx, "chats", q, data)
			if err != nil {
				t.Errorf("CreateIfAbsent() failed: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent CreateIfAbsent() produced distinct docs: %s vs %s", ids[0], ids[i])
		}
	}

	docs, err := s.Query(ctx, "chats", backend.Query{})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("store holds %d conversation docs, want 1", len(docs))
	}
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	s := New()
	ctx := context.Background()

	snapshots := make(chan []backend.Document, 16)
	unsub, err := s.Subscribe(ctx, "msgs", backend.Query{OrderBy: "n"}, func(docs []backend.Document) {
		snapshots <- docs
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer unsub()

	// Initial snapshot is the (empty) current result set.
	if got := waitSnapshot(t, snapshots); len(got) != 0 {
		t.Fatalf("initial snapshot has %d docs, want 0", len(got))
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, "msgs", map[string]any{"n": fmt.Sprintf("%d", i)}); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	// Snapshots arrive in order and grow monotonically.
	sizes := []int{1, 2, 3}
	for _, want := range sizes {
		got := waitSnapshot(t, snapshots)
		if len(got) != want {
			t.Fatalf("snapshot has %d docs, want %d", len(got), want)
		}
		for i := 0; i < len(got); i++ {
			if got[i].Str("n") != fmt.Sprintf("%d", i) {
				t.Fatalf("snapshot out of order: %v", got)
			}
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsub, err := s.Subscribe(ctx, "msgs", backend.Query{}, func([]backend.Document) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return count == 1 })

	unsub()
	unsub() // idempotent

	if _, err := s.Create(ctx, "msgs", map[string]any{"n": "1"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("callback fired %d times after unsubscribe, want 1 total", count)
	}
}

func waitSnapshot(t *testing.T, ch chan []backend.Document) []backend.Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
