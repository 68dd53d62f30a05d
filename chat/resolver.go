package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// DefaultCacheSize bounds the conversation memo cache. Eviction is safe: a
// miss re-resolves through the find-or-create path at the cost of one
// backend query.
const DefaultCacheSize = 1024

// Cache memoizes resolved conversations by normalized participant key for
// the life of the process. It is shared by the writer and reader paths.
type Cache struct {
	entries *lru.Cache[string, Conversation]
}

// NewCache creates a cache bounded at size entries; size <= 0 uses
// DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, Conversation](size)
	if err != nil {
		return nil, fmt.Errorf("creating conversation cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get returns the cached conversation for key, if any.
func (c *Cache) Get(key string) (Conversation, bool) {
	return c.entries.Get(key)
}

// Add memoizes conv under key.
func (c *Cache) Add(key string, conv Conversation) {
	c.entries.Add(key, conv)
}

// Resolver finds or creates the conversation for a participant pair.
type Resolver struct {
	store backend.DocStore
	cache *Cache
	log   *slog.Logger

	// inflight collapses concurrent resolves of the same key into one
	// backend round-trip.
	mu       sync.Mutex
	inflight map[string]*resolveCall
}

type resolveCall struct {
	done chan struct{}
	conv Conversation
	err  error
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger. Default slog.Default().
func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// NewResolver creates a resolver over store using cache.
func NewResolver(store backend.DocStore, cache *Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		cache:    cache,
		log:      slog.Default(),
		inflight: make(map[string]*resolveCall),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the conversation for the unordered pair (a, b), creating
// it when absent. Repeat resolves for the same pair, in either order, return
// the same conversation without touching the backend.
func (r *Resolver) Resolve(ctx context.Context, a, b string) (Conversation, error) {
	key := Normalize(a, b)

	if conv, ok := r.cache.Get(key); ok {
		return conv, nil
	}

	r.mu.Lock()
	if call, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.conv, call.err
		case <-ctx.Done():
			return Conversation{}, ctx.Err()
		}
	}
	call := &resolveCall{done: make(chan struct{})}
	r.inflight[key] = call
	r.mu.Unlock()

	conv, err := r.resolve(ctx, key, a, b)

	call.conv, call.err = conv, err
	close(call.done)
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()

	return conv, err
}

func (r *Resolver) resolve(ctx context.Context, key, a, b string) (Conversation, error) {
	participants := map[string]any{a: true, b: true}

	// The uniqueness invariant guarantees at most one match, so limit 1 lets
	// the backend stop at the first hit. CreateIfAbsent keeps lookup and
	// insert atomic where the store supports it.
	id, created, err := r.store.CreateIfAbsent(ctx, Collection,
		backend.Query{
			Where: []backend.Filter{{Field: "users", Equals: participants}},
			Limit: 1,
		},
		map[string]any{"users": participants},
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("resolving conversation: %w", err)
	}
	if created {
		r.log.Debug("conversation created", slog.String("id", id))
	}

	conv := Conversation{ID: id}
	if b < a {
		a, b = b, a
	}
	conv.Participants = [2]string{a, b}

	r.cache.Add(key, conv)
	return conv, nil
}
