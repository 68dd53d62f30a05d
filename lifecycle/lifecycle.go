// Package lifecycle provides consumer adapters that bind session
// subscriptions and one-shot resource fetches to an owner-controlled
// start/stop lifecycle. Whatever owns the consumer's lifetime calls Start
// when the consumer becomes interesting and Stop when it no longer is; no
// particular UI model is assumed.
package lifecycle

import (
	"context"
	"sync"

	"github.com/bookfeedhq/bookfeed-go/session"
)

// SessionConsumer mirrors the session store into a locally readable value
// for as long as it is started.
type SessionConsumer struct {
	store *session.Store
	cb    func(session.Session)

	mu      sync.Mutex
	unsub   func()
	current session.Session
}

// NewSessionConsumer creates a consumer over store. cb is optional; when
// set it is invoked on every session change while started.
func NewSessionConsumer(store *session.Store, cb func(session.Session)) *SessionConsumer {
	return &SessionConsumer{store: store, cb: cb}
}

// Start subscribes to the session store. The current session is delivered
// (and recorded) immediately. Idempotent.
func (c *SessionConsumer) Start() {
	c.mu.Lock()
	if c.unsub != nil {
		c.mu.Unlock()
		return
	}
	// Placeholder so a concurrent Start observes the consumer as started
	// before the subscription lands.
	c.unsub = func() {}
	c.mu.Unlock()

	unsub := c.store.Subscribe(func(s session.Session) {
		c.mu.Lock()
		c.current = s
		c.mu.Unlock()
		if c.cb != nil {
			c.cb(s)
		}
	})

	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()
}

// Stop disposes the subscription. Idempotent; safe to call before Start.
func (c *SessionConsumer) Stop() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Current returns the last observed session.
func (c *SessionConsumer) Current() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ResourceConsumer runs a fetch when started and exposes its loading state
// and result. A stopped consumer never applies a late-arriving result.
type ResourceConsumer[T any] struct {
	fetch func(ctx context.Context) (T, error)

	mu      sync.Mutex
	gen     int // bumped on Start and Stop; stale fetches check it
	cancel  context.CancelFunc
	loading bool
	value   T
	err     error
}

// NewResourceConsumer creates a consumer around fetch.
func NewResourceConsumer[T any](fetch func(ctx context.Context) (T, error)) *ResourceConsumer[T] {
	return &ResourceConsumer[T]{fetch: fetch}
}

// Start kicks off the fetch asynchronously. A second Start supersedes the
// first: the earlier in-flight fetch is cancelled and its result discarded.
func (c *ResourceConsumer[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.loading = true
	c.err = nil
	c.mu.Unlock()

	go func() {
		v, err := c.fetch(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			// Superseded or stopped while in flight.
			return
		}
		c.loading = false
		c.value = v
		c.err = err
	}()
}

// Stop cancels any in-flight fetch and prevents its result from being
// applied. Idempotent.
func (c *ResourceConsumer[T]) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.gen++
	c.loading = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Loading reports whether a fetch is in flight.
func (c *ResourceConsumer[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Value returns the last applied result.
func (c *ResourceConsumer[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Err returns the error from the last completed fetch, if any.
func (c *ResourceConsumer[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
