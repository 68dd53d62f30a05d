package memorystore

import (
	"context"
	"sync"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// subscription is one live query feed attachment. Snapshots are queued under
// mu and drained by a single pump goroutine, so delivery for a subscription
// is serialized: a later snapshot can never overtake an earlier one.
type subscription struct {
	query backend.Query
	cb    func([]backend.Document)

	mu      sync.Mutex
	pending [][]backend.Document
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	store *Store
	cd    *collectionData
}

// Subscribe implements backend.DocStore.
func (s *Store) Subscribe(ctx context.Context, collection string, q backend.Query, cb func([]backend.Document)) (func(), error) {
	sub := &subscription{
		query: q,
		cb:    cb,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		store: s,
	}

	s.mu.Lock()
	cd := s.collection(collection)
	sub.cd = cd
	cd.subscribers[sub] = struct{}{}
	initial := evaluate(cd, q)
	s.mu.Unlock()

	go sub.pump()
	sub.enqueue(initial)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.stop()
			case <-sub.done:
			}
		}()
	}

	return sub.stop, nil
}

// notifyLocked re-evaluates every subscription on cd and queues the fresh
// snapshot. Callers must hold the store write lock.
func (s *Store) notifyLocked(cd *collectionData) {
	for sub := range cd.subscribers {
		sub.enqueue(evaluate(cd, sub.query))
	}
}

func (sub *subscription) enqueue(snapshot []backend.Document) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.pending = append(sub.pending, snapshot)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) pump() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}
		for {
			sub.mu.Lock()
			if sub.closed || len(sub.pending) == 0 {
				sub.mu.Unlock()
				break
			}
			snapshot := sub.pending[0]
			sub.pending = sub.pending[1:]
			sub.mu.Unlock()

			// Closed is re-checked immediately before invoking so no new
			// delivery starts once stop has run.
			sub.mu.Lock()
			closed := sub.closed
			sub.mu.Unlock()
			if closed {
				return
			}
			sub.cb(snapshot)
		}
	}
}

// stop detaches the subscription. Idempotent; no new delivery begins once it
// has run.
func (sub *subscription) stop() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.pending = nil
	close(sub.done)
	sub.mu.Unlock()

	sub.store.mu.Lock()
	delete(sub.cd.subscribers, sub)
	sub.store.mu.Unlock()
}
