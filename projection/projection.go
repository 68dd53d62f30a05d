// Package projection turns a live document query into a denormalized view.
// Every snapshot from the feed is enriched record-by-record with a
// caller-supplied function, and the consumer callback receives the complete
// resulting slice: never a partial batch, and always in snapshot order.
package projection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// EnrichFunc resolves one raw document into one view record. It must
// tolerate missing or partially written fields (backend.Document's typed
// accessors default rather than fail) and should be a pure function of the
// document plus whatever it fetches.
type EnrichFunc[T any] func(ctx context.Context, doc backend.Document) (T, error)

// Option configures a pipeline subscription.
type Option func(*settings)

type settings struct {
	log   *slog.Logger
	onErr func(error)
}

// WithLogger sets the logger for discarded batches. Default slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithErrorHandler registers fn for the error path: it is called once per
// discarded batch with the first enrichment error. The batch is still
// withheld from the consumer callback.
func WithErrorHandler(fn func(error)) Option {
	return func(s *settings) { s.onErr = fn }
}

// Subscribe attaches to the live query feed for collection/q and delivers
// fully enriched snapshots to cb.
//
// For each feed snapshot, enrich runs concurrently over every document and
// the results are joined before delivery: if any enrichment fails, the whole
// batch is discarded and the error path is taken instead; cb never sees a
// partial result. Result order always matches snapshot order. Batches for
// one subscription are processed serially, so a logically older snapshot
// cannot overwrite a newer one.
//
// The returned disposer stops the upstream feed; it is idempotent, and
// disposal is checked immediately before each cb invocation so a batch in
// flight at disposal time is dropped rather than delivered late.
func Subscribe[T any](ctx context.Context, store backend.DocStore, collection string, q backend.Query, enrich EnrichFunc[T], cb func([]T), opts ...Option) (func(), error) {
	s := &settings{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	var (
		mu       sync.Mutex
		disposed bool
	)

	unsub, err := store.Subscribe(ctx, collection, q, func(docs []backend.Document) {
		out, err := EnrichAll(ctx, docs, enrich)
		if err != nil {
			s.log.Error("projection batch discarded",
				slog.String("collection", collection),
				slog.String("err", err.Error()))
			if s.onErr != nil {
				s.onErr(err)
			}
			return
		}

		mu.Lock()
		d := disposed
		mu.Unlock()
		if d {
			return
		}
		cb(out)
	})
	if err != nil {
		return nil, err
	}

	return func() {
		mu.Lock()
		already := disposed
		disposed = true
		mu.Unlock()
		if !already {
			unsub()
		}
	}, nil
}

// EnrichAll fans enrich out over docs, one goroutine per document, and joins
// at a barrier. It returns the enriched records in input order, or the first
// error encountered, in which case no partial slice is returned. It is also
// used directly by one-shot read paths that want the same all-or-nothing
// semantics without a feed.
func EnrichAll[T any](ctx context.Context, docs []backend.Document, enrich EnrichFunc[T]) ([]T, error) {
	out := make([]T, len(docs))

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc backend.Document) {
			defer wg.Done()
			v, err := enrich(ctx, doc)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			out[i] = v
		}(i, doc)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
