// Package memorystore provides an in-memory implementation of
// backend.DocStore with live query feeds. It is suitable for tests and
// single-process use; durability is out of scope.
package memorystore

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// Store implements backend.DocStore.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collectionData

	// lastTS guards server-timestamp monotonicity: a later write always
	// receives a strictly later timestamp, even within one wall tick.
	tsMu   sync.Mutex
	lastTS time.Time

	seq int64 // insertion counter, guarded by mu
}

type collectionData struct {
	docs        map[string]*docData
	subscribers map[*subscription]struct{}
}

type docData struct {
	data map[string]any
	seq  int64 // insertion order, tie-break for deterministic sorts
}

var _ backend.DocStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collectionData)}
}

func (s *Store) serverTime() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

// resolveData copies data one level deep, replacing backend.ServerTimestamp
// sentinels with a server-assigned time. Nested maps are copied so later
// caller mutations cannot alias stored state.
func (s *Store) resolveData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if v == backend.ServerTimestamp {
			out[k] = s.serverTime()
			continue
		}
		if m, ok := v.(map[string]any); ok {
			nested := make(map[string]any, len(m))
			for nk, nv := range m {
				nested[nk] = nv
			}
			out[k] = nested
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Store) collection(name string) *collectionData {
	cd, ok := s.collections[name]
	if !ok {
		cd = &collectionData{
			docs:        make(map[string]*docData),
			subscribers: make(map[*subscription]struct{}),
		}
		s.collections[name] = cd
	}
	return cd
}

// Create implements backend.DocStore.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	resolved := s.resolveData(data)

	s.mu.Lock()
	cd := s.collection(collection)
	s.seq++
	cd.docs[id] = &docData{data: resolved, seq: s.seq}
	s.notifyLocked(cd)
	s.mu.Unlock()

	return id, nil
}

// CreateIfAbsent implements backend.DocStore. The match-or-insert decision
// is made under the store lock, so at most one document can ever exist for a
// given query even under concurrent callers.
func (s *Store) CreateIfAbsent(ctx context.Context, collection string, q backend.Query, data map[string]any) (string, bool, error) {
	resolved := s.resolveData(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	cd := s.collection(collection)
	if matches := evaluate(cd, q); len(matches) > 0 {
		return matches[0].ID, false, nil
	}

	id := uuid.NewString()
	s.seq++
	cd.docs[id] = &docData{data: resolved, seq: s.seq}
	s.notifyLocked(cd)
	return id, true, nil
}

// Get implements backend.DocStore.
func (s *Store) Get(ctx context.Context, collection, id string) (backend.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cd, ok := s.collections[collection]
	if !ok {
		return backend.Document{}, backend.ErrNotFound
	}
	dd, ok := cd.docs[id]
	if !ok {
		return backend.Document{}, backend.ErrNotFound
	}
	return backend.Document{ID: id, Data: copyData(dd.data)}, nil
}

// Set implements backend.DocStore.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	resolved := s.resolveData(data)

	s.mu.Lock()
	cd := s.collection(collection)
	if existing, ok := cd.docs[id]; ok {
		existing.data = resolved
	} else {
		s.seq++
		cd.docs[id] = &docData{data: resolved, seq: s.seq}
	}
	s.notifyLocked(cd)
	s.mu.Unlock()

	return nil
}

// Update implements backend.DocStore.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any) error {
	resolved := s.resolveData(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.collections[collection]
	if !ok {
		return backend.ErrNotFound
	}
	dd, ok := cd.docs[id]
	if !ok {
		return backend.ErrNotFound
	}
	for k, v := range resolved {
		dd.data[k] = v
	}
	s.notifyLocked(cd)
	return nil
}

// Query implements backend.DocStore.
func (s *Store) Query(ctx context.Context, collection string, q backend.Query) ([]backend.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cd, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	return evaluate(cd, q), nil
}

// evaluate runs q against cd and returns matching documents with copied
// data. Callers must hold at least a read lock on the store.
func evaluate(cd *collectionData, q backend.Query) []backend.Document {
	type hit struct {
		doc backend.Document
		seq int64
	}
	var hits []hit
	for id, dd := range cd.docs {
		if !matches(dd.data, q.Where) {
			continue
		}
		hits = append(hits, hit{doc: backend.Document{ID: id, Data: copyData(dd.data)}, seq: dd.seq})
	}

	sort.Slice(hits, func(i, j int) bool {
		if q.OrderBy != "" {
			less, eq := compareField(hits[i].doc.Data[q.OrderBy], hits[j].doc.Data[q.OrderBy])
			if !eq {
				if q.Desc {
					return !less
				}
				return less
			}
		}
		return hits[i].seq < hits[j].seq
	})

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	docs := make([]backend.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return docs
}

func matches(data map[string]any, where []backend.Filter) bool {
	for _, f := range where {
		v, ok := data[f.Field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(v, f.Equals) {
			return false
		}
	}
	return true
}

// compareField orders two field values. Documents missing the order field
// sort last. Returns less and whether the values compare equal.
func compareField(a, b any) (less, eq bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return false, true
		}
		return a != nil, false
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			if av.Equal(bv) {
				return false, true
			}
			return av.Before(bv), false
		}
	case string:
		if bv, ok := b.(string); ok {
			if av == bv {
				return false, true
			}
			return av < bv, false
		}
	case int64:
		if bv, ok := b.(int64); ok {
			if av == bv {
				return false, true
			}
			return av < bv, false
		}
	case float64:
		if bv, ok := b.(float64); ok {
			if av == bv {
				return false, true
			}
			return av < bv, false
		}
	}
	return false, true
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if m, ok := v.(map[string]any); ok {
			nested := make(map[string]any, len(m))
			for nk, nv := range m {
				nested[nk] = nv
			}
			out[k] = nested
			continue
		}
		out[k] = v
	}
	return out
}
