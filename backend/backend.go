// Package backend defines the interfaces the application core consumes from
// its managed backend: a document store with live queries, an identity
// provider with a push-based auth-state feed, a blob store, and a small
// durable slot for local snapshots. The core is written against these
// interfaces; the sub-packages provide concrete implementations
// (memorystore, memoryauth, memoryblob, fileslot, redisslot).
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document, blob, or slot value is absent.
	// Absence is an expected outcome for read paths; callers that treat it as
	// such should check with errors.Is rather than failing.
	ErrNotFound = errors.New("backend: not found")

	// ErrNoUser is returned by operations that require an authenticated
	// principal when none is present.
	ErrNoUser = errors.New("backend: no authenticated user")

	// ErrInvalidCredentials is returned by sign-in when the email/password
	// pair does not match an account.
	ErrInvalidCredentials = errors.New("backend: invalid credentials")

	// ErrEmailTaken is returned by registration when the email is already in
	// use.
	ErrEmailTaken = errors.New("backend: email already registered")
)

// Principal describes the identity the auth provider knows about. Profile
// fields beyond these four live in the document store, not here.
type Principal struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// ProfileUpdate carries the limited set of fields the identity provider
// itself can mutate. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// AuthProvider is the identity/auth collaborator. Implementations must
// deliver auth-state changes push-style and support the basic email/password
// flows.
type AuthProvider interface {
	// SubscribeAuthState registers cb on the auth-state feed and returns a
	// disposer. cb is invoked immediately with the current state, then on
	// every subsequent change. A nil principal means "signed out". The
	// disposer is idempotent; no new delivery begins once it has run.
	SubscribeAuthState(cb func(*Principal)) (unsubscribe func())

	// SignIn authenticates with an email/password pair. On success the auth
	// feed fires with the signed-in principal.
	SignIn(ctx context.Context, email, password string) error

	// Register creates a new account and signs it in, returning the new
	// principal.
	Register(ctx context.Context, email, password string) (*Principal, error)

	// SignOut clears the current principal. The auth feed fires with nil.
	SignOut(ctx context.Context) error

	// UpdateProfile mutates the provider-held profile fields of the current
	// principal. Returns ErrNoUser when signed out.
	UpdateProfile(ctx context.Context, upd ProfileUpdate) error

	// CurrentPrincipal returns a copy of the current principal, or nil when
	// signed out.
	CurrentPrincipal() *Principal
}

// serverTimestamp is the sentinel type behind ServerTimestamp.
type serverTimestamp struct{}

// ServerTimestamp is a sentinel value for document fields. Stores replace it
// at write time with a server-assigned timestamp that is strictly monotonic
// within the store, so created_at ordering is total even for writes landing
// on the same wall-clock tick.
var ServerTimestamp = serverTimestamp{}

// Filter is a single equality predicate over a document field. Map values
// compare by deep equality, so a field holding a participants map can be
// matched against a literal map.
type Filter struct {
	Field  string
	Equals any
}

// Query selects and orders documents within a collection.
type Query struct {
	Where   []Filter
	OrderBy string
	Desc    bool
	Limit   int // 0 = no limit
}

// Document is a raw record read from the store.
type Document struct {
	ID   string
	Data map[string]any
}

// Str returns the named field as a string, or "" when the field is missing
// or not a string. Read paths must tolerate partially written documents.
func (d Document) Str(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Time returns the named field as a time.Time, or the zero time when the
// field is missing or not a timestamp.
func (d Document) Time(field string) time.Time {
	t, _ := d.Data[field].(time.Time)
	return t
}

// DocStore is the document database collaborator.
type DocStore interface {
	// Create inserts a new document with a store-assigned id.
	Create(ctx context.Context, collection string, data map[string]any) (id string, err error)

	// CreateIfAbsent atomically returns the id of the first document matching
	// q, or inserts data and returns the new id. created reports whether an
	// insert happened. This is the conditional-write primitive that lets a
	// resolver enforce at-most-one semantics the store's plain queries cannot.
	CreateIfAbsent(ctx context.Context, collection string, q Query, data map[string]any) (id string, created bool, err error)

	// Get reads one document by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set creates or replaces the document at a known id.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update merges data into an existing document. Returns ErrNotFound when
	// the document does not exist.
	Update(ctx context.Context, collection, id string, data map[string]any) error

	// Query returns the documents matching q, ordered per q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Subscribe attaches cb to a live query feed. cb receives the full
	// ordered result set immediately and again after every mutation that may
	// affect it. Snapshots for one subscription are delivered in order, and
	// no new delivery begins once the disposer has run. The disposer is
	// idempotent.
	Subscribe(ctx context.Context, collection string, q Query, cb func([]Document)) (unsubscribe func(), err error)
}

// BlobStore is the file storage collaborator.
type BlobStore interface {
	// Put stores data at path, overwriting any previous blob.
	Put(ctx context.Context, path string, data []byte) error

	// URL returns a downloadable URL for the blob at path. Returns
	// ErrNotFound when nothing is stored there.
	URL(ctx context.Context, path string) (string, error)
}

// Slot is a durable single-value store surviving process restarts, the role
// local storage plays for a browser client. Get returns ErrNotFound when the
// slot has never been set or was cleared.
type Slot interface {
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}
