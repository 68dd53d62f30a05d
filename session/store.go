package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bookfeedhq/bookfeed-go/backend"
	"github.com/bookfeedhq/bookfeed-go/profile"
)

// avatarPathFormat is where profile photos land in the blob store.
const avatarPathFormat = "users/%s/avatar.jpg"

// Store is the process-wide source of truth for the current session.
//
// State flows one way: the auth feed (and the store's own write paths)
// mutate the Session through merge, merge persists a snapshot to the slot
// and then notifies subscribers. Subscribers always receive value copies;
// nothing outside the store can alias its state.
type Store struct {
	provider backend.AuthProvider
	slot     backend.Slot
	profiles *profile.Service
	blobs    backend.BlobStore
	log      *slog.Logger

	mu        sync.RWMutex
	session   Session
	observers map[string]func(Session)
	authUnsub func()
	closed    bool
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the store's logger. Default slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store. Call Initialize before use.
func New(provider backend.AuthProvider, slot backend.Slot, profiles *profile.Service, blobs backend.BlobStore, opts ...Option) *Store {
	s := &Store{
		provider:  provider,
		slot:      slot,
		profiles:  profiles,
		blobs:     blobs,
		log:       slog.Default(),
		observers: make(map[string]func(Session)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize hydrates the session from the durable slot and attaches to the
// auth-state feed. A missing or corrupt slot falls back to the signed-out
// session; hydration never fails the caller. The feed attachment lives for
// the life of the store.
func (s *Store) Initialize(ctx context.Context) {
	var restored Session
	data, err := s.slot.Get(ctx)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, &restored); uerr != nil {
			s.log.Warn("discarding corrupt session snapshot", slog.String("err", uerr.Error()))
			restored = Session{}
		}
	case errors.Is(err, backend.ErrNotFound):
		// First run on this host.
	default:
		s.log.Warn("session snapshot unavailable", slog.String("err", err.Error()))
	}

	s.mu.Lock()
	s.session = restored
	s.mu.Unlock()

	unsub := s.provider.SubscribeAuthState(func(p *backend.Principal) {
		s.onAuthState(ctx, p)
	})

	s.mu.Lock()
	s.authUnsub = unsub
	s.mu.Unlock()
}

// onAuthState handles one upstream auth event. With a principal present the
// identity fields land first and the profile document is fetched
// asynchronously; a subscriber may observe the identity-only state before
// FullyLoaded flips. That window is part of the contract, not a bug.
func (s *Store) onAuthState(ctx context.Context, p *backend.Principal) {
	if p == nil {
		s.merge(ctx, func(sess *Session) { *sess = Session{} })
		return
	}

	uid := p.UID
	s.merge(ctx, func(sess *Session) {
		sess.ID = p.UID
		sess.Email = p.Email
		sess.DisplayName = p.DisplayName
		sess.PhotoURL = p.PhotoURL
	})

	go s.loadProfile(ctx, uid)
}

// loadProfile performs the secondary profile fetch. On failure FullyLoaded
// stays false and the fetch runs again on the next auth event; there is no
// retry loop here.
func (s *Store) loadProfile(ctx context.Context, uid string) {
	prof, err := s.profiles.Get(ctx, uid)
	if err != nil {
		s.log.Error("profile fetch failed", slog.String("uid", uid), slog.String("err", err.Error()))
		return
	}

	bio := ""
	if prof != nil {
		bio = prof.Bio
	}

	s.merge(ctx, func(sess *Session) {
		// The principal may have changed while the fetch was in flight;
		// never apply a stale profile to a different session.
		if sess.ID != uid {
			return
		}
		sess.Bio = bio
		sess.FullyLoaded = true
	})
}

// merge applies mutate to the session, persists the new snapshot, and
// notifies subscribers, in that order. Persistence failures are logged and
// otherwise ignored: the in-memory state is already authoritative.
func (s *Store) merge(ctx context.Context, mutate func(*Session)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	mutate(&s.session)
	snapshot := s.session
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	s.notifyAll(snapshot)
}

func (s *Store) persist(ctx context.Context, snapshot Session) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error("marshaling session snapshot", slog.String("err", err.Error()))
		return
	}
	if err := s.slot.Set(ctx, data); err != nil {
		s.log.Error("persisting session snapshot", slog.String("err", err.Error()))
	}
}

// notifyAll delivers snapshot to every observer registered at call time.
// Each delivery re-checks registration first, so a disposed observer is
// skipped even if it was present when the merge happened. A panicking
// observer is isolated; the rest are still notified.
func (s *Store) notifyAll(snapshot Session) {
	s.mu.RLock()
	tokens := make([]string, 0, len(s.observers))
	for token := range s.observers {
		tokens = append(tokens, token)
	}
	s.mu.RUnlock()

	for _, token := range tokens {
		s.mu.RLock()
		cb, ok := s.observers[token]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		s.invoke(cb, snapshot)
	}
}

func (s *Store) invoke(cb func(Session), snapshot Session) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session observer panicked", slog.Any("panic", r))
		}
	}()
	cb(snapshot)
}

// Subscribe registers cb and immediately invokes it with a copy of the
// current session. The returned disposer removes the registration; calling
// it more than once, or after further store updates, is a no-op.
func (s *Store) Subscribe(cb func(Session)) (unsubscribe func()) {
	token := uuid.NewString()

	s.mu.Lock()
	s.observers[token] = cb
	snapshot := s.session
	s.mu.Unlock()

	s.invoke(cb, snapshot)

	return func() {
		s.mu.Lock()
		delete(s.observers, token)
		s.mu.Unlock()
	}
}

// Current returns a copy of the session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Close stops further merges and detaches from the auth feed. Intended for
// tests and orderly shutdown; the store is not reusable afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.authUnsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Login authenticates with an email/password pair. The session itself is
// updated through the auth feed, not here.
func (s *Store) Login(ctx context.Context, email, password string) error {
	if err := s.provider.SignIn(ctx, email, password); err != nil {
		s.log.Error("login failed", slog.String("email", email), slog.String("err", err.Error()))
		return fmt.Errorf("signing in: %w", err)
	}
	return nil
}

// Register creates an account and its initial profile document.
func (s *Store) Register(ctx context.Context, email, password string) error {
	p, err := s.provider.Register(ctx, email, password)
	if err != nil {
		s.log.Error("registration failed", slog.String("email", email), slog.String("err", err.Error()))
		return fmt.Errorf("registering: %w", err)
	}
	if err := s.profiles.Create(ctx, p.UID, email); err != nil {
		s.log.Error("profile creation failed", slog.String("uid", p.UID), slog.String("err", err.Error()))
		return fmt.Errorf("creating profile: %w", err)
	}
	return nil
}

// Logout signs the current principal out. The auth feed delivers the reset.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Error("logout failed", slog.String("err", err.Error()))
		return fmt.Errorf("signing out: %w", err)
	}
	return nil
}

// EditProfile updates the display name and bio, writing the provider-held
// fields and the profile document concurrently and waiting for both.
func (s *Store) EditProfile(ctx context.Context, displayName, bio string) error {
	uid := s.Current().ID
	if uid == "" {
		return backend.ErrNoUser
	}

	var wg sync.WaitGroup
	var providerErr, profileErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		providerErr = s.provider.UpdateProfile(ctx, backend.ProfileUpdate{DisplayName: &displayName})
	}()
	go func() {
		defer wg.Done()
		profileErr = s.profiles.Apply(ctx, uid, profile.Update{DisplayName: &displayName, Bio: &bio})
	}()
	wg.Wait()

	if err := errors.Join(providerErr, profileErr); err != nil {
		s.log.Error("profile edit failed", slog.String("uid", uid), slog.String("err", err.Error()))
		return fmt.Errorf("editing profile: %w", err)
	}

	s.merge(ctx, func(sess *Session) {
		sess.DisplayName = displayName
		sess.Bio = bio
	})
	return nil
}

// EditProfilePhoto uploads a new avatar, resolves its URL, and records it
// with both the provider and the profile document.
func (s *Store) EditProfilePhoto(ctx context.Context, photo []byte) error {
	uid := s.Current().ID
	if uid == "" {
		return backend.ErrNoUser
	}

	path := fmt.Sprintf(avatarPathFormat, uid)
	if err := s.blobs.Put(ctx, path, photo); err != nil {
		s.log.Error("avatar upload failed", slog.String("uid", uid), slog.String("err", err.Error()))
		return fmt.Errorf("uploading avatar: %w", err)
	}
	photoURL, err := s.blobs.URL(ctx, path)
	if err != nil {
		s.log.Error("avatar url lookup failed", slog.String("uid", uid), slog.String("err", err.Error()))
		return fmt.Errorf("resolving avatar url: %w", err)
	}

	var wg sync.WaitGroup
	var providerErr, profileErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		providerErr = s.provider.UpdateProfile(ctx, backend.ProfileUpdate{PhotoURL: &photoURL})
	}()
	go func() {
		defer wg.Done()
		profileErr = s.profiles.Apply(ctx, uid, profile.Update{PhotoURL: &photoURL})
	}()
	wg.Wait()

	if err := errors.Join(providerErr, profileErr); err != nil {
		s.log.Error("avatar update failed", slog.String("uid", uid), slog.String("err", err.Error()))
		return fmt.Errorf("updating avatar: %w", err)
	}

	s.merge(ctx, func(sess *Session) { sess.PhotoURL = photoURL })
	return nil
}
