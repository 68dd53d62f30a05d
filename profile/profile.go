// Package profile manages the users collection: the per-user document that
// holds the profile fields the identity provider cannot store itself (bio,
// plus mirrors of email, display name, and photo URL). Document ids are the
// provider-assigned user ids.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// Collection is the document collection profiles live in.
const Collection = "users"

// UnknownDisplayName is returned by DisplayName when the profile document is
// missing. Absence of a profile is an expected outcome, not an error.
const UnknownDisplayName = "unknown user"

// Profile is a user's profile document.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	Bio         string
	PhotoURL    string
}

// Update carries a partial profile edit. Nil fields are left untouched.
type Update struct {
	DisplayName *string
	Bio         *string
	PhotoURL    *string
}

// Service reads and writes profile documents.
type Service struct {
	store backend.DocStore
}

// NewService creates a profile service over store.
func NewService(store backend.DocStore) *Service {
	return &Service{store: store}
}

// Create writes the initial profile document for a freshly registered user.
func (s *Service) Create(ctx context.Context, id, email string) error {
	if err := s.store.Set(ctx, Collection, id, map[string]any{"email": email}); err != nil {
		return fmt.Errorf("creating profile %q: %w", id, err)
	}
	return nil
}

// Get reads the profile for id. Returns (nil, nil) when no profile document
// exists.
func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading profile %q: %w", id, err)
	}
	return &Profile{
		ID:          doc.ID,
		Email:       doc.Str("email"),
		DisplayName: doc.Str("displayName"),
		Bio:         doc.Str("bio"),
		PhotoURL:    doc.Str("photoURL"),
	}, nil
}

// Apply writes the non-nil fields of upd to the profile document.
func (s *Service) Apply(ctx context.Context, id string, upd Update) error {
	data := make(map[string]any)
	if upd.DisplayName != nil {
		data["displayName"] = *upd.DisplayName
	}
	if upd.Bio != nil {
		data["bio"] = *upd.Bio
	}
	if upd.PhotoURL != nil {
		data["photoURL"] = *upd.PhotoURL
	}
	if len(data) == 0 {
		return nil
	}
	if err := s.store.Update(ctx, Collection, id, data); err != nil {
		return fmt.Errorf("updating profile %q: %w", id, err)
	}
	return nil
}

// DisplayName resolves the display name for id, falling back to
// UnknownDisplayName when the profile document is missing and to "" when
// the document exists but has no name yet.
func (s *Service) DisplayName(ctx context.Context, id string) (string, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if p == nil {
		return UnknownDisplayName, nil
	}
	return p.DisplayName, nil
}
