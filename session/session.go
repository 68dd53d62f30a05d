// Package session owns the canonical "current user" state. A Store mirrors
// the identity provider's auth-state feed into a local Session value,
// persists a snapshot of it after every change, and fans updates out to
// subscribers. It also carries the authenticated write paths (login,
// registration, profile edits) so callers have a single surface for
// everything "who am I" related.
package session

import (
	"encoding/json"
)

// Session is the locally known identity of the authenticated principal.
// The zero value means "not authenticated": ID is empty exactly when no one
// is signed in. Identity fields arrive first from the auth feed; Bio arrives
// later from the profile document, and FullyLoaded reports whether that
// secondary fetch has completed for the current ID.
type Session struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
	Bio         string
	FullyLoaded bool
}

// Authenticated reports whether a principal is signed in.
func (s Session) Authenticated() bool { return s.ID != "" }

// persistedSession is the wire form of the local snapshot. Unset string
// fields round-trip as JSON null, and the field set is fixed: it is the
// contract for anything else reading the slot.
type persistedSession struct {
	ID          *string `json:"id"`
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
	Bio         *string `json:"bio"`
	FullyLoaded bool    `json:"fullyLoaded"`
}

// MarshalJSON implements json.Marshaler.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(persistedSession{
		ID:          nullable(s.ID),
		Email:       nullable(s.Email),
		DisplayName: nullable(s.DisplayName),
		PhotoURL:    nullable(s.PhotoURL),
		Bio:         nullable(s.Bio),
		FullyLoaded: s.FullyLoaded,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Session) UnmarshalJSON(data []byte) error {
	var p persistedSession
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Session{
		ID:          deref(p.ID),
		Email:       deref(p.Email),
		DisplayName: deref(p.DisplayName),
		PhotoURL:    deref(p.PhotoURL),
		Bio:         deref(p.Bio),
		FullyLoaded: p.FullyLoaded,
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
