// Package memoryauth provides an in-memory backend.AuthProvider for tests
// and single-process use. Accounts live in process memory and the auth-state
// feed is delivered synchronously. ID tokens are HS256 JWTs signed with a
// per-provider secret.
package memoryauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// Provider implements backend.AuthProvider.
type Provider struct {
	mu       sync.RWMutex
	accounts map[string]*account // keyed by email
	current  *backend.Principal

	observers map[string]func(*backend.Principal) // keyed by registration token

	secret   []byte
	tokenTTL time.Duration
}

type account struct {
	uid         string
	email       string
	password    string
	displayName string
	photoURL    string
}

var _ backend.AuthProvider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithTokenTTL sets the lifetime of minted ID tokens. Default one hour.
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.tokenTTL = ttl }
}

// New creates a provider with no accounts and no signed-in principal.
func New(opts ...Option) *Provider {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(fmt.Sprintf("memoryauth: reading random secret: %v", err))
	}
	p := &Provider{
		accounts:  make(map[string]*account),
		observers: make(map[string]func(*backend.Principal)),
		secret:    secret,
		tokenTTL:  time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubscribeAuthState implements backend.AuthProvider.
func (p *Provider) SubscribeAuthState(cb func(*backend.Principal)) func() {
	token := uuid.NewString()

	p.mu.Lock()
	p.observers[token] = cb
	current := clonePrincipal(p.current)
	p.mu.Unlock()

	cb(current)

	return func() {
		p.mu.Lock()
		delete(p.observers, token)
		p.mu.Unlock()
	}
}

// notifyAll delivers the current principal to every registered observer.
// Each observer receives its own copy.
func (p *Provider) notifyAll() {
	p.mu.RLock()
	current := p.current
	cbs := make([]func(*backend.Principal), 0, len(p.observers))
	for _, cb := range p.observers {
		cbs = append(cbs, cb)
	}
	p.mu.RUnlock()

	for _, cb := range cbs {
		cb(clonePrincipal(current))
	}
}

// SignIn implements backend.AuthProvider.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	p.mu.Lock()
	acct, ok := p.accounts[email]
	if !ok || subtle.ConstantTimeCompare([]byte(acct.password), []byte(password)) != 1 {
		p.mu.Unlock()
		return backend.ErrInvalidCredentials
	}
	p.current = acct.principal()
	p.mu.Unlock()

	p.notifyAll()
	return nil
}

// Register implements backend.AuthProvider. The new account is signed in,
// matching the managed provider's behavior.
func (p *Provider) Register(ctx context.Context, email, password string) (*backend.Principal, error) {
	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return nil, backend.ErrEmailTaken
	}
	acct := &account{uid: uuid.NewString(), email: email, password: password}
	p.accounts[email] = acct
	p.current = acct.principal()
	principal := clonePrincipal(p.current)
	p.mu.Unlock()

	p.notifyAll()
	return principal, nil
}

// SignOut implements backend.AuthProvider.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.notifyAll()
	return nil
}

// UpdateProfile implements backend.AuthProvider.
func (p *Provider) UpdateProfile(ctx context.Context, upd backend.ProfileUpdate) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return backend.ErrNoUser
	}
	acct := p.accounts[p.current.Email]
	if upd.DisplayName != nil {
		acct.displayName = *upd.DisplayName
	}
	if upd.PhotoURL != nil {
		acct.photoURL = *upd.PhotoURL
	}
	p.current = acct.principal()
	p.mu.Unlock()

	p.notifyAll()
	return nil
}

// CurrentPrincipal implements backend.AuthProvider.
func (p *Provider) CurrentPrincipal() *backend.Principal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clonePrincipal(p.current)
}

// IDToken mints a signed token for the current principal. Returns ErrNoUser
// when signed out.
func (p *Provider) IDToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	current := clonePrincipal(p.current)
	p.mu.RUnlock()

	if current == nil {
		return "", backend.ErrNoUser
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   current.UID,
		"email": current.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(p.tokenTTL).Unix(),
	}
	if current.DisplayName != "" {
		claims["name"] = current.DisplayName
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("signing id token: %w", err)
	}
	return signed, nil
}

// VerifyIDToken validates a token minted by this provider and returns the
// principal it identifies.
func (p *Provider) VerifyIDToken(ctx context.Context, token string) (*backend.Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing id token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return nil, fmt.Errorf("id token missing sub claim")
	}
	return &backend.Principal{UID: sub, Email: email, DisplayName: name}, nil
}

func (a *account) principal() *backend.Principal {
	return &backend.Principal{
		UID:         a.uid,
		Email:       a.email,
		DisplayName: a.displayName,
		PhotoURL:    a.photoURL,
	}
}

func clonePrincipal(p *backend.Principal) *backend.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
