// Package auth holds the operator session the kiosk uses to talk to the backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotSignedIn = errors.New("operator is not signed in")
	ErrNoSession   = errors.New("no stored operator session")
	ErrExpired     = errors.New("operator session expired")
)

// Credentials is everything returned by a successful sign-in.
type Credentials struct {
	Username    string
	DisplayName string
	Token       string
	AppID       string
	RoleID      string
	Permissions []string
	SignedInAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the credentials carry an expiry that has passed.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Grant is the token and permission set issued for one application role.
type Grant struct {
	Token       string
	Permissions []string
	ExpiresAt   time.Time
}

// Login is the first sign-in leg: a provisional token plus the apps the user may act in.
type Login struct {
	Token       string
	DisplayName string
	Apps        []App
}

type App struct {
	AppID  string
	RoleID string
}

// Authenticator performs the two-step backend sign-in.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*Login, error)
	Permissions(ctx context.Context, provisional, username string, app App) (*Grant, error)
}

// Store persists credentials between process restarts.
type Store interface {
	SaveOperatorSession(ctx context.Context, c Credentials) error
	LoadOperatorSession(ctx context.Context) (*Credentials, error)
	ClearOperatorSession(ctx context.Context) error
}

// Session is the explicitly owned replacement for a process-wide auth
// singleton. It is safe for concurrent use.
type Session struct {
	store Store
	now   func() time.Time

	mu    sync.RWMutex
	creds *Credentials
}

func NewSession(store Store) *Session {
	return &Session{store: store, now: time.Now}
}

// SignIn runs login then permission exchange and persists the result.
// preferredApp selects an app from the login response; the first app is used when it is absent.
func (s *Session) SignIn(ctx context.Context, a Authenticator, username, password, preferredApp string) (Credentials, error) {
	login, err := a.Login(ctx, username, password)
	if err != nil {
		return Credentials{}, fmt.Errorf("login: %w", err)
	}
	if login.Token == "" {
		return Credentials{}, errors.New("login: response carried no token")
	}
	if len(login.Apps) == 0 {
		return Credentials{}, errors.New("login: account has no applications")
	}

	app := login.Apps[0]
	if i := slices.IndexFunc(login.Apps, func(x App) bool { return x.AppID == preferredApp }); i >= 0 {
		app = login.Apps[i]
	}

	grant, err := a.Permissions(ctx, login.Token, username, app)
	if err != nil {
		return Credentials{}, fmt.Errorf("get permissions: %w", err)
	}
	if grant.Token == "" {
		return Credentials{}, errors.New("get permissions: response carried no token")
	}

	c := Credentials{
		Username:    username,
		DisplayName: login.DisplayName,
		Token:       grant.Token,
		AppID:       app.AppID,
		RoleID:      app.RoleID,
		Permissions: grant.Permissions,
		SignedInAt:  s.now(),
		ExpiresAt:   grant.ExpiresAt,
	}
	if s.store != nil {
		if err := s.store.SaveOperatorSession(ctx, c); err != nil {
			return Credentials{}, fmt.Errorf("save session: %w", err)
		}
	}

	s.mu.Lock()
	s.creds = &c
	s.mu.Unlock()
	return c, nil
}

// Restore loads persisted credentials. Expired ones are cleared and reported as ErrExpired.
func (s *Session) Restore(ctx context.Context) (Credentials, error) {
	if s.store == nil {
		return Credentials{}, ErrNoSession
	}
	c, err := s.store.LoadOperatorSession(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if c == nil {
		return Credentials{}, ErrNoSession
	}
	if c.Expired(s.now()) {
		if err := s.store.ClearOperatorSession(ctx); err != nil {
			return Credentials{}, fmt.Errorf("clear expired session: %w", err)
		}
		return Credentials{}, ErrExpired
	}

	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
	return *c, nil
}

// Clear signs the operator out locally and in the store.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.ClearOperatorSession(ctx)
}

// Token returns the bearer token, or ErrNotSignedIn.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return "", ErrNotSignedIn
	}
	if s.creds.Expired(s.now()) {
		return "", ErrExpired
	}
	return s.creds.Token, nil
}

func (s *Session) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// HasPermission reports whether the signed-in operator holds perm.
func (s *Session) HasPermission(perm string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds != nil && slices.Contains(s.creds.Permissions, perm)
}

// maxVerifiedBy is the backend column width, in characters.
const maxVerifiedBy = 30

// VerifiedBy is the audit label sent with confirmations, capped at 30 characters.
func (s *Session) VerifiedBy(kiosk string) string {
	label := kiosk
	if label == "" {
		if c, ok := s.Credentials(); ok {
			label = c.Username
		}
	}
	v := []rune("Kiosk-" + label)
	if len(v) > maxVerifiedBy {
		v = v[:maxVerifiedBy]
	}
	return string(v)
}
