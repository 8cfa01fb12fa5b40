package auth

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved   *Credentials
	cleared int
	loadErr error
}

func (m *memStore) SaveOperatorSession(_ context.Context, c Credentials) error {
	m.saved = &c
	return nil
}

func (m *memStore) LoadOperatorSession(context.Context) (*Credentials, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved, nil
}

func (m *memStore) ClearOperatorSession(context.Context) error {
	m.saved = nil
	m.cleared++
	return nil
}

type fakeAuth struct {
	login    *Login
	loginErr error
	grant    *Grant
	gotApp   App
	gotToken string
}

func (f *fakeAuth) Login(_ context.Context, username, password string) (*Login, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.login, nil
}

func (f *fakeAuth) Permissions(_ context.Context, provisional, username string, app App) (*Grant, error) {
	f.gotToken = provisional
	f.gotApp = app
	return f.grant, nil
}

var now = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newSession(store Store) *Session {
	s := NewSession(store)
	s.now = func() time.Time { return now }
	return s
}

func TestSession_SignIn(t *testing.T) {
	store := &memStore{}
	s := newSession(store)
	a := &fakeAuth{
		login: &Login{
			Token:       "provisional",
			DisplayName: "Lab Operator",
			Apps:        []App{{AppID: "APP01", RoleID: "ROL23"}, {AppID: "APP02", RoleID: "ROL07"}},
		},
		grant: &Grant{Token: "final", Permissions: []string{"borrowing.verify"}, ExpiresAt: now.Add(8 * time.Hour)},
	}

	c, err := s.SignIn(context.Background(), a, "operator", "secret", "APP02")
	require.NoError(t, err)

	assert.Equal(t, "provisional", a.gotToken)
	assert.Equal(t, App{AppID: "APP02", RoleID: "ROL07"}, a.gotApp)
	assert.Equal(t, "final", c.Token)
	assert.Equal(t, "Lab Operator", c.DisplayName)
	assert.Equal(t, now, c.SignedInAt)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "final", tok)
	assert.True(t, s.HasPermission("borrowing.verify"))
	assert.False(t, s.HasPermission("admin"))

	require.NotNil(t, store.saved)
	assert.Equal(t, "final", store.saved.Token)
}

func TestSession_SignInFallsBackToFirstApp(t *testing.T) {
	s := newSession(nil)
	a := &fakeAuth{
		login: &Login{Token: "p", Apps: []App{{AppID: "APP01", RoleID: "ROL23"}}},
		grant: &Grant{Token: "final"},
	}
	_, err := s.SignIn(context.Background(), a, "operator", "secret", "MISSING")
	require.NoError(t, err)
	assert.Equal(t, "APP01", a.gotApp.AppID)
}

func TestSession_SignInFailures(t *testing.T) {
	tests := []struct {
		name string
		auth *fakeAuth
	}{
		{name: "login rejected", auth: &fakeAuth{loginErr: errors.New("401")}},
		{name: "no token", auth: &fakeAuth{login: &Login{Apps: []App{{AppID: "A"}}}}},
		{name: "no apps", auth: &fakeAuth{login: &Login{Token: "p"}}},
		{name: "no final token", auth: &fakeAuth{login: &Login{Token: "p", Apps: []App{{AppID: "A"}}}, grant: &Grant{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			s := newSession(store)
			_, err := s.SignIn(context.Background(), tt.auth, "u", "p", "")
			require.Error(t, err)
			assert.Nil(t, store.saved)

			_, err = s.Token()
			assert.ErrorIs(t, err, ErrNotSignedIn)
		})
	}
}

func TestSession_RestoreAndClear(t *testing.T) {
	store := &memStore{saved: &Credentials{Username: "operator", Token: "persisted", ExpiresAt: now.Add(time.Hour)}}
	s := newSession(store)

	c, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "operator", c.Username)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "persisted", tok)

	require.NoError(t, s.Clear(context.Background()))
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Equal(t, 1, store.cleared)

	_, err = s.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSession_RestoreExpired(t *testing.T) {
	store := &memStore{saved: &Credentials{Token: "old", ExpiresAt: now.Add(-time.Minute)}}
	s := newSession(store)

	_, err := s.Restore(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
	assert.Nil(t, store.saved)
	_, ok := s.Credentials()
	assert.False(t, ok)
}

func TestSession_VerifiedBy(t *testing.T) {
	s := newSession(nil)
	s.creds = &Credentials{Username: "operator"}

	assert.Equal(t, "Kiosk-operator", s.VerifiedBy(""))
	assert.Equal(t, "Kiosk-lab-east", s.VerifiedBy("lab-east"))
	assert.Len(t, s.VerifiedBy("a-very-long-kiosk-name-for-the-north-wing"), 30)

	// Multi-byte names are cut on character boundaries.
	long := s.VerifiedBy("Laboratorium-Ēlektronika-Dasar-Ūtama")
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, 30, utf8.RuneCountInString(long))
	assert.Equal(t, "Kiosk-Laboratorium-Ēlektronika", long)

	short := s.VerifiedBy("実験室")
	assert.Equal(t, "Kiosk-実験室", short)
}
