// Package session owns the operator's authentication state: the session
// token, the username, and the persisted copy of both. It is the only
// writer of the credential; the transport reads the token through the
// TokenSource interface and reports expiry through ExpireAuth.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Nebu1ea/Grimoire/internal/api"
	"github.com/Nebu1ea/Grimoire/internal/keyring"
)

// Login failure messages shown to the operator. Credential failures are
// distinguished from everything else; details go to the log, not the UI.
const (
	MsgInvalidCredentials = "Invalid username or password."
	MsgNetworkError       = "Network or server error. Please try again."
)

// Session holds the operator's authentication state.
type Session struct {
	client *api.Client
	ring   *keyring.Store
	log    zerolog.Logger

	mu       sync.RWMutex
	token    string
	username string
	loading  bool
	loginErr string
}

// New builds a Session, restoring any credential persisted in the keyring.
func New(client *api.Client, ring *keyring.Store, log zerolog.Logger) *Session {
	s := &Session{client: client, ring: ring, log: log}

	creds, found, err := ring.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore persisted credentials")
		return s
	}
	if found {
		s.token = creds.Token
		s.username = creds.Username
		log.Debug().Str("username", creds.Username).Msg("Session restored from keyring")
	}
	return s
}

// Token returns the current session token. Implements api.TokenSource.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Username returns the authenticated operator name, or "" when logged out.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// IsAuthenticated reports whether a session token is held.
func (s *Session) IsAuthenticated() bool {
	return s.Token() != ""
}

// IsLoading reports whether a login is in flight.
func (s *Session) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// LoginError returns the operator-facing message from the last failed login,
// or "" after a successful one.
func (s *Session) LoginError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loginErr
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login authenticates against the team server. It never returns an error:
// failure is observable through LoginError and the absence of a token. On
// success the token and username are persisted together.
func (s *Session) Login(ctx context.Context, username, password string) {
	s.mu.Lock()
	s.loading = true
	s.loginErr = ""
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	var resp loginResponse
	err := s.client.Post(ctx, "/auth/login", loginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		s.log.Warn().Err(err).Str("username", username).Msg("Login failed")

		msg := MsgNetworkError
		var se *api.StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			msg = MsgInvalidCredentials
		}

		s.mu.Lock()
		s.loginErr = msg
		s.token = ""
		s.username = ""
		s.mu.Unlock()
		if err := s.ring.Clear(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to clear keyring after failed login")
		}
		return
	}

	s.mu.Lock()
	s.token = resp.AccessToken
	s.username = username
	s.mu.Unlock()

	if err := s.ring.Save(keyring.Credentials{Token: resp.AccessToken, Username: username}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist credentials")
	}
	s.log.Info().Str("username", username).Msg("Operator authenticated")
}

// Logout clears the in-memory and persisted credential. Calling it while
// already logged out is a no-op beyond re-clearing empty state.
func (s *Session) Logout() {
	s.clear()
	s.log.Info().Msg("Operator logged out")
}

// ExpireAuth is the transport's 401 hook: the server no longer honors the
// token, so drop it everywhere.
func (s *Session) ExpireAuth() {
	s.clear()
	s.log.Warn().Msg("Session token expired")
}

func (s *Session) clear() {
	s.mu.Lock()
	s.token = ""
	s.username = ""
	s.mu.Unlock()
	if err := s.ring.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear keyring")
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword updates the operator password on the team server.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	return s.client.Post(ctx, "/auth/change_password", changePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	}, nil)
}
