// Package identity abstracts the signed-in user and the credential the
// assistant endpoint expects. The session core never inspects the
// credential; it only forwards it during the channel handshake.
package identity

import (
	"errors"
	"os"
	"sync"
)

// ErrSignedOut is returned when no credential is available.
var ErrSignedOut = errors.New("identity: signed out")

// Provider supplies the current user and their opaque credential.
type Provider interface {
	// CurrentUser returns a display name for the signed-in user.
	CurrentUser() (string, error)

	// Credential returns the opaque credential presented to the assistant
	// endpoint. Returns [ErrSignedOut] when none is available.
	Credential() (string, error)

	// SignOut invalidates the credential. Subsequent Credential calls fail
	// with [ErrSignedOut].
	SignOut() error
}

// Static is a Provider backed by fixed values, for the CLI and tests.
type Static struct {
	mu        sync.Mutex
	user      string
	cred      string
	signedOut bool
}

var _ Provider = (*Static)(nil)

// NewStatic returns a Provider with a fixed user and credential.
func NewStatic(user, credential string) *Static {
	return &Static{user: user, cred: credential}
}

// FromEnv builds a Static provider from OPSVOX_USER and OPSVOX_CREDENTIAL.
// Returns ErrSignedOut when the credential variable is unset or empty.
func FromEnv() (*Static, error) {
	cred := os.Getenv("OPSVOX_CREDENTIAL")
	if cred == "" {
		return nil, ErrSignedOut
	}
	user := os.Getenv("OPSVOX_USER")
	if user == "" {
		user = "operator"
	}
	return NewStatic(user, cred), nil
}

// CurrentUser implements [Provider].
func (s *Static) CurrentUser() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signedOut {
		return "", ErrSignedOut
	}
	return s.user, nil
}

// Credential implements [Provider].
func (s *Static) Credential() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signedOut {
		return "", ErrSignedOut
	}
	return s.cred, nil
}

// SignOut implements [Provider].
func (s *Static) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut = true
	s.cred = ""
	return nil
}
