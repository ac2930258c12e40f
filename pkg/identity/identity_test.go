package identity

import (
	"errors"
	"testing"
)

func TestStaticProvider(t *testing.T) {
	p := NewStatic("alex", "key-123")

	user, err := p.CurrentUser()
	if err != nil || user != "alex" {
		t.Errorf("CurrentUser() = %q, %v; want %q, nil", user, err, "alex")
	}
	cred, err := p.Credential()
	if err != nil || cred != "key-123" {
		t.Errorf("Credential() = %q, %v; want %q, nil", cred, err, "key-123")
	}
}

func TestSignOutInvalidatesCredential(t *testing.T) {
	p := NewStatic("alex", "key-123")
	if err := p.SignOut(); err != nil {
		t.Fatalf("SignOut() error: %v", err)
	}

	if _, err := p.Credential(); !errors.Is(err, ErrSignedOut) {
		t.Errorf("Credential() error = %v, want ErrSignedOut", err)
	}
	if _, err := p.CurrentUser(); !errors.Is(err, ErrSignedOut) {
		t.Errorf("CurrentUser() error = %v, want ErrSignedOut", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OPSVOX_CREDENTIAL", "env-key")
	t.Setenv("OPSVOX_USER", "")

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}
	cred, _ := p.Credential()
	if cred != "env-key" {
		t.Errorf("Credential() = %q, want %q", cred, "env-key")
	}
	user, _ := p.CurrentUser()
	if user != "operator" {
		t.Errorf("CurrentUser() = %q, want default %q", user, "operator")
	}
}

func TestFromEnvSignedOut(t *testing.T) {
	t.Setenv("OPSVOX_CREDENTIAL", "")
	if _, err := FromEnv(); !errors.Is(err, ErrSignedOut) {
		t.Errorf("FromEnv() error = %v, want ErrSignedOut", err)
	}
}
