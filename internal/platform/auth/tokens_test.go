package auth

import (
	"errors"
	"testing"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc, err := NewTokenService(TokenServiceConfig{Secret: []byte("test-secret"), TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}

	now := time.Now().UTC()
	account := domain.UserAccount{ID: "usr_1", Email: "dana@example.com", Role: domain.RoleOperator}

	token, expiresAt, err := svc.Issue(account, now)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if want := now.Add(time.Hour); expiresAt.Unix() != want.Unix() {
		t.Fatalf("expiresAt = %v, want %v", expiresAt, want)
	}

	identity, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if identity.UID != "usr_1" {
		t.Fatalf("uid = %q, want usr_1", identity.UID)
	}
	if identity.Email != "dana@example.com" {
		t.Fatalf("email = %q", identity.Email)
	}
	if !identity.HasRole(RoleOperator) {
		t.Fatalf("roles = %v, want operator", identity.Roles)
	}
}

func TestTokenService_VerifyExpired(t *testing.T) {
	svc, err := NewTokenService(TokenServiceConfig{Secret: []byte("test-secret"), TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}

	issuedAt := time.Now().Add(-2 * time.Hour)
	token, _, err := svc.Issue(domain.UserAccount{ID: "usr_1"}, issuedAt)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestTokenService_VerifyWrongSecret(t *testing.T) {
	issuer, err := NewTokenService(TokenServiceConfig{Secret: []byte("secret-a")})
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}
	verifier, err := NewTokenService(TokenServiceConfig{Secret: []byte("secret-b")})
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}

	token, _, err := issuer.Issue(domain.UserAccount{ID: "usr_1"}, time.Now())
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenService_RequiresSecret(t *testing.T) {
	if _, err := NewTokenService(TokenServiceConfig{}); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
