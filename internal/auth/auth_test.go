package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv("SECRET_KEY", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("user-42", "Lead@Example.GOV.UK", []string{"Admin", "admin", "viewer"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Email != "lead@example.gov.uk" {
		t.Fatalf("email not normalized: %q", claims.Email)
	}
	if !slices.Equal(claims.Roles, []string{"admin", "viewer"}) {
		t.Fatalf("roles = %v", claims.Roles)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("user-42", "x@example.gov.uk", nil, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	setSecret(t)
	for _, tok := range []string{"", "   ", "abc.def.ghi"} {
		if _, err := ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestWrongSecretRejected(t *testing.T) {
	setSecret(t)
	token, err := GenerateToken("user-42", "x@example.gov.uk", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("SECRET_KEY", "a-different-secret")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if Configured() {
		t.Fatal("Configured() true without a secret")
	}
	if _, err := GenerateToken("user-42", "x@example.gov.uk", nil, time.Hour); err == nil {
		t.Fatal("expected error without a secret")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "user-1", "x@example.gov.uk", []string{"admin", "ADMIN"})

	if id, ok := UserIDFromContext(ctx); !ok || id != "user-1" {
		t.Fatalf("user id = %q, %v", id, ok)
	}
	if email, ok := EmailFromContext(ctx); !ok || email != "x@example.gov.uk" {
		t.Fatalf("email = %q, %v", email, ok)
	}
	if !HasRole(ctx, "admin") || HasRole(ctx, "viewer") {
		t.Fatal("role lookup broken")
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context returned a user")
	}
}
