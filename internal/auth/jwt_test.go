package auth

import (
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, "user-1", "ann@example.local", "parent")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseAccessToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if claims.UserID != "user-1" || claims.Email != "ann@example.local" || claims.Role != "parent" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAccessTokenExpired(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, "user-1", "ann@example.local", "parent")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if _, err := ParseAccessToken("secret", token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCrossSecretRejected(t *testing.T) {
	// A token minted with the access secret must not verify as a refresh
	// token and vice versa.
	access, err := NewAccessToken("access-secret", "issuer", time.Minute, "user-1", "ann@example.local", "parent")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseRefreshToken("refresh-secret", access); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}

	refresh, err := NewRefreshToken("refresh-secret", "issuer", time.Minute, "user-1")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseAccessToken("access-secret", refresh); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	if _, err := ParseAccessToken("secret", "not.a.token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	if _, err := ParseRefreshToken("secret", ""); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	token, err := NewRefreshToken("secret", "issuer", time.Minute, "user-1")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseRefreshToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}
