package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(accessExpiry time.Duration) *JWTManager {
	return NewJWTManager("test-secret", accessExpiry, 24*time.Hour, time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateAccessToken("user-1", "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" || claims.Name != "Alice" {
		t.Fatalf("claims %+v", claims)
	}
}

func TestExpiredAccessToken(t *testing.T) {
	m := newTestManager(-time.Minute)

	token, err := m.GenerateAccessToken("user-1", "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := m.ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenSignedWithOtherSecretIsRejected(t *testing.T) {
	m := newTestManager(time.Hour)
	other := NewJWTManager("other-secret", time.Hour, 24*time.Hour, time.Hour)

	token, err := other.GenerateAccessToken("user-1", "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := m.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateRefreshToken("user-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}

	userID, err := m.ValidateRefreshToken(token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("subject %q", userID)
	}
}

func TestGuestTokenRoundTrip(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateGuestToken("board-1", "link-1", "Guest", "edit")
	if err != nil {
		t.Fatalf("GenerateGuestToken: %v", err)
	}

	claims, err := m.ValidateGuestToken(token)
	if err != nil {
		t.Fatalf("ValidateGuestToken: %v", err)
	}
	if claims.BoardID != "board-1" || claims.LinkID != "link-1" || claims.Permissions != "edit" {
		t.Fatalf("claims %+v", claims)
	}
}
