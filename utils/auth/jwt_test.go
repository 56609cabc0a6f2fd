package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(expiry time.Duration) *JWTManager {
	return NewJWTManager(JWTConfig{
		Secret: "test-secret",
		Expiry: expiry,
		Issuer: "driftchat-test",
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	mgr := newTestManager(time.Hour)

	token, err := mgr.GenerateToken("user-123", true)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Fatalf("Expected user id to round-trip, got %q", claims.UserID)
	}
	if !claims.Anonymous {
		t.Fatalf("Anonymous flag should round-trip")
	}
	if claims.Issuer != "driftchat-test" {
		t.Fatalf("Unexpected issuer %q", claims.Issuer)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	mgr := newTestManager(-time.Minute)

	token, err := mgr.GenerateToken("user-123", false)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := mgr.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Expected expired token error, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := newTestManager(time.Hour).GenerateToken("user-123", false)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	other := NewJWTManager(JWTConfig{Secret: "different", Expiry: time.Hour})
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected invalid token error, got %v", err)
	}
	if _, err := other.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Garbage should be invalid, got %v", err)
	}
}
