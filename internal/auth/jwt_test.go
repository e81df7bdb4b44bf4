package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewAndParseAgentTokenRoundTrip(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	accountID := uuid.New()
	key := "a-signing-key-that-is-long-enough"

	token, expiresAt, err := NewAgentToken(siteID, accountID, "store.example.com", key, time.Hour)
	if err != nil {
		t.Fatalf("NewAgentToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("NewAgentToken() returned empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Errorf("expiresAt = %v, want in the future", expiresAt)
	}

	claims, err := ParseAgentToken(token, key)
	if err != nil {
		t.Fatalf("ParseAgentToken() error = %v", err)
	}
	if claims.SiteID != siteID {
		t.Errorf("SiteID = %v, want %v", claims.SiteID, siteID)
	}
	if claims.AccountID != accountID {
		t.Errorf("AccountID = %v, want %v", claims.AccountID, accountID)
	}
	if claims.Domain != "store.example.com" {
		t.Errorf("Domain = %q, want %q", claims.Domain, "store.example.com")
	}
}

func TestParseAgentTokenRejectsWrongKey(t *testing.T) {
	t.Parallel()

	token, _, err := NewAgentToken(uuid.New(), uuid.New(), "a.example.com", "correct-signing-key-32-bytes-long", time.Hour)
	if err != nil {
		t.Fatalf("NewAgentToken() error = %v", err)
	}

	_, err = ParseAgentToken(token, "a-completely-different-signing-key")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseAgentToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseAgentTokenRejectsExpired(t *testing.T) {
	t.Parallel()

	key := "a-signing-key-that-is-long-enough"
	token, _, err := NewAgentToken(uuid.New(), uuid.New(), "a.example.com", key, -time.Minute)
	if err != nil {
		t.Fatalf("NewAgentToken() error = %v", err)
	}

	_, err = ParseAgentToken(token, key)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseAgentToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseAgentTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseAgentToken("not-a-jwt-at-all", "a-signing-key-that-is-long-enough")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseAgentToken() error = %v, want ErrInvalidToken", err)
	}
}
