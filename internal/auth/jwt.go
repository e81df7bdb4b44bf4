package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AgentClaims holds the claims carried by an agent bearer token: the identity of the site and the account that owns
// it, plus the domain used to mint it (so a rotated domain cannot silently authenticate under an old claim).
type AgentClaims struct {
	SiteID    uuid.UUID `json:"siteId"`
	AccountID uuid.UUID `json:"accountId"`
	Domain    string    `json:"domain"`
	jwt.RegisteredClaims
}

// NewAgentToken mints a symmetric-signed bearer token for the given site. signingKey is the process secret loaded
// at startup; its length and placeholder checks are enforced once, at boot, by the config package.
func NewAgentToken(siteID, accountID uuid.UUID, domain, signingKey string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := AgentClaims{
		SiteID:    siteID,
		AccountID: accountID,
		Domain:    domain,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign agent token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAgentToken verifies the MAC and expiry of an agent bearer token and returns its claims. The caller is still
// responsible for checking that the referenced site exists and is active.
func ParseAgentToken(tokenStr, signingKey string) (*AgentClaims, error) {
	claims := &AgentClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
