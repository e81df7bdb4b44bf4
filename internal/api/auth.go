package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	authpkg "github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/site"
)

// AuthHandler mints agent bearer tokens.
type AuthHandler struct {
	sites      site.Repository
	signingKey string
	tokenTTL   time.Duration
	log        zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sites site.Repository, signingKey string, tokenTTL time.Duration, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{sites: sites, signingKey: signingKey, tokenTTL: tokenTTL, log: logger}
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	SiteID    string    `json:"siteId"`
	Domain    string    `json:"domain"`
}

// Token handles POST /auth/token. Credentials travel as HTTP Basic (domain:clientSecret); the failure message is
// identical regardless of cause, so a caller cannot distinguish "unknown domain" from "wrong secret."
func (h *AuthHandler) Token(c fiber.Ctx) error {
	domain, secret, err := authpkg.ParseBasicHeader(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return h.fail(c)
	}

	normalized, err := site.ValidateDomain(domain)
	if err != nil {
		return h.fail(c)
	}

	s, err := h.sites.GetByDomain(c.Context(), normalized)
	if err != nil {
		return h.fail(c)
	}
	if !s.Active {
		return h.fail(c)
	}

	match, err := authpkg.VerifyClientSecret(secret, s.ClientSecretHash)
	if err != nil || !match {
		return h.fail(c)
	}

	if authpkg.SecretNeedsRehash(s.ClientSecretHash, authpkg.DefaultSecretParams) {
		h.rehash(c, s.ID, secret)
	}

	token, expiresAt, err := authpkg.NewAgentToken(s.ID, s.AccountID, s.Domain, h.signingKey, h.tokenTTL)
	if err != nil {
		h.log.Error().Err(err).Msg("mint agent token")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}

	return httputil.Success(c, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		SiteID:    s.ID.String(),
		Domain:    s.Domain,
	})
}

// fail returns the single generic 401 response used for every token-mint failure.
func (h *AuthHandler) fail(c fiber.Ctx) error {
	return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "invalid domain or client secret")
}

// rehash transparently upgrades a site's stored secret hash to the current cost parameters now that the plaintext
// secret has been verified. Best-effort: a failure here does not affect the token mint already in flight.
func (h *AuthHandler) rehash(c fiber.Ctx, siteID uuid.UUID, secret string) {
	newHash, err := authpkg.HashClientSecret(secret, authpkg.DefaultSecretParams)
	if err != nil {
		h.log.Warn().Err(err).Str("site_id", siteID.String()).Msg("failed to rehash client secret")
		return
	}
	if err := h.sites.UpdateClientSecretHash(c.Context(), siteID, newHash); err != nil {
		h.log.Warn().Err(err).Str("site_id", siteID.String()).Msg("failed to persist rehashed client secret")
	}
}
