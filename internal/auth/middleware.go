package auth

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/site"
)

// localsAgentPrincipal and localsAdminPrincipal are the Fiber Locals keys the middleware attaches the verified
// principal under, for downstream ownership checks.
const (
	localsAgentPrincipal = "authAgentPrincipal"
	localsAdminPrincipal = "authAdminPrincipal"
)

// AgentPrincipal is the identity attached to a request authenticated by an agent bearer token.
type AgentPrincipal struct {
	SiteID    uuid.UUID
	AccountID uuid.UUID
	Domain    string
}

// Dispatcher implements the auth dispatch table: it resolves the agent and/or admin token carried by a request and
// exposes middleware factories for each surface in the table. Agent tokens travel in the standard Authorization
// Bearer header; admin tokens travel in X-Admin-Token so the two can be presented, and rejected, independently.
type Dispatcher struct {
	signingKey string
	sites      site.Repository
	admin      *JWKSVerifier
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(signingKey string, sites site.Repository, admin *JWKSVerifier) *Dispatcher {
	return &Dispatcher{signingKey: signingKey, sites: sites, admin: admin}
}

// AgentWrite accepts only an agent token. Used for the agent API's POST/PUT/DELETE surface.
func (d *Dispatcher) AgentWrite() fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := d.rejectDualToken(c); err != nil {
			return err
		}
		principal, err := d.resolveAgent(c)
		if err != nil {
			return failAuth(c, err)
		}
		c.Locals(localsAgentPrincipal, principal)
		return c.Next()
	}
}

// AgentRead accepts either an agent or an admin token. Used for the agent API's GET surface.
func (d *Dispatcher) AgentRead() fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := d.rejectDualToken(c); err != nil {
			return err
		}

		if token := bearerToken(c); token != "" {
			principal, err := d.resolveAgent(c)
			if err != nil {
				return failAuth(c, err)
			}
			c.Locals(localsAgentPrincipal, principal)
			return c.Next()
		}

		if token := adminToken(c); token != "" {
			claims, err := d.admin.Verify(c.Context(), token)
			if err != nil {
				return failAuth(c, err)
			}
			c.Locals(localsAdminPrincipal, claims)
			return c.Next()
		}

		return failAuth(c, ErrMissingCredentials)
	}
}

// AdminOnly accepts only an admin token. Used for the entire admin API, regardless of method.
func (d *Dispatcher) AdminOnly() fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := d.rejectDualToken(c); err != nil {
			return err
		}

		token := adminToken(c)
		if token == "" {
			return failAuth(c, ErrMissingCredentials)
		}

		claims, err := d.admin.Verify(c.Context(), token)
		if err != nil {
			return failAuth(c, err)
		}
		c.Locals(localsAdminPrincipal, claims)
		return c.Next()
	}
}

// ParseBasicHeader decodes an Authorization: Basic header value into domain and clientSecret, for the token-mint
// route.
func ParseBasicHeader(header string) (domain, secret string, err error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", ErrMissingCredentials
	}

	decoded, decErr := base64.StdEncoding.DecodeString(header[len(prefix):])
	if decErr != nil {
		return "", "", ErrInvalidCredentials
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidCredentials
	}
	return parts[0], parts[1], nil
}

// AgentPrincipalFrom retrieves the agent principal attached by AgentWrite or AgentRead.
func AgentPrincipalFrom(c fiber.Ctx) (*AgentPrincipal, bool) {
	p, ok := c.Locals(localsAgentPrincipal).(*AgentPrincipal)
	return p, ok
}

// AdminPrincipalFrom retrieves the admin principal attached by AdminOnly or AgentRead.
func AdminPrincipalFrom(c fiber.Ctx) (*AdminClaims, bool) {
	p, ok := c.Locals(localsAdminPrincipal).(*AdminClaims)
	return p, ok
}

func (d *Dispatcher) resolveAgent(c fiber.Ctx) (*AgentPrincipal, error) {
	token := bearerToken(c)
	if token == "" {
		return nil, ErrMissingCredentials
	}

	claims, err := ParseAgentToken(token, d.signingKey)
	if err != nil {
		return nil, err
	}

	s, err := d.sites.GetByID(c.Context(), claims.SiteID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !s.Active {
		return nil, ErrInactiveSite
	}
	if s.Domain != claims.Domain {
		return nil, ErrInvalidToken
	}

	return &AgentPrincipal{SiteID: s.ID, AccountID: s.AccountID, Domain: s.Domain}, nil
}

func (d *Dispatcher) rejectDualToken(c fiber.Ctx) error {
	if bearerToken(c) != "" && adminToken(c) != "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeAuth, "request presented both an agent and an admin token")
	}
	return nil
}

func bearerToken(c fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func adminToken(c fiber.Ctx) string {
	return strings.TrimSpace(c.Get("X-Admin-Token"))
}

func failAuth(c fiber.Ctx, err error) error {
	switch err {
	case ErrAdminRoleMissing:
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeWrongTokenType, "token does not carry the required admin role")
	case ErrInactiveSite:
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeWrongTokenType, "site is deactivated")
	case ErrMissingCredentials:
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
	default:
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "invalid or expired token")
	}
}
