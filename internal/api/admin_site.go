package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/account"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	authpkg "github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/site"
)

// SiteHandler serves the admin site management endpoints.
type SiteHandler struct {
	sites        site.Repository
	accounts     account.Repository
	secretParams authpkg.SecretParams
	paginator    Paginator
	log          zerolog.Logger
}

// NewSiteHandler creates a new SiteHandler.
func NewSiteHandler(sites site.Repository, accounts account.Repository, secretParams authpkg.SecretParams, paginator Paginator, logger zerolog.Logger) *SiteHandler {
	return &SiteHandler{sites: sites, accounts: accounts, secretParams: secretParams, paginator: paginator, log: logger}
}

type siteResponse struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Domain      string `json:"domain"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toSiteResponse(s *site.Site) siteResponse {
	return siteResponse{
		ID:          s.ID.String(),
		AccountID:   s.AccountID.String(),
		Domain:      s.Domain,
		DisplayName: s.DisplayName,
		Active:      s.Active,
		CreatedAt:   s.CreatedAt.UTC().Format(rfc3339),
		UpdatedAt:   s.UpdatedAt.UTC().Format(rfc3339),
	}
}

// List handles GET /admin/sites, optionally filtered by accountId.
func (h *SiteHandler) List(c fiber.Ctx) error {
	params := site.ListParams{}
	params.Limit, params.Offset = h.paginator.Parse(c)

	if raw := c.Query("accountId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid accountId filter")
		}
		params.AccountID = &id
	}

	result, err := h.sites.List(c.Context(), params)
	if err != nil {
		return h.mapError(c, err)
	}

	items := make([]siteResponse, len(result.Items))
	for i := range result.Items {
		items[i] = toSiteResponse(&result.Items[i])
	}
	return httputil.Success(c, fiber.Map{"items": items, "total": result.Total})
}

// Get handles GET /admin/sites/{id}.
func (h *SiteHandler) Get(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid site id")
	}

	s, err := h.sites.GetByID(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, toSiteResponse(s))
}

type createSiteRequest struct {
	AccountID   string `json:"accountId"`
	Domain      string `json:"domain"`
	DisplayName string `json:"displayName"`
}

// Create handles POST /admin/sites. The generated plaintext client secret is returned exactly once, in this
// response; only its argon2id hash is persisted.
func (h *SiteHandler) Create(c fiber.Ctx) error {
	var body createSiteRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid request body")
	}

	accountID, err := uuid.Parse(body.AccountID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid accountId")
	}
	if _, err := h.accounts.GetByID(c.Context(), accountID); err != nil {
		return h.mapError(c, err)
	}

	domain, err := site.ValidateDomain(body.Domain)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}
	displayName, err := site.ValidateDisplayName(body.DisplayName)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}

	secret, err := authpkg.GenerateClientSecret()
	if err != nil {
		h.log.Error().Err(err).Msg("generate client secret")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}
	hash, err := authpkg.HashClientSecret(secret, h.secretParams)
	if err != nil {
		h.log.Error().Err(err).Msg("hash client secret")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}

	s, err := h.sites.Create(c.Context(), site.CreateParams{
		AccountID:        accountID,
		Domain:           domain,
		ClientSecretHash: hash,
		DisplayName:      displayName,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"site":         toSiteResponse(s),
		"clientSecret": secret,
	})
}

type updateSiteRequest struct {
	DisplayName *string `json:"displayName"`
}

// Update handles PATCH /admin/sites/{id}.
func (h *SiteHandler) Update(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid site id")
	}

	var body updateSiteRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid request body")
	}

	if body.DisplayName != nil {
		name, err := site.ValidateDisplayName(*body.DisplayName)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
		}
		body.DisplayName = &name
	}

	s, err := h.sites.Update(c.Context(), id, site.UpdateParams{DisplayName: body.DisplayName})
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, toSiteResponse(s))
}

// Deactivate handles POST /admin/sites/{id}/deactivate. Unlike account deactivation, this does not cascade: a site
// is deactivated directly and its in-flight IN_PROGRESS batch, if any, continues to completion or expiry per the
// cascade coordinator's own rules.
func (h *SiteHandler) Deactivate(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid site id")
	}

	s, err := h.sites.Deactivate(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	if admin, ok := authpkg.AdminPrincipalFrom(c); ok {
		h.log.Info().Str("admin_subject", admin.Subject).Str("site_id", id.String()).Msg("admin deactivated site")
	}

	return httputil.Success(c, toSiteResponse(s))
}

func (h *SiteHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, site.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "site not found")
	case errors.Is(err, account.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "account not found")
	case errors.Is(err, site.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.CodeConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "site").Msg("unhandled site service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}
}
