package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/account"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/cascade"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
)

// AccountHandler serves the admin account management endpoints.
type AccountHandler struct {
	accounts  account.Repository
	cascade   *cascade.Coordinator
	paginator Paginator
	log       zerolog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts account.Repository, coordinator *cascade.Coordinator, paginator Paginator, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, cascade: coordinator, paginator: paginator, log: logger}
}

type accountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toAccountResponse(a *account.Account) accountResponse {
	return accountResponse{
		ID:        a.ID.String(),
		Email:     a.Email,
		Name:      a.Name,
		Active:    a.Active,
		CreatedAt: a.CreatedAt.UTC().Format(rfc3339),
		UpdatedAt: a.UpdatedAt.UTC().Format(rfc3339),
	}
}

// List handles GET /admin/accounts.
func (h *AccountHandler) List(c fiber.Ctx) error {
	params := account.ListParams{}
	params.Limit, params.Offset = h.paginator.Parse(c)

	result, err := h.accounts.List(c.Context(), params)
	if err != nil {
		return h.mapError(c, err)
	}

	items := make([]accountResponse, len(result.Items))
	for i := range result.Items {
		items[i] = toAccountResponse(&result.Items[i])
	}
	return httputil.Success(c, fiber.Map{"items": items, "total": result.Total})
}

// Get handles GET /admin/accounts/{id}.
func (h *AccountHandler) Get(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid account id")
	}

	a, err := h.accounts.GetByID(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, toAccountResponse(a))
}

type createAccountRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Create handles POST /admin/accounts.
func (h *AccountHandler) Create(c fiber.Ctx) error {
	var body createAccountRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid request body")
	}

	email, err := account.ValidateEmail(body.Email)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}
	name, err := account.ValidateName(body.Name)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}

	a, err := h.accounts.Create(c.Context(), account.CreateParams{Email: email, Name: name})
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toAccountResponse(a))
}

type updateAccountRequest struct {
	Name *string `json:"name"`
}

// Update handles PATCH /admin/accounts/{id}.
func (h *AccountHandler) Update(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid account id")
	}

	var body updateAccountRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid request body")
	}

	if body.Name != nil {
		name, err := account.ValidateName(*body.Name)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
		}
		body.Name = &name
	}

	a, err := h.accounts.Update(c.Context(), id, account.UpdateParams{Name: body.Name})
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, toAccountResponse(a))
}

// Deactivate handles POST /admin/accounts/{id}/deactivate. It cascades to every site the account owns.
func (h *AccountHandler) Deactivate(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid account id")
	}

	a, err := h.cascade.DeactivateAccount(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	if admin, ok := auth.AdminPrincipalFrom(c); ok {
		h.log.Info().Str("admin_subject", admin.Subject).Str("account_id", id.String()).Msg("admin deactivated account")
	}

	return httputil.Success(c, toAccountResponse(a))
}

func (h *AccountHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, account.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "account not found")
	case errors.Is(err, account.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.CodeConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "account").Msg("unhandled account service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}
}
