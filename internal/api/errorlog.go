package api

import (
	"encoding/csv"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/errorlog"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/metrics"
)

// ErrorLogHandler serves both the agent-facing error reporting endpoints and the admin list/export endpoints.
type ErrorLogHandler struct {
	errors    errorlog.Repository
	batches   batch.Repository
	paginator Paginator
	log       zerolog.Logger
}

// NewErrorLogHandler creates a new ErrorLogHandler.
func NewErrorLogHandler(errs errorlog.Repository, batches batch.Repository, paginator Paginator, logger zerolog.Logger) *ErrorLogHandler {
	return &ErrorLogHandler{errors: errs, batches: batches, paginator: paginator, log: logger}
}

type errorLogRequest struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	StackTrace    *string        `json:"stackTrace,omitempty"`
	ClientVersion *string        `json:"clientVersion,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

type errorLogResponse struct {
	ID            string         `json:"id"`
	SiteID        string         `json:"siteId"`
	BatchID       *string        `json:"batchId,omitempty"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	StackTrace    *string        `json:"stackTrace,omitempty"`
	ClientVersion *string        `json:"clientVersion,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    string         `json:"occurredAt"`
	CreatedAt     string         `json:"createdAt"`
}

func toErrorLogResponse(e *errorlog.ErrorLog) errorLogResponse {
	var batchID *string
	if e.BatchID != nil {
		s := e.BatchID.String()
		batchID = &s
	}
	return errorLogResponse{
		ID:            e.ID.String(),
		SiteID:        e.SiteID.String(),
		BatchID:       batchID,
		Type:          e.Type,
		Title:         e.Title,
		Message:       e.Message,
		StackTrace:    e.StackTrace,
		ClientVersion: e.ClientVersion,
		Metadata:      e.Metadata,
		OccurredAt:    e.OccurredAt.UTC().Format(rfc3339),
		CreatedAt:     e.CreatedAt.UTC().Format(rfc3339),
	}
}

// ReportStandalone handles POST /error. The entry is attributed to the caller's site and carries no batch.
func (h *ErrorLogHandler) ReportStandalone(c fiber.Ctx) error {
	p, ok := auth.AgentPrincipalFrom(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
	}

	var req errorLogRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid request body")
	}

	params, err := errorlog.Sanitize(errorlog.CreateParams{
		SiteID:        p.SiteID,
		Type:          req.Type,
		Title:         req.Title,
		Message:       req.Message,
		StackTrace:    req.StackTrace,
		ClientVersion: req.ClientVersion,
		Metadata:      req.Metadata,
		OccurredAt:    req.OccurredAt,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}

	if _, err := h.errors.Create(c.Context(), params); err != nil {
		return h.mapError(c, err)
	}
	metrics.ErrorLogsWrittenTotal.WithLabelValues("standalone").Inc()

	return c.SendStatus(fiber.StatusNoContent)
}

// ReportForBatch handles POST /error/{batchId}. The caller must own the referenced batch.
func (h *ErrorLogHandler) ReportForBatch(c fiber.Ctx) error {
	p, ok := auth.AgentPrincipalFrom(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
	}

	batchID, err := uuid.Parse(c.Params("batchId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid batch id")
	}

	b, err := h.batches.GetByID(c.Context(), batchID)
	if err != nil {
		return h.mapError(c, err)
	}
	if b.SiteID != p.SiteID {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeOwnershipDenied, "batch does not belong to the requesting site")
	}

	var req errorLogRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid request body")
	}

	params, err := errorlog.Sanitize(errorlog.CreateParams{
		SiteID:        p.SiteID,
		BatchID:       &batchID,
		Type:          req.Type,
		Title:         req.Title,
		Message:       req.Message,
		StackTrace:    req.StackTrace,
		ClientVersion: req.ClientVersion,
		Metadata:      req.Metadata,
		OccurredAt:    req.OccurredAt,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}

	e, err := h.errors.Create(c.Context(), params)
	if err != nil {
		return h.mapError(c, err)
	}
	metrics.ErrorLogsWrittenTotal.WithLabelValues("batch").Inc()

	return httputil.SuccessStatus(c, fiber.StatusCreated, toErrorLogResponse(e))
}

// Get handles GET /error/log/{errorId}?occurredAt=<RFC3339>. occurredAt is required so the lookup can route
// directly to the owning monthly partition. Standalone entries are visible only to the issuing site; batch-linked
// entries are visible to whichever site owns that batch. Admin callers bypass both checks.
func (h *ErrorLogHandler) Get(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("errorId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid error id")
	}

	occurredAt, err := time.Parse(time.RFC3339, c.Query("occurredAt"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "occurredAt query parameter must be RFC3339")
	}

	e, err := h.errors.GetByID(c.Context(), id, occurredAt)
	if err != nil {
		return h.mapError(c, err)
	}

	if _, isAdmin := auth.AdminPrincipalFrom(c); !isAdmin {
		p, ok := auth.AgentPrincipalFrom(c)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
		}

		if e.BatchID == nil {
			if e.SiteID != p.SiteID {
				return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeOwnershipDenied, "error log entry does not belong to the requesting site")
			}
		} else {
			b, err := h.batches.GetByID(c.Context(), *e.BatchID)
			if err != nil || b.SiteID != p.SiteID {
				return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeOwnershipDenied, "error log entry does not belong to the requesting site")
			}
		}
	}

	return httputil.Success(c, toErrorLogResponse(e))
}

func (h *ErrorLogHandler) parseRangeParams(c fiber.Ctx) (errorlog.RangeParams, error) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return errorlog.RangeParams{}, errors.New("from query parameter must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return errorlog.RangeParams{}, errors.New("to query parameter must be RFC3339")
	}

	params := errorlog.RangeParams{From: from, To: to}
	if raw := c.Query("siteId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorlog.RangeParams{}, errors.New("invalid siteId filter")
		}
		params.SiteID = &id
	}
	if raw := c.Query("type"); raw != "" {
		params.Type = &raw
	}
	return params, nil
}

// AdminList handles GET /admin/errors with required from/to bounds and optional siteId/type filters.
func (h *ErrorLogHandler) AdminList(c fiber.Ctx) error {
	params, err := h.parseRangeParams(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}
	params.Limit, params.Offset = h.paginator.Parse(c)

	result, err := h.errors.Range(c.Context(), params)
	if err != nil {
		return h.mapError(c, err)
	}

	items := make([]errorLogResponse, len(result.Items))
	for i := range result.Items {
		items[i] = toErrorLogResponse(&result.Items[i])
	}

	return httputil.Success(c, fiber.Map{"items": items, "total": result.Total})
}

// AdminExport handles GET /admin/errors/export, streaming every matching entry as CSV. The export is unpaginated;
// callers are expected to pass a bounded date range.
func (h *ErrorLogHandler) AdminExport(c fiber.Ctx) error {
	params, err := h.parseRangeParams(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="error_logs.csv"`)

	w := csv.NewWriter(c.Response().BodyWriter())
	if err := w.Write([]string{"id", "batchId", "siteId", "type", "message", "metadata", "occurredAt"}); err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}
	w.Flush()

	if err := h.errors.Export(c.Context(), params, w); err != nil {
		h.log.Error().Err(err).Msg("export error logs")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}

	return nil
}

func (h *ErrorLogHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errorlog.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "error log entry not found")
	case errors.Is(err, batch.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "batch not found")
	case errors.Is(err, errorlog.ErrEmptyMessage), errors.Is(err, errorlog.ErrMessageTooLong), errors.Is(err, errorlog.ErrTitleTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "errorlog").Msg("unhandled error log service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}
}
