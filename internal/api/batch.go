package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/metrics"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/objectstore"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/site"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/upload"
)

// BatchHandler serves both the agent-facing batch lifecycle endpoints and the admin read/delete endpoints.
type BatchHandler struct {
	batches                 batch.Repository
	uploads                 upload.Repository
	sites                   site.Repository
	store                   objectstore.StorageProvider
	maxConcurrentPerAccount int
	paginator               Paginator
	log                     zerolog.Logger
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(batches batch.Repository, uploads upload.Repository, sites site.Repository, store objectstore.StorageProvider, maxConcurrentPerAccount int, paginator Paginator, logger zerolog.Logger) *BatchHandler {
	return &BatchHandler{
		batches:                 batches,
		uploads:                 uploads,
		sites:                   sites,
		store:                   store,
		maxConcurrentPerAccount: maxConcurrentPerAccount,
		paginator:               paginator,
		log:                     logger,
	}
}

type batchResponse struct {
	ID                 string  `json:"id"`
	AccountID          string  `json:"accountId"`
	SiteID             string  `json:"siteId"`
	Status             string  `json:"status"`
	StoragePath        string  `json:"storagePath"`
	UploadedFilesCount int     `json:"uploadedFilesCount"`
	TotalSize          int64   `json:"totalSize"`
	HasErrors          bool    `json:"hasErrors"`
	StartedAt          string  `json:"startedAt"`
	CompletedAt        *string `json:"completedAt,omitempty"`
	CreatedAt          string  `json:"createdAt"`
}

func toBatchResponse(b *batch.Batch) batchResponse {
	var completedAt *string
	if b.CompletedAt != nil {
		s := b.CompletedAt.UTC().Format(rfc3339)
		completedAt = &s
	}
	return batchResponse{
		ID:                 b.ID.String(),
		AccountID:          b.AccountID.String(),
		SiteID:             b.SiteID.String(),
		Status:             string(b.Status),
		StoragePath:        b.StoragePath,
		UploadedFilesCount: b.UploadedFilesCount,
		TotalSize:          b.TotalSize,
		HasErrors:          b.HasErrors,
		StartedAt:          b.StartedAt.UTC().Format(rfc3339),
		CompletedAt:        completedAt,
		CreatedAt:          b.CreatedAt.UTC().Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// Start handles POST /batch/start.
func (h *BatchHandler) Start(c fiber.Ctx) error {
	p, ok := auth.AgentPrincipalFrom(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
	}

	b, err := h.batches.Start(c.Context(), batch.StartParams{
		AccountID: p.AccountID,
		SiteID:    p.SiteID,
		Domain:    p.Domain,
	}, h.maxConcurrentPerAccount)
	if err != nil {
		return h.mapError(c, err)
	}
	metrics.BatchesStartedTotal.Inc()

	return httputil.SuccessStatus(c, fiber.StatusCreated, toBatchResponse(b))
}

// Get handles GET /batch/{id}. Admin callers bypass the ownership check.
func (h *BatchHandler) Get(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid batch id")
	}

	b, err := h.batches.GetByID(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	if _, isAdmin := auth.AdminPrincipalFrom(c); !isAdmin {
		p, ok := auth.AgentPrincipalFrom(c)
		if !ok || p.SiteID != b.SiteID {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeOwnershipDenied, "batch does not belong to the requesting site")
		}
	}

	return httputil.Success(c, toBatchResponse(b))
}

// Complete handles POST /batch/{id}/complete.
func (h *BatchHandler) Complete(c fiber.Ctx) error {
	return h.transition(c, batch.StatusCompleted, nil)
}

// Fail handles POST /batch/{id}/fail. It always sets hasErrors.
func (h *BatchHandler) Fail(c fiber.Ctx) error {
	hasErrors := true
	return h.transition(c, batch.StatusFailed, &hasErrors)
}

// Cancel handles POST /batch/{id}/cancel.
func (h *BatchHandler) Cancel(c fiber.Ctx) error {
	return h.transition(c, batch.StatusCancelled, nil)
}

func (h *BatchHandler) transition(c fiber.Ctx, to batch.Status, hasErrors *bool) error {
	p, ok := auth.AgentPrincipalFrom(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid batch id")
	}

	existing, err := h.batches.GetByID(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	if existing.SiteID != p.SiteID {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeOwnershipDenied, "batch does not belong to the requesting site")
	}

	b, err := h.batches.Transition(c.Context(), id, to, hasErrors)
	if err != nil {
		return h.mapError(c, err)
	}
	metrics.BatchesTransitionedTotal.WithLabelValues(string(to)).Inc()

	return httputil.Success(c, toBatchResponse(b))
}

// AdminList handles GET /admin/batches with optional siteId/status filters.
func (h *BatchHandler) AdminList(c fiber.Ctx) error {
	params := batch.ListParams{}
	params.Limit, params.Offset = h.paginator.Parse(c)

	if raw := c.Query("siteId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid siteId filter")
		}
		params.SiteID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status, err := batch.ParseStatusFilter(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, err.Error())
		}
		params.Status = &status
	}

	result, err := h.batches.List(c.Context(), params)
	if err != nil {
		return h.mapError(c, err)
	}

	items := make([]batchResponse, len(result.Items))
	for i := range result.Items {
		items[i] = toBatchResponse(&result.Items[i])
	}

	return httputil.Success(c, fiber.Map{"items": items, "total": result.Total})
}

type fileResponse struct {
	ID               string `json:"id"`
	OriginalFileName string `json:"originalFileName"`
	StorageKey       string `json:"storageKey"`
	FileSize         int64  `json:"fileSize"`
	ContentType      string `json:"contentType"`
	Checksum         string `json:"checksum"`
	UploadedAt       string `json:"uploadedAt"`
}

// AdminGetDetail handles GET /admin/batches/{id}, returning the batch plus its file list and owning site domain.
func (h *BatchHandler) AdminGetDetail(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid batch id")
	}

	b, err := h.batches.GetByID(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	s, err := h.sites.GetByID(c.Context(), b.SiteID)
	if err != nil {
		return h.mapError(c, err)
	}

	files, err := h.uploads.ListByBatch(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	fileItems := make([]fileResponse, len(files))
	for i, f := range files {
		fileItems[i] = fileResponse{
			ID:               f.ID.String(),
			OriginalFileName: f.OriginalFileName,
			StorageKey:       f.StorageKey,
			FileSize:         f.FileSize,
			ContentType:      f.ContentType,
			Checksum:         f.Checksum,
			UploadedAt:       f.UploadedAt.UTC().Format(rfc3339),
		}
	}

	if admin, ok := auth.AdminPrincipalFrom(c); ok {
		h.log.Info().Str("admin_subject", admin.Subject).Str("batch_id", id.String()).Msg("admin viewed batch detail")
	}

	return httputil.Success(c, fiber.Map{
		"batch":      toBatchResponse(b),
		"siteDomain": s.Domain,
		"files":      fileItems,
	})
}

// AdminDelete handles DELETE /admin/batches/{id}. It deletes the batch row; the schema removes the batch's
// uploaded_files rows with it (ON DELETE CASCADE) and sets batch_id to NULL on its error log entries. The blobs
// already written to the object store are never deleted by this operation.
func (h *BatchHandler) AdminDelete(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid batch id")
	}

	if err := h.batches.Delete(c.Context(), id); err != nil {
		return h.mapError(c, err)
	}

	if admin, ok := auth.AdminPrincipalFrom(c); ok {
		h.log.Info().Str("admin_subject", admin.Subject).Str("batch_id", id.String()).Msg("admin deleted batch metadata")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// AdminDownloadFile handles GET /admin/batches/{id}/files/{fileId}/download, streaming the object store content for
// a single uploaded file. The file is looked up by its uploaded_files row, so once AdminDelete has removed the owning
// batch (and with it that row) this answers not found, even though the blob itself is still in the object store.
func (h *BatchHandler) AdminDownloadFile(c fiber.Ctx) error {
	fileID, err := uuid.Parse(c.Params("fileId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid file id")
	}

	f, err := h.uploads.GetByID(c.Context(), fileID)
	if err != nil {
		return h.mapError(c, err)
	}

	r, err := h.store.Get(c.Context(), f.StorageKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrStorageKeyNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "object not found in store")
		}
		h.log.Error().Err(err).Str("storage_key", f.StorageKey).Msg("object store get failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeStorage, "an internal error occurred")
	}
	defer func() { _ = r.Close() }()

	c.Set(fiber.HeaderContentType, f.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+f.OriginalFileName+`"`)
	return c.SendStream(r)
}

// AdminDeleteFileBlob handles DELETE /admin/batches/{id}/files/{fileId}/blob. Deleting an uploaded file's blob is
// always a separate, explicit action from deleting the batch's metadata row (§6): this is that action.
func (h *BatchHandler) AdminDeleteFileBlob(c fiber.Ctx) error {
	fileID, err := uuid.Parse(c.Params("fileId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid file id")
	}

	f, err := h.uploads.GetByID(c.Context(), fileID)
	if err != nil {
		return h.mapError(c, err)
	}

	if err := h.store.Delete(c.Context(), f.StorageKey); err != nil {
		h.log.Error().Err(err).Str("storage_key", f.StorageKey).Msg("object store delete failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeStorage, "an internal error occurred")
	}

	if admin, ok := auth.AdminPrincipalFrom(c); ok {
		h.log.Info().Str("admin_subject", admin.Subject).Str("storage_key", f.StorageKey).Msg("admin deleted file blob")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BatchHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, batch.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "batch not found")
	case errors.Is(err, site.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "site not found")
	case errors.Is(err, upload.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "file not found")
	case errors.Is(err, batch.ErrActiveBatchExists):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.CodeActiveBatch, err.Error())
	case errors.Is(err, batch.ErrConcurrencyLimit):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.CodeConcurrency, err.Error())
	case errors.Is(err, batch.ErrInvalidState):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeInvalidState, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "batch").Msg("unhandled batch service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeInternal, "an internal error occurred")
	}
}
