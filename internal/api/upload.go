package api

import (
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/upload"
)

// UploadHandler serves the multipart file-upload endpoint that drives the three-phase ingestion pipeline.
type UploadHandler struct {
	pipeline *upload.Pipeline
	log      zerolog.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(pipeline *upload.Pipeline, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, log: logger}
}

type uploadedFileResult struct {
	OriginalFileName string `json:"originalFileName"`
	FileSize         int64  `json:"fileSize,omitempty"`
	Checksum         string `json:"checksum,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Upload handles POST /batch/{id}/upload. Every part under every field name in the multipart form is run through
// the pipeline independently; a failure on one file does not abort the others.
func (h *UploadHandler) Upload(c fiber.Ctx) error {
	p, ok := auth.AgentPrincipalFrom(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.CodeAuth, "authentication required")
	}

	batchID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "invalid batch id")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "request must be multipart/form-data")
	}

	var headers []*multipart.FileHeader
	for _, fileHeaders := range form.File {
		headers = append(headers, fileHeaders...)
	}
	if len(headers) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "no files present in request")
	}

	// Batch ownership and lifecycle state are properties of the whole request, not of any one file: check them once,
	// before any file is read or stored, so a wrong-site or inactive batch never reaches 201 regardless of how many
	// files the request carries (spec §4.3, §4.5 Phase A).
	if _, err := h.pipeline.Authorize(c.Context(), batchID, p.SiteID); err != nil {
		return h.fail(c, err)
	}

	results := make([]uploadedFileResult, 0, len(headers))
	uploaded := 0

	for _, fh := range headers {
		result := uploadedFileResult{OriginalFileName: fh.Filename}

		file, err := fh.Open()
		if err != nil {
			if len(headers) == 1 {
				return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "could not read uploaded file")
			}
			result.Error = "could not read uploaded file"
			results = append(results, result)
			continue
		}

		uf, err := h.pipeline.Run(c.Context(), upload.UploadRequest{
			BatchID:          batchID,
			PrincipalSiteID:  p.SiteID,
			OriginalFileName: fh.Filename,
			ContentType:      fh.Header.Get(fiber.HeaderContentType),
			Body:             file,
			SizeHint:         fh.Size,
		})
		_ = file.Close()

		if err != nil {
			// A single-file request surfaces the real failure as its own HTTP status (spec §8.3 duplicate filename ->
			// 400, §8.6 permanent store error -> 5xx); only a multi-file request buries a per-file failure in the 201
			// envelope, per §6's "implementations may choose single- or multi-file per call" sanction.
			if len(headers) == 1 {
				return h.fail(c, err)
			}
			result.Error = h.errorMessage(err)
			results = append(results, result)
			continue
		}

		result.FileSize = uf.FileSize
		result.Checksum = uf.Checksum
		results = append(results, result)
		uploaded++
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"uploadedFiles": uploaded,
		"files":         results,
	})
}

// fail maps a pipeline error to its structured HTTP response, per spec §4.9's status table.
func (h *UploadHandler) fail(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, upload.ErrOwnershipMismatch):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.CodeOwnershipDenied, "batch does not belong to the requesting site")
	case errors.Is(err, batch.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.CodeNotFound, "batch not found")
	case errors.Is(err, batch.ErrInvalidState):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeInvalidState, "batch is not accepting uploads")
	case errors.Is(err, upload.ErrFileTooLarge):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "file exceeds the maximum upload size")
	case errors.Is(err, upload.ErrEmptyFile):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeValidation, "file is empty")
	case errors.Is(err, upload.ErrDuplicateFile):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.CodeConflict, "a file with this name was already uploaded to this batch")
	default:
		h.log.Error().Err(err).Msg("unhandled upload pipeline error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.CodeStorage, "an internal error occurred")
	}
}

func (h *UploadHandler) errorMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrOwnershipMismatch):
		return "batch does not belong to the requesting site"
	case errors.Is(err, batch.ErrInvalidState):
		return "batch is not accepting uploads"
	case errors.Is(err, upload.ErrFileTooLarge):
		return "file exceeds the maximum upload size"
	case errors.Is(err, upload.ErrEmptyFile):
		return "file is empty"
	case errors.Is(err, upload.ErrDuplicateFile):
		return "a file with this name was already uploaded to this batch"
	case errors.Is(err, batch.ErrNotFound):
		return "batch not found"
	default:
		h.log.Error().Err(err).Msg("unhandled upload pipeline error")
		return "an internal error occurred"
	}
}
