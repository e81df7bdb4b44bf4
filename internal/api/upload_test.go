package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/objectstore"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/upload"
)

// fakeBatches implements batch.Repository against a single in-memory record.
type fakeBatches struct {
	b *batch.Batch
}

func (f *fakeBatches) List(context.Context, batch.ListParams) (*batch.ListResult, error) {
	panic("not implemented")
}
func (f *fakeBatches) GetByID(_ context.Context, id uuid.UUID) (*batch.Batch, error) {
	if f.b == nil || f.b.ID != id {
		return nil, batch.ErrNotFound
	}
	return f.b, nil
}
func (f *fakeBatches) Start(context.Context, batch.StartParams, int) (*batch.Batch, error) {
	panic("not implemented")
}
func (f *fakeBatches) Transition(context.Context, uuid.UUID, batch.Status, *bool) (*batch.Batch, error) {
	panic("not implemented")
}
func (f *fakeBatches) IncrementCounters(context.Context, uuid.UUID, int64) error {
	panic("not implemented")
}
func (f *fakeBatches) ReapTimedOut(context.Context, time.Time) (int, error) {
	panic("not implemented")
}
func (f *fakeBatches) Delete(context.Context, uuid.UUID) error { panic("not implemented") }

// fakeFiles implements upload.Repository against an in-memory set of committed names.
type fakeFiles struct {
	existing map[string]bool
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{existing: make(map[string]bool)}
}

func (f *fakeFiles) GetByID(context.Context, uuid.UUID) (*upload.UploadedFile, error) {
	panic("not implemented")
}
func (f *fakeFiles) ListByBatch(context.Context, uuid.UUID) ([]upload.UploadedFile, error) {
	panic("not implemented")
}
func (f *fakeFiles) ExistsForBatch(_ context.Context, batchID uuid.UUID, name string) (bool, error) {
	return f.existing[batchID.String()+"/"+name], nil
}
func (f *fakeFiles) Commit(_ context.Context, params upload.CreateParams) (*upload.UploadedFile, error) {
	key := params.BatchID.String() + "/" + params.OriginalFileName
	if f.existing[key] {
		return nil, upload.ErrDuplicateFile
	}
	f.existing[key] = true
	return &upload.UploadedFile{
		ID:               uuid.New(),
		BatchID:          params.BatchID,
		OriginalFileName: params.OriginalFileName,
		StorageKey:       params.StorageKey,
		FileSize:         params.FileSize,
		ContentType:      params.ContentType,
		Checksum:         params.Checksum,
		UploadedAt:       time.Now().UTC(),
	}, nil
}

func newInProgressBatch(siteID uuid.UUID) *batch.Batch {
	return &batch.Batch{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		SiteID:      siteID,
		Status:      batch.StatusInProgress,
		StoragePath: "acct/store.example.com/2026-07-31/10-00/",
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
}

// withAgentPrincipal injects an AgentPrincipal into Locals, standing in for the real dispatcher middleware.
func withAgentPrincipal(p *auth.AgentPrincipal) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals("authAgentPrincipal", p)
		return c.Next()
	}
}

func newMultipartRequest(t *testing.T, url string, files map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func TestUploadHandlerUploadSuccess(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	b := newInProgressBatch(siteID)
	batches := &fakeBatches{b: b}
	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(batches, newFakeFiles(), store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: siteID}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+b.ID.String()+"/upload", map[string]string{"a.csv": "1,2,3"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if len(store.Objects) != 1 {
		t.Errorf("stored objects = %d, want 1", len(store.Objects))
	}
}

func TestUploadHandlerRejectsMissingPrincipal(t *testing.T) {
	t.Parallel()

	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(&fakeBatches{}, newFakeFiles(), store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", h.Upload)

	req := newMultipartRequest(t, "/batch/"+uuid.New().String()+"/upload", map[string]string{"a.csv": "x"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestUploadHandlerRejectsEmptyForm(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(&fakeBatches{}, newFakeFiles(), store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: siteID}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+uuid.New().String()+"/upload", map[string]string{})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestUploadHandlerPartialFailureContinues(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	b := newInProgressBatch(siteID)
	batches := &fakeBatches{b: b}
	files := newFakeFiles()
	files.existing[b.ID.String()+"/dup.csv"] = true
	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(batches, files, store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: siteID}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+b.ID.String()+"/upload", map[string]string{
		"dup.csv": "already committed",
		"new.csv": "fresh data",
	})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if len(store.Objects) != 1 {
		t.Errorf("stored objects = %d, want 1 (the duplicate should not reach storage verification twice)", len(store.Objects))
	}
}

func TestUploadHandlerWrongSiteRejected(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch(uuid.New())
	batches := &fakeBatches{b: b}
	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(batches, newFakeFiles(), store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: uuid.New()}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+b.ID.String()+"/upload", map[string]string{"a.csv": "x"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d (ownership mismatch is a whole-request authorization failure)", resp.StatusCode, http.StatusForbidden)
	}
	if len(store.Objects) != 0 {
		t.Errorf("stored objects = %d, want 0", len(store.Objects))
	}
}

func TestUploadHandlerSingleFileDuplicateReturns400(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	b := newInProgressBatch(siteID)
	batches := &fakeBatches{b: b}
	files := newFakeFiles()
	files.existing[b.ID.String()+"/dup.csv"] = true
	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(batches, files, store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: siteID}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+b.ID.String()+"/upload", map[string]string{"dup.csv": "already committed"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestUploadHandlerSingleFileStoreErrorReturns5xx(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	b := newInProgressBatch(siteID)
	batches := &fakeBatches{b: b}
	store := objectstore.NewFakeProvider()
	store.PutErr = errors.New("access denied")
	pipeline := upload.NewPipeline(batches, newFakeFiles(), store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: siteID}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+b.ID.String()+"/upload", map[string]string{"a.csv": "1,2,3"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 500 {
		t.Errorf("status = %d, want >= 500", resp.StatusCode)
	}
}

func TestUploadHandlerEmptyFileRejected(t *testing.T) {
	t.Parallel()

	siteID := uuid.New()
	b := newInProgressBatch(siteID)
	batches := &fakeBatches{b: b}
	store := objectstore.NewFakeProvider()
	pipeline := upload.NewPipeline(batches, newFakeFiles(), store, 1024*1024)
	h := NewUploadHandler(pipeline, zerolog.Nop())

	app := fiber.New()
	app.Post("/batch/:id/upload", withAgentPrincipal(&auth.AgentPrincipal{SiteID: siteID}), h.Upload)

	req := newMultipartRequest(t, "/batch/"+b.ID.String()+"/upload", map[string]string{"empty.csv": ""})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if len(store.Objects) != 0 {
		t.Errorf("stored objects = %d, want 0", len(store.Objects))
	}
}
