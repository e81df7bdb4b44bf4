package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/objectstore"
)

// fakeBatches implements batch.Repository against an in-memory map, enough to exercise Pipeline.
type fakeBatches struct {
	batches map[uuid.UUID]*batch.Batch
}

func newFakeBatches(b *batch.Batch) *fakeBatches {
	return &fakeBatches{batches: map[uuid.UUID]*batch.Batch{b.ID: b}}
}

func (f *fakeBatches) List(context.Context, batch.ListParams) (*batch.ListResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBatches) GetByID(_ context.Context, id uuid.UUID) (*batch.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, batch.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatches) Start(context.Context, batch.StartParams, int) (*batch.Batch, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBatches) Transition(_ context.Context, id uuid.UUID, to batch.Status, hasErrors *bool) (*batch.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, batch.ErrNotFound
	}
	if b.Status.IsTerminal() {
		return nil, batch.ErrInvalidState
	}
	b.Status = to
	now := time.Now().UTC()
	b.CompletedAt = &now
	return b, nil
}

func (f *fakeBatches) IncrementCounters(context.Context, uuid.UUID, int64) error {
	return errors.New("not implemented")
}

func (f *fakeBatches) ReapTimedOut(context.Context, time.Time) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeBatches) Delete(context.Context, uuid.UUID) error {
	return errors.New("not implemented")
}

// fakeFiles implements Repository against an in-memory map.
type fakeFiles struct {
	byBatchAndName map[string]bool
	committed      []UploadedFile
	batches        *fakeBatches
}

func newFakeFiles(b *fakeBatches) *fakeFiles {
	return &fakeFiles{byBatchAndName: make(map[string]bool), batches: b}
}

func (f *fakeFiles) GetByID(context.Context, uuid.UUID) (*UploadedFile, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFiles) ListByBatch(context.Context, uuid.UUID) ([]UploadedFile, error) {
	return f.committed, nil
}

func (f *fakeFiles) ExistsForBatch(_ context.Context, batchID uuid.UUID, name string) (bool, error) {
	return f.byBatchAndName[batchID.String()+"/"+name], nil
}

func (f *fakeFiles) Commit(_ context.Context, params CreateParams) (*UploadedFile, error) {
	b, ok := f.batches.batches[params.BatchID]
	if !ok {
		return nil, batch.ErrNotFound
	}
	if b.Status != batch.StatusInProgress {
		return nil, batch.ErrInvalidState
	}
	key := params.BatchID.String() + "/" + params.OriginalFileName
	if f.byBatchAndName[key] {
		return nil, ErrDuplicateFile
	}
	f.byBatchAndName[key] = true
	b.UploadedFilesCount++
	b.TotalSize += params.FileSize

	uf := UploadedFile{
		ID:               uuid.New(),
		BatchID:          params.BatchID,
		OriginalFileName: params.OriginalFileName,
		StorageKey:       params.StorageKey,
		FileSize:         params.FileSize,
		ContentType:      params.ContentType,
		Checksum:         params.Checksum,
		UploadedAt:       time.Now().UTC(),
	}
	f.committed = append(f.committed, uf)
	return &uf, nil
}

func newInProgressBatch() *batch.Batch {
	return &batch.Batch{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		SiteID:      uuid.New(),
		Status:      batch.StatusInProgress,
		StoragePath: "acct/example.com/2026-03-05/14-00/",
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestPipelineRunSuccess(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 128*1024*1024)

	content := []byte("sales data")
	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  b.SiteID,
		OriginalFileName: "sales.csv.gz",
		ContentType:      "application/gzip",
		Body:             bytes.NewReader(content),
		SizeHint:         int64(len(content)),
	}

	got, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.FileSize != int64(len(content)) {
		t.Errorf("FileSize = %d, want %d", got.FileSize, len(content))
	}
	if got.StorageKey != b.StoragePath+"sales.csv.gz" {
		t.Errorf("StorageKey = %q, want %q", got.StorageKey, b.StoragePath+"sales.csv.gz")
	}
	stored, ok := store.Objects[got.StorageKey]
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(stored) != string(content) {
		t.Errorf("stored content = %q, want %q", stored, content)
	}
	if b.UploadedFilesCount != 1 || b.TotalSize != int64(len(content)) {
		t.Errorf("batch counters = (%d, %d), want (1, %d)", b.UploadedFilesCount, b.TotalSize, len(content))
	}
}

func TestPipelineRunRejectsWrongSite(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 128*1024*1024)

	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  uuid.New(),
		OriginalFileName: "x.csv",
		Body:             bytes.NewReader([]byte("x")),
	}

	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, ErrOwnershipMismatch) {
		t.Errorf("Run() error = %v, want ErrOwnershipMismatch", err)
	}
}

func TestPipelineRunRejectsNonInProgress(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	b.Status = batch.StatusCompleted
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 128*1024*1024)

	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  b.SiteID,
		OriginalFileName: "x.csv",
		Body:             bytes.NewReader([]byte("x")),
	}

	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, batch.ErrInvalidState) {
		t.Errorf("Run() error = %v, want ErrInvalidState", err)
	}
}

func TestPipelineRunRejectsOversized(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 4)

	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  b.SiteID,
		OriginalFileName: "x.csv",
		Body:             bytes.NewReader([]byte("this is longer than four bytes")),
	}

	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Run() error = %v, want ErrFileTooLarge", err)
	}
}

func TestPipelineRunRejectsEmptyFile(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 128*1024*1024)

	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  b.SiteID,
		OriginalFileName: "empty.csv",
		Body:             bytes.NewReader(nil),
	}

	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Run() error = %v, want ErrEmptyFile", err)
	}
	if len(store.Objects) != 0 {
		t.Errorf("stored objects = %d, want 0 (empty file must be rejected before Phase B)", len(store.Objects))
	}
}

func TestPipelineAuthorize(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 128*1024*1024)

	if _, err := p.Authorize(context.Background(), b.ID, b.SiteID); err != nil {
		t.Errorf("Authorize() error = %v, want nil", err)
	}
	if _, err := p.Authorize(context.Background(), b.ID, uuid.New()); !errors.Is(err, ErrOwnershipMismatch) {
		t.Errorf("Authorize() error = %v, want ErrOwnershipMismatch", err)
	}

	b.Status = batch.StatusCompleted
	if _, err := p.Authorize(context.Background(), b.ID, b.SiteID); !errors.Is(err, batch.ErrInvalidState) {
		t.Errorf("Authorize() error = %v, want ErrInvalidState", err)
	}
}

func TestPipelineRunRejectsDuplicateFilename(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	store := objectstore.NewFakeProvider()
	p := NewPipeline(batches, files, store, 128*1024*1024)

	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  b.SiteID,
		OriginalFileName: "sales.csv.gz",
		Body:             bytes.NewReader([]byte("a")),
	}
	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	req.Body = bytes.NewReader([]byte("a"))
	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, ErrDuplicateFile) {
		t.Errorf("second Run() error = %v, want ErrDuplicateFile", err)
	}
}

// reapRaceStore flips the batch to CANCELLED right after a successful Put, simulating the reaper (or any other
// terminal transition) racing the upload between Phase B and Phase C.
type reapRaceStore struct {
	*objectstore.FakeProvider
	batch *batch.Batch
}

func (s *reapRaceStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := s.FakeProvider.Put(ctx, key, r, size, contentType); err != nil {
		return err
	}
	s.batch.Status = batch.StatusCancelled
	return nil
}

func TestPipelineRunLeavesOrphanOnPhaseCFailure(t *testing.T) {
	t.Parallel()

	b := newInProgressBatch()
	batches := newFakeBatches(b)
	files := newFakeFiles(batches)
	inner := objectstore.NewFakeProvider()
	store := &reapRaceStore{FakeProvider: inner, batch: b}
	p := NewPipeline(batches, files, store, 128*1024*1024)

	req := UploadRequest{
		BatchID:          b.ID,
		PrincipalSiteID:  b.SiteID,
		OriginalFileName: "race.csv",
		Body:             bytes.NewReader([]byte("payload")),
	}

	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, batch.ErrInvalidState) {
		t.Fatalf("Run() error = %v, want ErrInvalidState", err)
	}

	key := b.StoragePath + "race.csv"
	if _, ok := inner.Objects[key]; !ok {
		t.Error("expected the blob to remain stored as an orphan after a Phase C failure")
	}
}
