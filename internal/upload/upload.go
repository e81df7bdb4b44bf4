// Package upload implements the three-phase file ingestion pipeline: a read-only validation transaction, a
// transaction-free PUT to the object store, and a read-write commit transaction. The split exists because the
// object store and the metadata store are not joined by a single transaction — the system tolerates a rare orphan
// blob but never a metadata row without a backing object.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/metrics"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/objectstore"
)

// Sentinel errors for the upload package.
var (
	ErrNotFound          = errors.New("uploaded file not found")
	ErrFileTooLarge      = errors.New("file exceeds the maximum upload size")
	ErrEmptyFile         = errors.New("file is empty")
	ErrDuplicateFile     = errors.New("a file with this name has already been committed to this batch")
	ErrOwnershipMismatch = errors.New("batch does not belong to the requesting site")
)

// UploadedFile holds the fields read from the database.
type UploadedFile struct {
	ID               uuid.UUID
	BatchID          uuid.UUID
	OriginalFileName string
	StorageKey       string
	FileSize         int64
	ContentType      string
	Checksum         string
	UploadedAt       time.Time
}

// CreateParams groups the inputs for committing a successfully stored file's metadata.
type CreateParams struct {
	BatchID          uuid.UUID
	OriginalFileName string
	StorageKey       string
	FileSize         int64
	ContentType      string
	Checksum         string
}

// Repository defines the data-access contract for uploaded-file metadata.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*UploadedFile, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]UploadedFile, error)

	// ExistsForBatch reports whether originalFileName has already been committed within batchID.
	ExistsForBatch(ctx context.Context, batchID uuid.UUID, originalFileName string) (bool, error)

	// Commit inserts the UploadedFile row and increments the owning batch's counters in one transaction, re-checking
	// that the batch is still IN_PROGRESS. Returns batch.ErrInvalidState if it is not.
	Commit(ctx context.Context, params CreateParams) (*UploadedFile, error)
}

// Pipeline wires the three phases together against a concrete batch repository, file-metadata repository, and
// object store.
type Pipeline struct {
	batches     batch.Repository
	files       Repository
	store       objectstore.StorageProvider
	maxFileSize int64
}

// NewPipeline builds a Pipeline.
func NewPipeline(batches batch.Repository, files Repository, store objectstore.StorageProvider, maxFileSize int64) *Pipeline {
	return &Pipeline{batches: batches, files: files, store: store, maxFileSize: maxFileSize}
}

// UploadRequest groups the inputs for a single file's three-phase commit.
type UploadRequest struct {
	BatchID          uuid.UUID
	PrincipalSiteID  uuid.UUID
	OriginalFileName string
	ContentType      string
	// Body is read exactly once, spooled to a temp file while a checksum digest is computed, then replayed for
	// Phase B. The caller is responsible for closing it.
	Body io.Reader
	// SizeHint is the declared size (e.g. Content-Length). The pipeline does not compare it with the bytes actually
	// read; the stored size is always the number of bytes read from Body.
	SizeHint int64
}

// Run executes all three phases for a single file and returns the committed metadata row.
func (p *Pipeline) Run(ctx context.Context, req UploadRequest) (*UploadedFile, error) {
	validateStart := time.Now()
	b, spooled, checksum, err := p.validate(ctx, req)
	metrics.UploadPhaseDuration.WithLabelValues("validate").Observe(time.Since(validateStart).Seconds())
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	defer spooled.cleanup()

	storageKey := b.StoragePath + req.OriginalFileName

	putStart := time.Now()
	err = p.put(ctx, storageKey, spooled, req.ContentType)
	metrics.UploadPhaseDuration.WithLabelValues("put").Observe(time.Since(putStart).Seconds())
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("store_failed").Inc()
		return nil, err
	}

	commitStart := time.Now()
	f, err := p.commit(ctx, b.ID, req.OriginalFileName, storageKey, spooled.size, req.ContentType, checksum)
	metrics.UploadPhaseDuration.WithLabelValues("commit").Observe(time.Since(commitStart).Seconds())
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("commit_failed").Inc()
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues("committed").Inc()
	return f, nil
}

// Authorize performs the batch-level half of Phase A — ownership and lifecycle state — without touching any file.
// Callers handling a multi-file request should call this once up front so an ownership or state failure is reported
// before any file is read or stored, rather than buried per-file inside a 201 response.
func (p *Pipeline) Authorize(ctx context.Context, batchID, principalSiteID uuid.UUID) (*batch.Batch, error) {
	b, err := p.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.SiteID != principalSiteID {
		return nil, ErrOwnershipMismatch
	}
	if b.Status != batch.StatusInProgress {
		return nil, batch.ErrInvalidState
	}
	return b, nil
}

// validate is Phase A: a read-only check of batch state, ownership, size, and name uniqueness, plus streaming the
// body into a spooled temp file while computing its checksum.
func (p *Pipeline) validate(ctx context.Context, req UploadRequest) (*batch.Batch, *spooledFile, string, error) {
	b, err := p.Authorize(ctx, req.BatchID, req.PrincipalSiteID)
	if err != nil {
		return nil, nil, "", err
	}

	spooled, checksum, err := spool(req.Body, p.maxFileSize)
	if err != nil {
		return nil, nil, "", err
	}
	if spooled.size > p.maxFileSize {
		spooled.cleanup()
		return nil, nil, "", ErrFileTooLarge
	}
	if spooled.size == 0 {
		spooled.cleanup()
		return nil, nil, "", ErrEmptyFile
	}

	exists, err := p.files.ExistsForBatch(ctx, req.BatchID, req.OriginalFileName)
	if err != nil {
		spooled.cleanup()
		return nil, nil, "", err
	}
	if exists {
		spooled.cleanup()
		return nil, nil, "", ErrDuplicateFile
	}

	return b, spooled, checksum, nil
}

// put is Phase B: no transaction is held while this runs. Transient failures are retried up to 3 attempts with a
// fixed 1-second delay; permanent failures (bad credentials, malformed request) fail fast.
func (p *Pipeline) put(ctx context.Context, storageKey string, spooled *spooledFile, contentType string) error {
	backoff, err := retry.NewConstant(1 * time.Second)
	if err != nil {
		return fmt.Errorf("build retry backoff: %w", err)
	}
	// WithMaxRetries counts retries after the first call, so 2 retries make 3 attempts in all.
	backoff = retry.WithMaxRetries(2, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := spooled.reader()
		if err != nil {
			return err
		}
		defer r.Close()

		err = p.store.Put(ctx, storageKey, r, spooled.size, contentType)
		if err == nil {
			return nil
		}
		if objectstore.IsTransient(err) {
			metrics.UploadObjectStorePutRetriesTotal.Inc()
			return retry.RetryableError(err)
		}
		return err
	})
}

// commit is Phase C: a read-write transaction that re-checks the batch is still IN_PROGRESS before inserting the
// metadata row. If the batch has moved to a terminal state in the meantime, the already-PUT object is left in place
// as an acceptable orphan — it is never deleted here.
func (p *Pipeline) commit(ctx context.Context, batchID uuid.UUID, originalFileName, storageKey string, size int64, contentType, checksum string) (*UploadedFile, error) {
	return p.files.Commit(ctx, CreateParams{
		BatchID:          batchID,
		OriginalFileName: originalFileName,
		StorageKey:       storageKey,
		FileSize:         size,
		ContentType:      contentType,
		Checksum:         checksum,
	})
}

// spooledFile is the body buffered to disk during Phase A so Phase B can retry a PUT without re-reading the
// original (possibly already-consumed) request body.
type spooledFile struct {
	path string
	size int64
}

// spool copies r into a temp file while hashing it, refusing to read past limit+1 bytes so an oversized upload is
// caught without buffering the whole thing in memory.
func spool(r io.Reader, limit int64) (*spooledFile, string, error) {
	f, err := os.CreateTemp("", "upload-*.spool")
	if err != nil {
		return nil, "", fmt.Errorf("create spool file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	limited := io.LimitReader(r, limit+1)
	n, err := io.Copy(io.MultiWriter(f, h), limited)
	if err != nil {
		os.Remove(f.Name())
		return nil, "", fmt.Errorf("spool upload body: %w", err)
	}

	return &spooledFile{path: f.Name(), size: n}, hex.EncodeToString(h.Sum(nil)), nil
}

func (s *spooledFile) reader() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("reopen spool file: %w", err)
	}
	return f, nil
}

func (s *spooledFile) cleanup() {
	_ = os.Remove(s.path)
}
