// Package batch implements the bounded upload session a site runs: a small state machine plus two monotonic
// counters. The invariants (at most one IN_PROGRESS batch per site, at most N per account) live in the schema and in
// the transactional start step, not in this type's fields.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of batch lifecycle states.
type Status string

const (
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusNotCompleted Status = "NOT_COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCancelled    Status = "CANCELLED"
)

// IsTerminal reports whether s is absorbing: no transition leads out of it.
func (s Status) IsTerminal() bool {
	return s != StatusInProgress
}

// Sentinel errors for the batch package.
var (
	ErrNotFound          = errors.New("batch not found")
	ErrActiveBatchExists = errors.New("an IN_PROGRESS batch already exists for this site")
	ErrConcurrencyLimit  = errors.New("account has reached its concurrent batch limit")
	ErrInvalidState      = errors.New("batch is not IN_PROGRESS")
	ErrOwnershipMismatch = errors.New("batch does not belong to the requesting site")
)

// Batch holds the fields read from the database. StoragePath is fixed at creation and used verbatim as the prefix
// for every object the batch's uploads write.
type Batch struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	SiteID             uuid.UUID
	Status             Status
	StoragePath        string
	UploadedFilesCount int
	TotalSize          int64
	HasErrors          bool
	StartedAt          time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
}

// StartParams groups the inputs needed to open a new batch.
type StartParams struct {
	AccountID uuid.UUID
	SiteID    uuid.UUID
	Domain    string
}

// ListParams groups the inputs for a paginated, filtered batch listing.
type ListParams struct {
	SiteID *uuid.UUID
	Status *Status
	Limit  int
	Offset int
}

// ListResult is the paginated response contract: items plus the total matching count.
type ListResult struct {
	Items []Batch
	Total int
}

// StoragePath derives the immutable storage prefix for a batch started at startedAt for the given account/domain.
// Dates are UTC, relative to the batch's own startedAt — not wall-clock time of the caller.
func StoragePath(accountID uuid.UUID, domain string, startedAt time.Time) string {
	u := startedAt.UTC()
	return fmt.Sprintf("%s/%s/%s/%s/",
		accountID.String(), domain, u.Format("2006-01-02"), u.Format("15-04"),
	)
}

// Repository defines the data-access contract for batch operations.
type Repository interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)

	// Start opens a new IN_PROGRESS batch, enforcing both the per-account concurrency cap and the per-site
	// single-active-batch invariant inside one transaction. See the engine's Start contract.
	Start(ctx context.Context, params StartParams, maxConcurrentPerAccount int) (*Batch, error)

	// Transition moves a batch from IN_PROGRESS into the given terminal status. It fails with ErrInvalidState if the
	// batch is already terminal. hasErrors, when non-nil, is OR'd into the batch's existing flag (monotonic).
	Transition(ctx context.Context, id uuid.UUID, to Status, hasErrors *bool) (*Batch, error)

	// IncrementCounters atomically adds fileSize to totalSize and 1 to uploadedFilesCount for an IN_PROGRESS batch.
	// Returns ErrInvalidState if the batch is no longer IN_PROGRESS at the time of the update.
	IncrementCounters(ctx context.Context, id uuid.UUID, fileSize int64) error

	// ReapTimedOut transitions every IN_PROGRESS batch whose startedAt precedes the cutoff to NOT_COMPLETED, one
	// transaction per row, and returns the number reaped.
	ReapTimedOut(ctx context.Context, cutoff time.Time) (int, error)

	// Delete removes the batch's metadata row; its uploaded-file rows go with it through the schema's cascade. The
	// blobs in the object store are not removed; the caller decides separately whether to delete them.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ParseStatusFilter validates a status string supplied as a query filter, returning the normalized Status.
func ParseStatusFilter(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusInProgress, StatusCompleted, StatusNotCompleted, StatusFailed, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("invalid status filter %q", raw)
	}
}
