// Package errorlog records client-reported errors. The table is range-partitioned by occurredAt at month
// boundaries, so writes and range queries always carry a time bound.
package errorlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// Sentinel errors for the errorlog package.
var (
	ErrNotFound          = errors.New("error log entry not found")
	ErrEmptyMessage      = errors.New("message must not be empty")
	ErrMessageTooLong    = errors.New("message exceeds the maximum length")
	ErrTitleTooLong      = errors.New("title exceeds the maximum length")
	ErrOwnershipMismatch = errors.New("error log entry does not belong to the requesting site")
)

// MaxMessageLength and MaxTitleLength bound the free-text fields after sanitization.
const (
	MaxMessageLength = 16 * 1024
	MaxTitleLength   = 500
)

// sanitizer strips all markup from free-text fields; error messages are never rendered as HTML, so anything beyond
// plain text is noise at best and an injection vector at worst.
var sanitizer = bluemonday.StrictPolicy()

// ErrorLog holds the fields read from the database. The primary key is (ID, OccurredAt) because the table is
// partitioned by OccurredAt.
type ErrorLog struct {
	ID            uuid.UUID
	SiteID        uuid.UUID
	BatchID       *uuid.UUID
	Type          string
	Title         string
	Message       string
	StackTrace    *string
	ClientVersion *string
	Metadata      map[string]any
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// CreateParams groups the inputs for recording a new error.
type CreateParams struct {
	SiteID        uuid.UUID
	BatchID       *uuid.UUID
	Type          string
	Title         string
	Message       string
	StackTrace    *string
	ClientVersion *string
	Metadata      map[string]any
	OccurredAt    time.Time
}

// Sanitize strips HTML/script markup from the free-text fields of params in place and validates their lengths,
// returning the normalized params.
func Sanitize(params CreateParams) (CreateParams, error) {
	title := sanitizer.Sanitize(params.Title)
	if len(title) > MaxTitleLength {
		return CreateParams{}, ErrTitleTooLong
	}
	params.Title = title

	message := sanitizer.Sanitize(params.Message)
	if strings.TrimSpace(message) == "" {
		return CreateParams{}, ErrEmptyMessage
	}
	if len(message) > MaxMessageLength {
		return CreateParams{}, ErrMessageTooLong
	}
	params.Message = message

	if params.StackTrace != nil {
		cleaned := sanitizer.Sanitize(*params.StackTrace)
		params.StackTrace = &cleaned
	}

	return params, nil
}

// RangeParams groups the inputs for a partition-pruned range query. From and To are both required: the engine
// never scans an unbounded range.
type RangeParams struct {
	SiteID *uuid.UUID
	Type   *string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// ListResult is the paginated response contract: items plus the total matching count.
type ListResult struct {
	Items []ErrorLog
	Total int
}

// Repository defines the data-access contract for error log operations. There is no Update or SoftDelete: entries
// are immutable once inserted.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID, occurredAt time.Time) (*ErrorLog, error)

	// Range returns a page of entries matching the given filters, always pruned by the From/To bound.
	Range(ctx context.Context, params RangeParams) (*ListResult, error)

	// Create inserts a new entry into the partition matching OccurredAt's month and, when BatchID is set, marks the
	// owning batch's hasErrors flag true on a best-effort basis (the insert still succeeds if the batch row is
	// gone).
	Create(ctx context.Context, params CreateParams) (*ErrorLog, error)

	// Export streams every entry matching params (ignoring Limit/Offset) as CSV with the fixed column order
	// (id, batchId, siteId, type, message, metadata, occurredAt) to w.
	Export(ctx context.Context, params RangeParams, w ExportWriter) error

	// EnsurePartition creates the monthly partition covering month, if it does not already exist. Used by the
	// partition-maintainer scheduler so a write never lands on a month with no partition.
	EnsurePartition(ctx context.Context, month time.Time) error
}

// ExportWriter is the minimal surface Export needs; satisfied by *csv.Writer.
type ExportWriter interface {
	Write(record []string) error
	Flush()
	Error() error
}
