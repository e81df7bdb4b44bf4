package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/postgres"
)

const selectColumns = `id, account_id, site_id, status, storage_path, uploaded_files_count, total_size,
	has_errors, started_at, completed_at, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed batch repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// List returns a page of batches, optionally filtered by site and/or status, ordered by creation time.
func (r *PGRepository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	var where []string
	var args []any
	argPos := 1

	if params.SiteID != nil {
		where = append(where, fmt.Sprintf("site_id = $%d", argPos))
		args = append(args, *params.SiteID)
		argPos++
	}
	if params.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*params.Status))
		argPos++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + joinAnd(where)
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM batches "+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM batches %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var items []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return &ListResult{Items: items, Total: total}, nil
}

// GetByID returns the batch matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM batches WHERE id = $1", selectColumns), id)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query batch by id: %w", err)
	}
	return b, nil
}

// Start opens a new IN_PROGRESS batch. It first takes a pessimistic lock on the account's in-progress count via
// SELECT ... FOR UPDATE, failing with ErrConcurrencyLimit if the cap is already reached; it then inserts the row,
// relying on the partial unique index on (site_id) WHERE status='IN_PROGRESS' as the correctness backstop for the
// single-active-batch-per-site invariant, surfacing a violation there as ErrActiveBatchExists.
func (r *PGRepository) Start(ctx context.Context, params StartParams, maxConcurrentPerAccount int) (*Batch, error) {
	var result *Batch
	startedAt := time.Now().UTC()
	storagePath := StoragePath(params.AccountID, params.Domain, startedAt)

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM batches
			 WHERE account_id = $1 AND status = 'IN_PROGRESS'
			 FOR UPDATE`,
			params.AccountID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count in-progress batches: %w", err)
		}
		if count >= maxConcurrentPerAccount {
			return ErrConcurrencyLimit
		}

		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO batches (account_id, site_id, status, storage_path, uploaded_files_count, total_size,
					has_errors, started_at)
				 VALUES ($1, $2, 'IN_PROGRESS', $3, 0, 0, false, $4)
				 RETURNING %s`, selectColumns),
			params.AccountID, params.SiteID, storagePath, startedAt,
		)
		b, err := scanBatch(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrActiveBatchExists
			}
			return fmt.Errorf("insert batch: %w", err)
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transition moves a batch from IN_PROGRESS into a terminal status, setting completedAt and optionally OR-ing in
// hasErrors. The WHERE clause's status='IN_PROGRESS' guard makes the terminal-state check atomic with the update;
// zero rows affected is reported as ErrInvalidState (the batch either does not exist or is already terminal).
func (r *PGRepository) Transition(ctx context.Context, id uuid.UUID, to Status, hasErrors *bool) (*Batch, error) {
	setHasErrors := "has_errors"
	args := []any{to, time.Now().UTC(), id}
	if hasErrors != nil {
		setHasErrors = "has_errors OR $4"
		args = append(args, *hasErrors)
	}

	query := fmt.Sprintf(
		`UPDATE batches SET status = $1, completed_at = $2, has_errors = %s
		 WHERE id = $3 AND status = 'IN_PROGRESS'
		 RETURNING %s`,
		setHasErrors, selectColumns,
	)

	row := r.db.QueryRow(ctx, query, args...)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("transition batch: %w", err)
	}
	return b, nil
}

// IncrementCounters atomically bumps uploadedFilesCount and totalSize for an IN_PROGRESS batch. upload.Commit does
// not call this: it needs the same increment inside the transaction that locks the batch row and inserts the
// uploaded_files row, so it issues that UPDATE itself rather than making a second round trip through this method.
// This standalone form remains part of the Repository contract for any caller that only needs the counter bump on
// its own, with the WHERE guard making a single UPDATE statement sufficient to serialize against concurrent commits
// via the row lock postgres takes for the update.
func (r *PGRepository) IncrementCounters(ctx context.Context, id uuid.UUID, fileSize int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE batches
		 SET uploaded_files_count = uploaded_files_count + 1, total_size = total_size + $1
		 WHERE id = $2 AND status = 'IN_PROGRESS'`,
		fileSize, id,
	)
	if err != nil {
		return fmt.Errorf("increment batch counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ReapTimedOut transitions every IN_PROGRESS batch started before cutoff to NOT_COMPLETED, one row per transaction
// so a slow reap never holds a long-lived lock. A batch that raced to a terminal state between selection and update
// is silently skipped (zero rows affected on its own update), making the reap idempotent.
func (r *PGRepository) ReapTimedOut(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id FROM batches WHERE status = 'IN_PROGRESS' AND started_at < $1", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("select timed-out batches: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan timed-out batch id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate timed-out batches: %w", err)
	}
	rows.Close()

	reaped := 0
	for _, id := range ids {
		tag, err := r.db.Exec(ctx,
			`UPDATE batches SET status = 'NOT_COMPLETED', completed_at = $1
			 WHERE id = $2 AND status = 'IN_PROGRESS'`,
			time.Now().UTC(), id,
		)
		if err != nil {
			return reaped, fmt.Errorf("reap batch %s: %w", id, err)
		}
		if tag.RowsAffected() > 0 {
			reaped++
		}
	}
	return reaped, nil
}

// Delete removes the batch row. The schema's ON DELETE CASCADE on uploaded_files removes the batch's file rows in
// the same statement, and error_logs entries keep their rows with batch_id set to NULL. Blobs are not touched.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM batches WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	var status string
	err := row.Scan(
		&b.ID, &b.AccountID, &b.SiteID, &status, &b.StoragePath, &b.UploadedFilesCount, &b.TotalSize,
		&b.HasErrors, &b.StartedAt, &b.CompletedAt, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return &b, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
