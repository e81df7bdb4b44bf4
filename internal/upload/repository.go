package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/postgres"
)

const selectColumns = "id, batch_id, original_file_name, storage_key, file_size, content_type, checksum, uploaded_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed uploaded-file repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetByID returns the uploaded-file row matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*UploadedFile, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM uploaded_files WHERE id = $1", selectColumns), id)
	f, err := scanUploadedFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query uploaded file by id: %w", err)
	}
	return f, nil
}

// ListByBatch returns every uploaded file committed to batchID, in commit order.
func (r *PGRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]UploadedFile, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM uploaded_files WHERE batch_id = $1 ORDER BY uploaded_at", selectColumns),
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query uploaded files by batch: %w", err)
	}
	defer rows.Close()

	var items []UploadedFile
	for rows.Next() {
		f, err := scanUploadedFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploaded files: %w", err)
	}
	return items, nil
}

// ExistsForBatch reports whether originalFileName has already been committed within batchID.
func (r *PGRepository) ExistsForBatch(ctx context.Context, batchID uuid.UUID, originalFileName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM uploaded_files WHERE batch_id = $1 AND original_file_name = $2)",
		batchID, originalFileName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check uploaded file exists: %w", err)
	}
	return exists, nil
}

// Commit inserts the uploaded-file row and increments the owning batch's counters in one transaction. It re-checks
// that the batch is still IN_PROGRESS; if not, it returns batch.ErrInvalidState and the caller must not delete the
// already-stored object — that is an accepted orphan, not cleaned up here.
func (r *PGRepository) Commit(ctx context.Context, params CreateParams) (*UploadedFile, error) {
	var result *UploadedFile

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, "SELECT status FROM batches WHERE id = $1 FOR UPDATE", params.BatchID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return batch.ErrNotFound
			}
			return fmt.Errorf("lock batch for commit: %w", err)
		}
		if batch.Status(status) != batch.StatusInProgress {
			return batch.ErrInvalidState
		}

		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO uploaded_files (batch_id, original_file_name, storage_key, file_size, content_type, checksum, uploaded_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING %s`, selectColumns),
			params.BatchID, params.OriginalFileName, params.StorageKey, params.FileSize, params.ContentType,
			params.Checksum, time.Now().UTC(),
		)
		f, err := scanUploadedFile(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrDuplicateFile
			}
			return fmt.Errorf("insert uploaded file: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE batches SET uploaded_files_count = uploaded_files_count + 1, total_size = total_size + $1
			 WHERE id = $2`,
			params.FileSize, params.BatchID,
		)
		if err != nil {
			return fmt.Errorf("increment batch counters: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return batch.ErrNotFound
		}

		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanUploadedFile(row pgx.Row) (*UploadedFile, error) {
	var f UploadedFile
	err := row.Scan(
		&f.ID, &f.BatchID, &f.OriginalFileName, &f.StorageKey, &f.FileSize, &f.ContentType, &f.Checksum, &f.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
