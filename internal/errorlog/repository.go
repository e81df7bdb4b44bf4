package errorlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, site_id, batch_id, type, title, message, stack_trace, client_version, metadata,
	occurred_at, created_at`

// PGRepository implements Repository using PostgreSQL against a range-partitioned error_logs table.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed error log repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetByID returns the entry matching the composite key (id, occurredAt). occurredAt is required so Postgres can
// route directly to the owning partition instead of scanning all of them.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID, occurredAt time.Time) (*ErrorLog, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM error_logs WHERE id = $1 AND occurred_at = $2", selectColumns),
		id, occurredAt,
	)
	e, err := scanErrorLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query error log by id: %w", err)
	}
	return e, nil
}

// Range returns a page of entries within [From, To), optionally filtered by site and type.
func (r *PGRepository) Range(ctx context.Context, params RangeParams) (*ListResult, error) {
	where, args := rangeFilter(params)

	var total int
	countQuery := "SELECT COUNT(*) FROM error_logs WHERE " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count error logs: %w", err)
	}

	argPos := len(args) + 1
	query := fmt.Sprintf(
		"SELECT %s FROM error_logs WHERE %s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d",
		selectColumns, where, argPos, argPos+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error logs: %w", err)
	}
	defer rows.Close()

	var items []ErrorLog
	for rows.Next() {
		e, err := scanErrorLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error logs: %w", err)
	}
	return &ListResult{Items: items, Total: total}, nil
}

// Create inserts a new entry. Postgres routes the row to the correct monthly partition based on OccurredAt; the
// scheduler's partition-maintainer is responsible for that partition already existing. When BatchID is set, the
// owning batch's hasErrors flag is set true on a best-effort basis: the insert is not rolled back if that update
// affects zero rows.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*ErrorLog, error) {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO error_logs (id, site_id, batch_id, type, title, message, stack_trace, client_version, metadata, occurred_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING %s`, selectColumns),
		uuid.New(), params.SiteID, params.BatchID, params.Type, params.Title, params.Message,
		params.StackTrace, params.ClientVersion, metadata, params.OccurredAt, time.Now().UTC(),
	)
	e, err := scanErrorLog(row)
	if err != nil {
		return nil, fmt.Errorf("insert error log: %w", err)
	}

	if params.BatchID != nil {
		if _, err := r.db.Exec(ctx,
			"UPDATE batches SET has_errors = true WHERE id = $1", *params.BatchID,
		); err != nil {
			r.log.Warn().Err(err).Str("batch_id", params.BatchID.String()).Msg("failed to mark batch has_errors")
		}
	}

	return e, nil
}

// Export streams every entry matching params, ignoring Limit/Offset, as CSV rows with the fixed column order
// (id, batchId, siteId, type, message, metadata, occurredAt) via w. Callers are expected to pass a bounded range;
// this method does not paginate.
func (r *PGRepository) Export(ctx context.Context, params RangeParams, w ExportWriter) error {
	where, args := rangeFilter(params)
	query := fmt.Sprintf(
		"SELECT id, batch_id, site_id, type, message, metadata, occurred_at FROM error_logs WHERE %s ORDER BY occurred_at",
		where,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query error logs for export: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         uuid.UUID
			batchID    *uuid.UUID
			siteID     uuid.UUID
			typ        string
			message    string
			metadata   []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&id, &batchID, &siteID, &typ, &message, &metadata, &occurredAt); err != nil {
			return fmt.Errorf("scan error log for export: %w", err)
		}

		batchIDStr := ""
		if batchID != nil {
			batchIDStr = batchID.String()
		}

		record := []string{
			id.String(),
			batchIDStr,
			siteID.String(),
			typ,
			message,
			string(metadata),
			occurredAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate error logs for export: %w", err)
	}

	w.Flush()
	return w.Error()
}

// EnsurePartition creates the monthly partition covering month, if it does not already exist. The partition name
// follows the error_logs_YYYY_MM convention the seeding migration also uses.
func (r *PGRepository) EnsurePartition(ctx context.Context, month time.Time) error {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	name := fmt.Sprintf("error_logs_%04d_%02d", start.Year(), start.Month())

	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF error_logs FOR VALUES FROM ('%s') TO ('%s')`,
		name, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure partition %s: %w", name, err)
	}
	return nil
}

// rangeFilter builds the WHERE clause and arguments shared by Range and Export. From/To are always included so
// Postgres can prune partitions.
func rangeFilter(params RangeParams) (string, []any) {
	clauses := []string{"occurred_at >= $1", "occurred_at < $2"}
	args := []any{params.From, params.To}
	argPos := 3

	if params.SiteID != nil {
		clauses = append(clauses, fmt.Sprintf("site_id = $%d", argPos))
		args = append(args, *params.SiteID)
		argPos++
	}
	if params.Type != nil {
		clauses = append(clauses, fmt.Sprintf("type = $%d", argPos))
		args = append(args, *params.Type)
		argPos++
	}

	where := clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanErrorLog(row pgx.Row) (*ErrorLog, error) {
	var e ErrorLog
	var metadata []byte
	err := row.Scan(
		&e.ID, &e.SiteID, &e.BatchID, &e.Type, &e.Title, &e.Message, &e.StackTrace, &e.ClientVersion,
		&metadata, &e.OccurredAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}
