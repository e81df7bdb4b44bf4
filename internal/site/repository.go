package site

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/postgres"
)

const selectColumns = "id, account_id, domain, client_secret_hash, display_name, active, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed site repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// List returns a page of sites, optionally filtered by owning account, ordered by creation time, along with the
// total matching count.
func (r *PGRepository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	whereClause := ""
	args := []any{}
	argPos := 1
	if params.AccountID != nil {
		whereClause = fmt.Sprintf("WHERE account_id = $%d", argPos)
		args = append(args, *params.AccountID)
		argPos++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM sites " + whereClause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sites: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM sites %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var items []Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return &ListResult{Items: items, Total: total}, nil
}

// GetByID returns the site matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Site, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM sites WHERE id = $1", selectColumns), id,
	)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query site by id: %w", err)
	}
	return s, nil
}

// GetByDomain returns the site matching the given domain. The caller must pass an already-normalized domain; see
// ValidateDomain. This is the lookup used by agent token mint.
func (r *PGRepository) GetByDomain(ctx context.Context, domain string) (*Site, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM sites WHERE domain = $1", selectColumns), domain,
	)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query site by domain: %w", err)
	}
	return s, nil
}

// Create inserts a new site inside a transaction that verifies the owning account exists. The domain uniqueness
// constraint is global; a violation surfaces as ErrAlreadyExists.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Site, error) {
	var s *Site
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", params.AccountID).Scan(&exists); err != nil {
			return fmt.Errorf("check account exists: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}

		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO sites (account_id, domain, client_secret_hash, display_name, active)
				 VALUES ($1, $2, $3, $4, true)
				 RETURNING %s`, selectColumns),
			params.AccountID, params.Domain, params.ClientSecretHash, params.DisplayName,
		)
		var err error
		s, err = scanSite(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert site: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Update applies the non-nil fields in params to the site row. AccountID and Domain are immutable and cannot be
// changed through this method.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Site, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.DisplayName != nil {
		setClauses = append(setClauses, "display_name = @display_name")
		namedArgs["display_name"] = *params.DisplayName
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE sites SET " + strings.Join(setClauses, ", ") +
		" WHERE id = @id RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update site: %w", err)
	}
	return s, nil
}

// Deactivate marks the site inactive. A deactivated site cannot authenticate or start new batches.
func (r *PGRepository) Deactivate(ctx context.Context, id uuid.UUID) (*Site, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE sites SET active = false WHERE id = $1 RETURNING %s", selectColumns), id,
	)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deactivate site: %w", err)
	}
	return s, nil
}

// UpdateClientSecretHash replaces the stored argon2id hash for the site in place.
func (r *PGRepository) UpdateClientSecretHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx, "UPDATE sites SET client_secret_hash = $1 WHERE id = $2", hash, id)
	if err != nil {
		return fmt.Errorf("update site client secret hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAllForAccount marks every active site owned by accountID inactive, within the caller's transaction.
func (r *PGRepository) DeactivateAllForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx,
		"UPDATE sites SET active = false WHERE account_id = $1 AND active = true", accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate sites for account: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanSite scans a single row into a Site struct.
func scanSite(row pgx.Row) (*Site, error) {
	var s Site
	err := row.Scan(
		&s.ID, &s.AccountID, &s.Domain, &s.ClientSecretHash, &s.DisplayName, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
