package account

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

const selectColumns = "id, email, name, active, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed account repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// List returns a page of accounts ordered by creation time, along with the total matching count.
func (r *PGRepository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&total); err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2", selectColumns),
		params.Limit, params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var items []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return &ListResult{Items: items, Total: total}, nil
}

// GetByID returns the account matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM accounts WHERE id = $1", selectColumns), id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query account by id: %w", err)
	}
	return a, nil
}

// GetByEmail returns the account matching the given email. The caller must pass an already-normalized (lowercased,
// trimmed) address; see ValidateEmail.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM accounts WHERE LOWER(email) = LOWER($1)", selectColumns), email,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query account by email: %w", err)
	}
	return a, nil
}

// Create inserts a new account. The email uniqueness constraint is case-insensitive (a functional unique index on
// LOWER(email)); a violation surfaces as ErrAlreadyExists.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Account, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO accounts (email, name, active)
			 VALUES ($1, $2, true)
			 RETURNING %s`, selectColumns),
		params.Email, params.Name,
	)
	a, err := scanAccount(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

// Update applies the non-nil fields in params to the account row and returns the updated account.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Account, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		namedArgs["name"] = *params.Name
	}

	// No fields to update. Return the current row without issuing an UPDATE so the database trigger does not bump
	// updated_at.
	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE accounts SET " + strings.Join(setClauses, ", ") +
		" WHERE id = @id RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	return a, nil
}

// SetActive flips the active flag within the caller's transaction and returns the updated row. It performs no
// cascade; callers that need the AccountDeactivated cascade must go through internal/cascade.
func (r *PGRepository) SetActive(ctx context.Context, tx pgx.Tx, id uuid.UUID, active bool) (*Account, error) {
	row := tx.QueryRow(ctx,
		fmt.Sprintf("UPDATE accounts SET active = $1 WHERE id = $2 RETURNING %s", selectColumns),
		active, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set account active: %w", err)
	}
	return a, nil
}

// scanAccount scans a single row into an Account struct.
func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
