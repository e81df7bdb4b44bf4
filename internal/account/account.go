package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Sentinel errors for the account package.
var (
	ErrNotFound      = errors.New("account not found")
	ErrAlreadyExists = errors.New("an account with this email already exists")
	ErrInvalidEmail  = errors.New("email must be a valid address")
	ErrNameLength    = errors.New("name must be between 1 and 200 characters")
	ErrInactive      = errors.New("account is deactivated")
)

// Account holds the fields read from the database. Destruction is forbidden at the domain level; the only
// lifecycle transition is deactivation (active=false), which is irreversible through this API.
type Account struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams groups the inputs for creating a new account.
type CreateParams struct {
	Email string
	Name  string
}

// UpdateParams groups the optional fields for updating an account. A nil pointer means "no change."
type UpdateParams struct {
	Name *string
}

// ListParams groups the inputs for a paginated account listing.
type ListParams struct {
	Limit  int
	Offset int
}

// ListResult is the paginated response contract: items plus the total matching count.
type ListResult struct {
	Items []Account
	Total int
}

// ValidateEmail normalizes (lowercases, trims) and validates an email address, returning the normalized form.
// Lookups must use this normalized form so that uniqueness is effectively case-insensitive.
func ValidateEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", ErrInvalidEmail
	}
	return trimmed, nil
}

// ValidateName checks that name is between 1 and 200 characters after trimming whitespace, returning the trimmed
// result.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 200 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for account operations. Deactivation is deliberately not part of this
// interface: it cascades to sites and lives in internal/cascade as a single transactional function.
type Repository interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, params CreateParams) (*Account, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Account, error)

	// SetActive flips the active flag directly, with no cascade. Used only by internal/cascade inside its own
	// transaction; application code should call cascade.Coordinator.DeactivateAccount instead.
	SetActive(ctx context.Context, tx pgx.Tx, id uuid.UUID, active bool) (*Account, error)
}
