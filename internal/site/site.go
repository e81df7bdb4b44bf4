package site

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Sentinel errors for the site package.
var (
	ErrNotFound        = errors.New("site not found")
	ErrAlreadyExists   = errors.New("a site with this domain already exists")
	ErrDomainLength    = errors.New("domain must be between 1 and 255 characters")
	ErrDisplayNameLen  = errors.New("display name must be between 1 and 200 characters")
	ErrInactive        = errors.New("site is deactivated")
	ErrAccountNotFound = errors.New("owning account not found")
)

// Site holds the fields read from the database. ClientSecretHash is the argon2id hash of the server-generated
// secret; the plaintext secret is returned to the caller exactly once, at creation, and never stored or logged.
type Site struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	Domain           string
	ClientSecretHash string
	DisplayName      string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateParams groups the inputs for creating a new site. ClientSecretHash must already be computed by the caller
// (see internal/auth.HashSecret) so this package does not need to know the hashing parameters.
type CreateParams struct {
	AccountID        uuid.UUID
	Domain           string
	ClientSecretHash string
	DisplayName      string
}

// UpdateParams groups the optional fields for updating a site. A nil pointer means "no change."
type UpdateParams struct {
	DisplayName *string
}

// ListParams groups the inputs for a paginated site listing, optionally filtered by owning account.
type ListParams struct {
	AccountID *uuid.UUID
	Limit     int
	Offset    int
}

// ListResult is the paginated response contract: items plus the total matching count.
type ListResult struct {
	Items []Site
	Total int
}

// ValidateDomain checks that domain is between 1 and 255 characters after trimming and lowercasing, returning the
// normalized result. Domain is the public identifier used for agent auth and storage paths, so it is always
// compared case-insensitively.
func ValidateDomain(domain string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(domain))
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 255 {
		return "", ErrDomainLength
	}
	return trimmed, nil
}

// ValidateDisplayName checks that name is between 1 and 200 characters after trimming, returning the trimmed
// result.
func ValidateDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 200 {
		return "", ErrDisplayNameLen
	}
	return trimmed, nil
}

// Repository defines the data-access contract for site operations. Deactivation triggered by AccountDeactivated is
// not part of this interface; see internal/cascade.
type Repository interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Site, error)
	GetByDomain(ctx context.Context, domain string) (*Site, error)
	Create(ctx context.Context, params CreateParams) (*Site, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Site, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*Site, error)

	// UpdateClientSecretHash replaces the stored argon2id hash in place, used to transparently upgrade a site's hash
	// to the current cost parameters the next time its secret is verified successfully.
	UpdateClientSecretHash(ctx context.Context, id uuid.UUID, hash string) error

	// DeactivateAllForAccount marks every active site owned by accountID inactive, within the caller's transaction.
	// It returns the number of rows affected. Used only by internal/cascade.
	DeactivateAllForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
}
