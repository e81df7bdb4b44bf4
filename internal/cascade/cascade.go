// Package cascade composes the multi-repository transactions that several domain operations require. Deactivating an
// account must also deactivate every site it owns, atomically; rather than have account or site know about each
// other, a Coordinator wires the two repositories together inside a single transaction.
package cascade

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/account"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/postgres"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/site"
)

// Coordinator runs cross-repository transactions.
type Coordinator struct {
	db       *pgxpool.Pool
	accounts account.Repository
	sites    site.Repository
	log      zerolog.Logger
}

// NewCoordinator builds a Coordinator from the shared pool and the two repositories it composes.
func NewCoordinator(db *pgxpool.Pool, accounts account.Repository, sites site.Repository, logger zerolog.Logger) *Coordinator {
	return &Coordinator{db: db, accounts: accounts, sites: sites, log: logger}
}

// DeactivateAccount flips the account's active flag to false and deactivates every site it owns, in one transaction.
// A site deactivated this way cannot be reactivated independently of the account; reactivating the account does not
// reactivate its sites.
func (c *Coordinator) DeactivateAccount(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	var updated *account.Account

	err := postgres.WithTx(ctx, c.db, func(tx pgx.Tx) error {
		a, err := c.accounts.SetActive(ctx, tx, accountID, false)
		if err != nil {
			return fmt.Errorf("deactivate account: %w", err)
		}

		affected, err := c.sites.DeactivateAllForAccount(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("deactivate sites: %w", err)
		}

		c.log.Info().
			Str("account_id", accountID.String()).
			Int64("sites_deactivated", affected).
			Msg("account deactivated")

		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
