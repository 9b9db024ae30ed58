// Package credentials keeps provider accounts in Postgres.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"videobatch/internal/domain"
	"videobatch/internal/infra"
	"videobatch/internal/sqlinline"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

var _ domain.AccountRepository = (*Store)(nil)

// Accounts returns the enabled accounts of provider in rotation order.
func (s *Store) Accounts(ctx context.Context, provider string) ([]domain.Account, error) {
	provider = normalizeProvider(provider)
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	rows, err := s.sql.Query(ctx, sqlinline.QSelectProviderAccounts, provider)
	if err != nil {
		return nil, fmt.Errorf("credentials: list %s accounts: %w", provider, err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.Identity, &a.Secret); err != nil {
			return nil, fmt.Errorf("credentials: scan account: %w", err)
		}
		a.Identity = strings.TrimSpace(a.Identity)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: list %s accounts: %w", provider, err)
	}
	return accounts, nil
}

// UpsertAccount stores or re-enables an account.
func (s *Store) UpsertAccount(ctx context.Context, provider string, account domain.Account) error {
	provider = normalizeProvider(provider)
	identity := strings.TrimSpace(account.Identity)
	if provider == "" {
		return errors.New("provider is required")
	}
	if identity == "" {
		return errors.New("account identity is required")
	}
	if account.Secret == "" {
		return errors.New("account secret is required")
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderAccount, provider, identity, account.Secret); err != nil {
		return fmt.Errorf("credentials: upsert account: %w", err)
	}
	return nil
}

// DisableAccount keeps an account out of future batches without deleting it.
func (s *Store) DisableAccount(ctx context.Context, provider, identity string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QDisableProviderAccount, normalizeProvider(provider), strings.TrimSpace(identity))
	if err != nil {
		return fmt.Errorf("credentials: disable account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
