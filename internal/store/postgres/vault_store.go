package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/vault/sharemath"
)

// VaultStore implements domain.VaultStore using PostgreSQL. Deposits,
// withdrawals, fee credits, and claim payouts all mutate the single
// vault_totals row under a row lock, so every mutation is one
// read-modify-write-commit unit and no caller observes half-updated totals.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

const totalsSelect = `SELECT total_shares, total_assets, reserved_assets, updated_at FROM vault_totals WHERE id = 1`

// Totals returns the pool-wide share/asset bookkeeping.
func (s *VaultStore) Totals(ctx context.Context) (domain.VaultTotals, error) {
	var t domain.VaultTotals
	err := s.pool.QueryRow(ctx, totalsSelect).Scan(
		&t.TotalShares, &t.TotalAssets, &t.ReservedAssets, &t.UpdatedAt,
	)
	if err != nil {
		return domain.VaultTotals{}, fmt.Errorf("postgres: vault totals: %w", err)
	}
	return t, nil
}

// Account returns one depositor's share balance.
func (s *VaultStore) Account(ctx context.Context, depositor domain.Address) (domain.VaultAccount, error) {
	var a domain.VaultAccount
	err := s.pool.QueryRow(ctx,
		`SELECT depositor, shares, deposited_at, updated_at FROM vault_accounts WHERE depositor = $1`,
		string(depositor),
	).Scan(&a.Depositor, &a.Shares, &a.DepositedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VaultAccount{}, domain.ErrNotFound
		}
		return domain.VaultAccount{}, fmt.Errorf("postgres: vault account %s: %w", depositor, err)
	}
	return a, nil
}

// ListAccounts returns depositor accounts ordered by share balance.
func (s *VaultStore) ListAccounts(ctx context.Context, opts domain.ListOpts) ([]domain.VaultAccount, error) {
	query := `SELECT depositor, shares, deposited_at, updated_at FROM vault_accounts ORDER BY shares DESC`
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vault accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.VaultAccount
	for rows.Next() {
		var a domain.VaultAccount
		if err := rows.Scan(&a.Depositor, &a.Shares, &a.DepositedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vault account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// lockTotals reads the totals row under FOR UPDATE inside tx.
func lockTotals(ctx context.Context, tx pgx.Tx) (domain.VaultTotals, error) {
	var t domain.VaultTotals
	err := tx.QueryRow(ctx, totalsSelect+` FOR UPDATE`).Scan(
		&t.TotalShares, &t.TotalAssets, &t.ReservedAssets, &t.UpdatedAt,
	)
	if err != nil {
		return domain.VaultTotals{}, fmt.Errorf("postgres: lock vault totals: %w", err)
	}
	return t, nil
}

// Deposit mints shares for amount at the current assets-per-share rate and
// credits them to the depositor.
func (s *VaultStore) Deposit(ctx context.Context, depositor domain.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrOutOfRange
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: begin deposit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	totals, err := lockTotals(ctx, tx)
	if err != nil {
		return decimal.Zero, err
	}

	shares := sharemath.SharesForDeposit(amount, totals.TotalShares, totals.TotalAssets)

	if _, err := tx.Exec(ctx,
		`UPDATE vault_totals SET total_shares = total_shares + $1, total_assets = total_assets + $2, updated_at = NOW() WHERE id = 1`,
		shares, amount,
	); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: update vault totals: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO vault_accounts (depositor, shares) VALUES ($1, $2)
		 ON CONFLICT (depositor) DO UPDATE SET
			shares = vault_accounts.shares + EXCLUDED.shares,
			updated_at = NOW()`,
		string(depositor), shares,
	); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: credit vault account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: commit deposit tx: %w", err)
	}
	return shares, nil
}

// Withdraw burns shares and pays out the pro-rata asset amount. It fails
// with ErrInsufficientFunds when shares exceed the depositor's balance or
// the payout would dip into policy-reserved assets.
func (s *VaultStore) Withdraw(ctx context.Context, depositor domain.Address, shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.IsPositive() {
		return decimal.Zero, domain.ErrOutOfRange
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: begin withdraw tx: %w", err)
	}
	defer tx.Rollback(ctx)

	totals, err := lockTotals(ctx, tx)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT shares FROM vault_accounts WHERE depositor = $1 FOR UPDATE`,
		string(depositor),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrInsufficientFunds
		}
		return decimal.Zero, fmt.Errorf("postgres: lock vault account %s: %w", depositor, err)
	}
	if shares.GreaterThan(balance) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}

	amount := sharemath.AssetsForShares(shares, totals.TotalShares, totals.TotalAssets)
	if amount.GreaterThan(totals.Available()) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE vault_totals SET total_shares = total_shares - $1, total_assets = total_assets - $2, updated_at = NOW() WHERE id = 1`,
		shares, amount,
	); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: update vault totals: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE vault_accounts SET shares = shares - $2, updated_at = NOW() WHERE depositor = $1`,
		string(depositor), shares,
	); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: debit vault account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: commit withdraw tx: %w", err)
	}
	return amount, nil
}

// CreditAssets adds assets without minting shares. This is the only path by
// which assets-per-share rises: insurance fee routing and yield accrual.
func (s *VaultStore) CreditAssets(ctx context.Context, amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return domain.ErrOutOfRange
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE vault_totals SET total_assets = total_assets + $1, updated_at = NOW() WHERE id = 1`,
		amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: credit vault assets (%s): %w", reason, err)
	}
	return nil
}

// AdjustReserved moves assets into (positive delta) or out of (negative
// delta) the policy-reserved bucket, guarded against over-reservation.
func (s *VaultStore) AdjustReserved(ctx context.Context, delta decimal.Decimal) error {
	const query = `
		UPDATE vault_totals SET reserved_assets = reserved_assets + $1, updated_at = NOW()
		WHERE id = 1 AND reserved_assets + $1 >= 0 AND reserved_assets + $1 <= total_assets`

	tag, err := s.pool.Exec(ctx, query, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust vault reserved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}
