// Package vault implements the insurance pool: share-based deposits, fee
// and yield credits, and the per-market policies that refund bettors after
// a low-confidence resolution.
package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/vault/sharemath"
)

// Service is the insurance vault. All asset and share mutation goes through
// the store's guarded totals row; the service adds the bounds, the policy
// lifecycle, and the audit trail.
type Service struct {
	store      domain.VaultStore
	policies   domain.PolicyStore
	positions  domain.PositionStore
	markets    domain.MarketStore
	audit      domain.AuditStore
	yield      domain.YieldSource
	cfg        config.VaultConfig
	minDeposit decimal.Decimal
	maxDeposit decimal.Decimal
	log        *slog.Logger
}

// New creates a vault Service. yield may be nil when no external yield
// position is configured; reconciliation then no-ops.
func New(
	store domain.VaultStore,
	policies domain.PolicyStore,
	positions domain.PositionStore,
	markets domain.MarketStore,
	audit domain.AuditStore,
	yield domain.YieldSource,
	cfg config.VaultConfig,
	log *slog.Logger,
) (*Service, error) {
	minDep, err := decimal.NewFromString(cfg.MinDeposit)
	if err != nil {
		return nil, fmt.Errorf("vault: parse min_deposit %q: %w", cfg.MinDeposit, err)
	}
	maxDep, err := decimal.NewFromString(cfg.MaxDeposit)
	if err != nil {
		return nil, fmt.Errorf("vault: parse max_deposit %q: %w", cfg.MaxDeposit, err)
	}

	return &Service{
		store:      store,
		policies:   policies,
		positions:  positions,
		markets:    markets,
		audit:      audit,
		yield:      yield,
		cfg:        cfg,
		minDeposit: minDep,
		maxDeposit: maxDep,
		log:        log.With("component", "vault"),
	}, nil
}

// Deposit mints shares for the depositor at the current assets-per-share
// rate. Amounts outside the configured bounds fail with ErrOutOfRange.
func (s *Service) Deposit(ctx context.Context, depositor domain.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThan(s.minDeposit) || amount.GreaterThan(s.maxDeposit) {
		return decimal.Zero, fmt.Errorf("vault: deposit %s outside [%s, %s]: %w",
			amount, s.minDeposit, s.maxDeposit, domain.ErrOutOfRange)
	}

	shares, err := s.store.Deposit(ctx, depositor, amount)
	if err != nil {
		return decimal.Zero, err
	}

	s.log.Info("vault: deposit", "depositor", depositor, "amount", amount, "shares", shares)
	s.auditLog(ctx, "vault.deposit", map[string]any{
		"depositor": string(depositor),
		"amount":    amount.String(),
		"shares":    shares.String(),
	})
	return shares, nil
}

// Withdraw burns the depositor's shares and pays out the matching asset
// amount. The store rejects withdrawals that would dip into reserved assets.
func (s *Service) Withdraw(ctx context.Context, depositor domain.Address, shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.IsPositive() {
		return decimal.Zero, fmt.Errorf("vault: withdraw shares must be positive: %w", domain.ErrOutOfRange)
	}

	amount, err := s.store.Withdraw(ctx, depositor, shares)
	if err != nil {
		return decimal.Zero, err
	}

	s.log.Info("vault: withdraw", "depositor", depositor, "shares", shares, "amount", amount)
	s.auditLog(ctx, "vault.withdraw", map[string]any{
		"depositor": string(depositor),
		"shares":    shares.String(),
		"amount":    amount.String(),
	})
	return amount, nil
}

// Totals returns the pool-wide bookkeeping.
func (s *Service) Totals(ctx context.Context) (domain.VaultTotals, error) {
	return s.store.Totals(ctx)
}

// Account returns one depositor's share balance.
func (s *Service) Account(ctx context.Context, depositor domain.Address) (domain.VaultAccount, error) {
	return s.store.Account(ctx, depositor)
}

// AccountValue returns the current redeemable value of a depositor's shares.
func (s *Service) AccountValue(ctx context.Context, depositor domain.Address) (decimal.Decimal, error) {
	acct, err := s.store.Account(ctx, depositor)
	if err != nil {
		return decimal.Zero, err
	}
	totals, err := s.store.Totals(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return sharemath.AssetsForShares(acct.Shares, totals.TotalShares, totals.TotalAssets), nil
}

// CreditFee adds a routed insurance fee to the pool without minting shares,
// which raises assets-per-share for every existing depositor.
func (s *Service) CreditFee(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := s.store.CreditAssets(ctx, amount, "insurance_fee"); err != nil {
		return err
	}
	s.log.Info("vault: fee credited", "amount", amount)
	return nil
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.log.Warn("vault: audit log failed", "event", event, "error", err)
	}
}
