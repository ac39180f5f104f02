package vault

import (
	"context"
	"fmt"
)

// ReconcileYield reads the redeemable value of the vault's external
// money-market position and credits any growth over the booked asset total.
// Growth only: a reported value below book is logged and left alone, never
// written down, so depositors' shares cannot shrink from a flaky reading.
func (s *Service) ReconcileYield(ctx context.Context) error {
	if s.yield == nil {
		return nil
	}

	reported, err := s.yield.RedeemableValue(ctx)
	if err != nil {
		return fmt.Errorf("vault: read yield source: %w", err)
	}

	totals, err := s.store.Totals(ctx)
	if err != nil {
		return err
	}

	gain := reported.Sub(totals.TotalAssets)
	if !gain.IsPositive() {
		if gain.IsNegative() {
			s.log.Warn("vault: yield source below book value",
				"reported", reported, "book", totals.TotalAssets)
		}
		return nil
	}

	if err := s.store.CreditAssets(ctx, gain, "yield"); err != nil {
		return err
	}

	s.log.Info("vault: yield credited", "gain", gain, "reported", reported)
	s.auditLog(ctx, "vault.yield_credited", map[string]any{
		"gain":     gain.String(),
		"reported": reported.String(),
	})
	return nil
}
