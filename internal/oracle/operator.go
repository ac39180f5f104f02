package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quorumlabs/foresight/internal/domain"
)

// SubmitManual records an operator-supplied result for a market whose
// remote resolution could not complete. The registry authorizes the caller
// against the operator collaborator slot; the resolver only shapes and
// persists the result.
func (r *Resolver) SubmitManual(ctx context.Context, caller domain.Address, marketID int64, outcome domain.Outcome, confidence int) error {
	if !outcome.Valid() {
		return fmt.Errorf("oracle: invalid outcome %d: %w", outcome, domain.ErrOutOfRange)
	}
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("oracle: confidence %d outside 0..100: %w", confidence, domain.ErrOutOfRange)
	}

	// Reject unauthorized callers before anything is written.
	operator, err := r.admin.Collaborator(ctx, domain.RoleOperator)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("oracle: no operator registered: %w", domain.ErrUnauthorized)
		}
		return err
	}
	if !operator.Equal(caller) {
		return fmt.Errorf("oracle: caller %s is not the operator: %w", caller, domain.ErrUnauthorized)
	}

	req, err := r.oracles.GetRequestByMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if req.Status == domain.RequestStatusCompleted {
		return domain.ErrAlreadyProcessed
	}

	result := domain.OracleResult{
		MarketID:   marketID,
		Outcome:    outcome,
		Confidence: confidence,
		Source:     domain.ResultSourceManual,
		ReportedAt: time.Now().UTC(),
	}
	result.Digest = ResultDigest(result)

	if err := r.oracles.InsertResult(ctx, result); err != nil {
		return err
	}
	if err := r.oracles.CompleteRequest(ctx, req.ID); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
		return err
	}

	if err := r.finalizer.CompleteResolution(ctx, caller, marketID, outcome, domain.ResultSourceManual); err != nil {
		return err
	}

	r.auditLog(ctx, "oracle.manual_result", map[string]any{
		"market_id":  marketID,
		"outcome":    outcome.String(),
		"confidence": confidence,
		"operator":   string(caller),
	})

	if confidence < r.threshold {
		return r.activateInsurance(ctx, result)
	}
	return nil
}
