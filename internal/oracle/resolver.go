// Package oracle implements the consensus resolver: the worker that
// completes pending resolution requests against the external inference
// collaborator, the manual operator path, and the tamper-evident result
// digest.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
)

// Finalizer applies a settled outcome to a market on behalf of an
// authorized collaborator. Satisfied by the registry service.
type Finalizer interface {
	CompleteResolution(ctx context.Context, caller domain.Address, marketID int64, outcome domain.Outcome, source domain.ResultSource) error
}

// PolicyActivator opens an insurance policy for a low-confidence
// resolution. Satisfied by the vault service.
type PolicyActivator interface {
	ActivatePolicy(ctx context.Context, market domain.Market, now time.Time) error
}

// Resolver drives pending resolution requests to completion. One sweep per
// interval: each pending request gets a remote inference call under a
// per-market lock, and the recorded result finalizes the market through the
// registry.
type Resolver struct {
	oracles   domain.OracleStore
	markets   domain.MarketStore
	finalizer Finalizer
	policies  PolicyActivator
	inference domain.InferenceClient
	locks     domain.LockManager
	admin     domain.AdminStore
	audit     domain.AuditStore
	identity  domain.Address // registered resolver collaborator
	cfg       config.OracleConfig
	threshold int // confidence below this activates insurance
	log       *slog.Logger
}

// NewResolver creates a Resolver. identity must match the resolver slot in
// the collaborator table or every finalize call will be rejected.
func NewResolver(
	oracles domain.OracleStore,
	markets domain.MarketStore,
	finalizer Finalizer,
	policies PolicyActivator,
	inference domain.InferenceClient,
	locks domain.LockManager,
	admin domain.AdminStore,
	audit domain.AuditStore,
	identity domain.Address,
	cfg config.OracleConfig,
	insuranceThreshold int,
	log *slog.Logger,
) *Resolver {
	return &Resolver{
		oracles:   oracles,
		markets:   markets,
		finalizer: finalizer,
		policies:  policies,
		inference: inference,
		locks:     locks,
		admin:     admin,
		audit:     audit,
		identity:  identity,
		cfg:       cfg,
		threshold: insuranceThreshold,
		log:       log.With("component", "oracle"),
	}
}

// Sweep processes a batch of pending resolution requests. Safe to run from
// multiple workers: each market is processed under a distributed lock and
// the result insert is first-write-wins.
func (r *Resolver) Sweep(ctx context.Context) error {
	pending, err := r.oracles.ListPendingRequests(ctx, 50)
	if err != nil {
		return err
	}

	for _, req := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		unlock, err := r.locks.Acquire(ctx, fmt.Sprintf("resolve:%d", req.MarketID), 2*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			return err
		}
		if err := r.process(ctx, req); err != nil {
			r.log.Error("oracle: process request failed",
				"request_id", req.ID, "market_id", req.MarketID, "error", err)
		}
		unlock()
	}
	return nil
}

func (r *Resolver) process(ctx context.Context, req domain.ResolutionRequest) error {
	if r.cfg.MaxAttempts > 0 && req.Attempts >= r.cfg.MaxAttempts {
		return r.applyFallback(ctx, req)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout())
	resp, err := r.inference.Resolve(callCtx, domain.InferenceRequest{
		Question:    req.Question,
		PriceFeedID: req.PriceFeedID,
	})
	cancel()
	if err != nil {
		r.log.Warn("oracle: inference call failed",
			"request_id", req.ID, "market_id", req.MarketID,
			"attempt", req.Attempts+1, "error", err)
		return r.oracles.FailRequest(ctx, req.ID, err.Error())
	}

	if !resp.Outcome.Valid() || resp.Confidence < 0 || resp.Confidence > 100 {
		failErr := fmt.Sprintf("malformed response: outcome=%d confidence=%d", resp.Outcome, resp.Confidence)
		return r.oracles.FailRequest(ctx, req.ID, failErr)
	}

	result := domain.OracleResult{
		MarketID:     req.MarketID,
		Outcome:      resp.Outcome,
		YesVotes:     resp.YesVotes,
		NoVotes:      resp.NoVotes,
		InvalidVotes: resp.InvalidVotes,
		Confidence:   resp.Confidence,
		Source:       domain.ResultSourceConsensus,
		ReportedAt:   time.Now().UTC(),
	}
	return r.record(ctx, req, result)
}

// applyFallback handles a request that exhausted its remote attempts. In
// manual mode the request stays pending for the operator. In default mode
// the configured outcome and confidence are recorded; the choice is loud in
// the audit log, never silent.
func (r *Resolver) applyFallback(ctx context.Context, req domain.ResolutionRequest) error {
	if r.cfg.FallbackMode != "default" {
		r.log.Warn("oracle: request awaiting manual resolution",
			"request_id", req.ID, "market_id", req.MarketID, "attempts", req.Attempts)
		return nil
	}

	result := domain.OracleResult{
		MarketID:   req.MarketID,
		Outcome:    domain.Outcome(r.cfg.FallbackOutcome),
		Confidence: r.cfg.FallbackConfidence,
		Source:     domain.ResultSourceConsensus,
		ReportedAt: time.Now().UTC(),
	}
	if !result.Outcome.Valid() {
		return fmt.Errorf("oracle: configured fallback outcome %d: %w", r.cfg.FallbackOutcome, domain.ErrOutOfRange)
	}

	r.auditLog(ctx, "oracle.fallback_applied", map[string]any{
		"market_id":  req.MarketID,
		"outcome":    result.Outcome.String(),
		"confidence": result.Confidence,
		"attempts":   req.Attempts,
	})
	return r.record(ctx, req, result)
}

// record persists the result, completes the request, finalizes the market,
// and activates insurance when confidence falls below the threshold. Every
// step is idempotent so a crash mid-sequence replays cleanly on the next
// sweep.
func (r *Resolver) record(ctx context.Context, req domain.ResolutionRequest, result domain.OracleResult) error {
	result.Digest = ResultDigest(result)

	if err := r.oracles.InsertResult(ctx, result); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
		return err
	}
	if err := r.oracles.CompleteRequest(ctx, req.ID); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
		return err
	}

	if err := r.finalizer.CompleteResolution(ctx, r.identity, result.MarketID, result.Outcome, result.Source); err != nil {
		if !errors.Is(err, domain.ErrInvalidState) {
			return err
		}
		// Already finalized by an earlier replay.
	}

	r.log.Info("oracle: result recorded",
		"market_id", result.MarketID, "outcome", result.Outcome.String(),
		"confidence", result.Confidence, "source", result.Source)

	if result.Confidence < r.threshold {
		return r.activateInsurance(ctx, result)
	}
	return nil
}

func (r *Resolver) activateInsurance(ctx context.Context, result domain.OracleResult) error {
	market, err := r.markets.GetByID(ctx, result.MarketID)
	if err != nil {
		return err
	}
	if err := r.policies.ActivatePolicy(ctx, market, time.Now().UTC()); err != nil {
		return fmt.Errorf("oracle: activate insurance for market %d: %w", result.MarketID, err)
	}
	r.log.Info("oracle: insurance activated",
		"market_id", result.MarketID, "confidence", result.Confidence, "threshold", r.threshold)
	return nil
}

// Result returns the recorded result for a market.
func (r *Resolver) Result(ctx context.Context, marketID int64) (domain.OracleResult, error) {
	return r.oracles.GetResult(ctx, marketID)
}

func (r *Resolver) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.log.Warn("oracle: audit log failed", "event", event, "error", err)
	}
}
