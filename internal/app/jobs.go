package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// startJobs schedules the settlement background work: resolution sweeps,
// deadline sweeps, fee routing, yield reconciliation, dispute tallies, and
// expired-policy release. The cron scheduler stops when the context is
// cancelled.
func (a *App) startJobs(ctx context.Context, g *errgroup.Group, svcs *Services) {
	c := cron.New()

	run := func(name string, fn func(context.Context) error) func() {
		return func() {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "job failed",
					slog.String("job", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	sweepSpec := fmt.Sprintf("@every %ds", a.cfg.Oracle.SweepIntervalSecs)
	mustAdd(a.logger, c, "resolution_sweep", sweepSpec, run("resolution_sweep", svcs.Resolver.Sweep))
	mustAdd(a.logger, c, "deadline_sweep", sweepSpec, run("deadline_sweep", svcs.Registry.SweepDeadlines))

	mustAdd(a.logger, c, "fee_sweep", a.cfg.Registry.FeeSweepCron,
		run("fee_sweep", func(ctx context.Context) error {
			return svcs.Registry.SweepFees(ctx, svcs.Vault)
		}))

	mustAdd(a.logger, c, "yield_reconcile", a.cfg.Vault.YieldCron,
		run("yield_reconcile", svcs.Vault.ReconcileYield))

	mustAdd(a.logger, c, "dispute_tally", a.cfg.Governor.TallyCron,
		run("dispute_tally", svcs.Governor.TallyExpired))

	mustAdd(a.logger, c, "policy_release", "@every 10m",
		run("policy_release", func(ctx context.Context) error {
			return svcs.Vault.ReleaseExpired(ctx, time.Now().UTC())
		}))

	c.Start()
	a.logger.InfoContext(ctx, "settlement jobs scheduled",
		slog.String("resolution_sweep", sweepSpec),
		slog.String("fee_sweep", a.cfg.Registry.FeeSweepCron),
		slog.String("yield_reconcile", a.cfg.Vault.YieldCron),
		slog.String("dispute_tally", a.cfg.Governor.TallyCron),
	)

	g.Go(func() error {
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return nil
	})
}

func mustAdd(logger *slog.Logger, c *cron.Cron, name, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Error("invalid cron spec, job disabled",
			slog.String("job", name),
			slog.String("spec", spec),
			slog.String("error", err.Error()),
		)
	}
}
