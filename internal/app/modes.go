package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/foresight/internal/admin"
	"github.com/quorumlabs/foresight/internal/archive"
	"github.com/quorumlabs/foresight/internal/crypto"
	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/governor"
	"github.com/quorumlabs/foresight/internal/oracle"
	"github.com/quorumlabs/foresight/internal/platform/inference"
	"github.com/quorumlabs/foresight/internal/platform/yield"
	"github.com/quorumlabs/foresight/internal/registry"
	"github.com/quorumlabs/foresight/internal/reputation"
	"github.com/quorumlabs/foresight/internal/server"
	"github.com/quorumlabs/foresight/internal/server/handler"
	"github.com/quorumlabs/foresight/internal/server/ws"
	"github.com/quorumlabs/foresight/internal/vault"
)

// Services bundles the domain services built on top of the wired
// dependencies. Archiver is nil when object storage is disabled.
type Services struct {
	Admin      *admin.Service
	Registry   *registry.Service
	Vault      *vault.Service
	Reputation *reputation.Ledger
	Resolver   *oracle.Resolver
	Governor   *governor.Service
	Archiver   *archive.Archiver
}

// buildServices constructs the settlement services. Collaborator identities
// are read from the admin store at startup; a missing slot is logged and the
// corresponding finalize path stays rejected until the owner registers one.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*Services, error) {
	reg, err := registry.New(
		deps.MarketStore, deps.PositionStore, deps.OracleStore, deps.FeeStore,
		deps.AdminStore, deps.AuditStore, deps.MarketCache, deps.SignalBus,
		a.cfg.Registry, a.logger,
	)
	if err != nil {
		return nil, err
	}

	var yieldSource domain.YieldSource
	if a.cfg.Vault.YieldHost != "" {
		yieldSource = yield.New(a.cfg.Vault.YieldHost)
	}
	vlt, err := vault.New(
		deps.VaultStore, deps.PolicyStore, deps.PositionStore, deps.MarketStore,
		deps.AuditStore, yieldSource, a.cfg.Vault, a.logger,
	)
	if err != nil {
		return nil, err
	}

	rep, err := reputation.New(deps.ReputationStore, deps.AuditStore, a.cfg.Reputation, a.logger)
	if err != nil {
		return nil, err
	}

	resolverID := a.collaboratorIdentity(ctx, deps, domain.RoleResolver)
	resolver := oracle.NewResolver(
		deps.OracleStore, deps.MarketStore, reg, vlt,
		inference.New(a.cfg.Oracle.InferenceHost),
		deps.LockManager, deps.AdminStore, deps.AuditStore,
		resolverID, a.cfg.Oracle, a.cfg.Vault.InsuranceThreshold, a.logger,
	)

	governorID := a.collaboratorIdentity(ctx, deps, domain.RoleGovernor)
	gov, err := governor.New(
		deps.ProposalStore, deps.OracleStore, deps.MarketStore,
		reg, rep, deps.AuditStore, governorID, a.cfg.Governor, a.logger,
	)
	if err != nil {
		return nil, err
	}

	svcs := &Services{
		Admin:      admin.New(deps.AdminStore, deps.AuditStore, a.logger),
		Registry:   reg,
		Vault:      vlt,
		Reputation: rep,
		Resolver:   resolver,
		Governor:   gov,
	}

	if deps.BlobWriter != nil {
		svcs.Archiver = archive.New(
			deps.MarketStore, deps.OracleStore, deps.BlobWriter, deps.SignalBus,
			a.cfg.S3.Prefix, a.logger,
		)
	}

	return svcs, nil
}

// collaboratorIdentity resolves the identity registered for a role, falling
// back to the identity derived from the configured operator key. A zero
// result means every finalize call for that role is rejected until the
// owner registers a collaborator.
func (a *App) collaboratorIdentity(ctx context.Context, deps *Dependencies, role domain.CollaboratorRole) domain.Address {
	id, err := deps.AdminStore.Collaborator(ctx, role)
	if err == nil && !id.IsZero() {
		return id
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "collaborator lookup failed",
			slog.String("role", string(role)),
			slog.String("error", err.Error()),
		)
	}

	if a.cfg.Operator.EncryptedKeyPath != "" || a.cfg.Operator.Address != "" {
		if derived := a.operatorIdentity(ctx); !derived.IsZero() {
			a.logger.InfoContext(ctx, "collaborator slot empty, using operator identity",
				slog.String("role", string(role)),
				slog.String("identity", string(derived)),
			)
			return derived
		}
	}

	a.logger.WarnContext(ctx, "no identity for collaborator role; finalize calls will be rejected",
		slog.String("role", string(role)),
	)
	return domain.ZeroAddress
}

// operatorIdentity derives the operator address from the configured key,
// preferring the key over the plain address so the two cannot drift apart
// silently.
func (a *App) operatorIdentity(ctx context.Context) domain.Address {
	if a.cfg.Operator.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			EncryptedKeyPath: a.cfg.Operator.EncryptedKeyPath,
			KeyPassword:      a.cfg.Operator.KeyPassword,
		})
		if err != nil {
			a.logger.WarnContext(ctx, "operator key load failed",
				slog.String("error", err.Error()),
			)
		} else if derived, err := crypto.DeriveIdentity(key); err == nil {
			if a.cfg.Operator.Address != "" && !derived.Equal(domain.Address(a.cfg.Operator.Address)) {
				a.logger.WarnContext(ctx, "operator address does not match derived key identity",
					slog.String("configured", a.cfg.Operator.Address),
					slog.String("derived", string(derived)),
				)
			}
			return derived
		}
	}
	if a.cfg.Operator.Address != "" {
		addr, err := domain.ParseAddress(a.cfg.Operator.Address)
		if err != nil {
			a.logger.WarnContext(ctx, "operator address invalid",
				slog.String("address", a.cfg.Operator.Address),
			)
			return domain.ZeroAddress
		}
		return addr
	}
	return domain.ZeroAddress
}

// CoreMode runs everything: the HTTP/WebSocket API, the settlement workers,
// and the archive consumer.
func (a *App) CoreMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting core mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startJobs(ctx, g, svcs)
	a.startArchiver(ctx, g, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// APIMode runs only the HTTP/WebSocket API. Settlement sweeps are expected
// to run in a separate worker deployment.
func (a *App) APIMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// WorkerMode runs the settlement sweeps and the archive consumer without an
// HTTP listener.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startJobs(ctx, g, svcs)
	a.startArchiver(ctx, g, svcs)

	return g.Wait()
}

// startArchiver adds the settlement-report archive consumer when object
// storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, svcs *Services) {
	if svcs.Archiver == nil {
		return
	}
	g.Go(func() error {
		err := svcs.Archiver.Run(ctx, oracle.VerifyDigest)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// pingerFunc adapts a plain connectivity function to the health handler.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services) {
	checks := map[string]handler.Pinger{
		"postgres": deps.PGClient,
		"redis":    deps.RedisClient,
	}
	if deps.S3Client != nil {
		checks["s3"] = pingerFunc(deps.S3Client.Health)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(checks),
			Status:     handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), deps.MarketStore),
			Markets:    handler.NewMarketHandler(svcs.Registry, deps.PositionStore, a.logger),
			Vault:      handler.NewVaultHandler(svcs.Vault),
			Disputes:   handler.NewDisputeHandler(svcs.Governor),
			Oracle:     handler.NewOracleHandler(svcs.Resolver),
			Reputation: handler.NewReputationHandler(svcs.Reputation),
			Admin:      handler.NewAdminHandler(svcs.Admin, deps.AuditStore),
			Events:     handler.NewEventsHandler(deps.SignalBus),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
