package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quorumlabs/foresight/internal/server/handler"
	"github.com/quorumlabs/foresight/internal/server/middleware"
	"github.com/quorumlabs/foresight/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Markets    *handler.MarketHandler
	Vault      *handler.VaultHandler
	Disputes   *handler.DisputeHandler
	Oracle     *handler.OracleHandler
	Reputation *handler.ReputationHandler
	Admin      *handler.AdminHandler
	Events     *handler.EventsHandler
}

// Server is the headless HTTP + WebSocket API server for the settlement
// backend.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required for health).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market lifecycle endpoints.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Markets.ListPositions)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.InitiateResolution)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Markets.ClaimPayout)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)

	// Oracle result endpoints.
	mux.HandleFunc("GET /api/markets/{id}/result", handlers.Oracle.GetResult)
	mux.HandleFunc("POST /api/markets/{id}/result", handlers.Oracle.SubmitManualResult)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Markets.ListParticipantPositions)

	// Insurance vault endpoints.
	mux.HandleFunc("POST /api/vault/deposits", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdrawals", handlers.Vault.Withdraw)
	mux.HandleFunc("GET /api/vault", handlers.Vault.Totals)
	mux.HandleFunc("GET /api/vault/accounts/{address}", handlers.Vault.Account)
	mux.HandleFunc("GET /api/vault/policies/{id}", handlers.Vault.Policy)
	mux.HandleFunc("POST /api/vault/policies/{id}/claims", handlers.Vault.ClaimRefund)

	// Dispute governance endpoints.
	mux.HandleFunc("POST /api/disputes", handlers.Disputes.Propose)
	mux.HandleFunc("GET /api/disputes/{id}", handlers.Disputes.GetProposal)
	mux.HandleFunc("POST /api/disputes/{id}/votes", handlers.Disputes.Vote)
	mux.HandleFunc("GET /api/disputes/{id}/votes", handlers.Disputes.ListVotes)

	// Reputation ledger endpoints.
	mux.HandleFunc("POST /api/reputation/stakes", handlers.Reputation.Stake)
	mux.HandleFunc("POST /api/reputation/unstakes", handlers.Reputation.Unstake)
	mux.HandleFunc("GET /api/reputation/{address}", handlers.Reputation.Get)

	// Ownership, collaborator, and audit endpoints.
	mux.HandleFunc("GET /api/admin/state", handlers.Admin.State)
	mux.HandleFunc("POST /api/admin/owner/propose", handlers.Admin.ProposeOwner)
	mux.HandleFunc("POST /api/admin/owner/accept", handlers.Admin.AcceptOwnership)
	mux.HandleFunc("GET /api/admin/collaborators/{role}", handlers.Admin.GetCollaborator)
	mux.HandleFunc("PUT /api/admin/collaborators/{role}", handlers.Admin.SetCollaborator)
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)

	// Durable event replay for clients catching up after a WebSocket drop.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
