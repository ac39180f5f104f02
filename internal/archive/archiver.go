// Package archive writes immutable settlement reports to object storage.
// Each resolved market gets one JSON document capturing the question, the
// recorded result, and its digest, so settlements can be audited without
// the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumlabs/foresight/internal/domain"
)

// Archiver listens for resolution events and uploads settlement reports.
type Archiver struct {
	markets domain.MarketStore
	oracles domain.OracleStore
	blobs   domain.BlobWriter
	bus     domain.SignalBus
	prefix  string
	log     *slog.Logger
}

// New creates an Archiver.
func New(
	markets domain.MarketStore,
	oracles domain.OracleStore,
	blobs domain.BlobWriter,
	bus domain.SignalBus,
	prefix string,
	log *slog.Logger,
) *Archiver {
	return &Archiver{
		markets: markets,
		oracles: oracles,
		blobs:   blobs,
		bus:     bus,
		prefix:  prefix,
		log:     log.With("component", "archive"),
	}
}

type settlementEvent struct {
	Event    string `json:"event"`
	MarketID int64  `json:"market_id"`
}

// settlementReport is the archived document. String-rendered decimals keep
// the report stable across serialization libraries.
type settlementReport struct {
	MarketID       int64          `json:"marketId"`
	Question       string         `json:"question"`
	Type           string         `json:"type"`
	Outcome        string         `json:"outcome"`
	Source         string         `json:"source"`
	Confidence     int            `json:"confidence"`
	Digest         string         `json:"digest"`
	DigestVerified bool           `json:"digestVerified"`
	YesPool        string         `json:"yesPool"`
	NoPool         string         `json:"noPool"`
	TotalPrincipal string         `json:"totalPrincipal"`
	Volume         string         `json:"volume"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	ArchivedAt     time.Time      `json:"archivedAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Run consumes resolution events until the context ends. Archive failures
// are logged and skipped; the report can always be regenerated by hand from
// the database.
func (a *Archiver) Run(ctx context.Context, verify func(domain.OracleResult) bool) error {
	events, err := a.bus.Subscribe(ctx, "markets")
	if err != nil {
		return fmt.Errorf("archive: subscribe: %w", err)
	}

	a.log.Info("archive: listening for settlements", "prefix", a.prefix)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev settlementEvent
			if err := json.Unmarshal(payload, &ev); err != nil || ev.Event != "market.resolved" {
				continue
			}
			if err := a.Archive(ctx, ev.MarketID, verify); err != nil {
				a.log.Error("archive: settlement report failed", "market_id", ev.MarketID, "error", err)
			}
		}
	}
}

// Archive uploads the settlement report for one resolved market.
func (a *Archiver) Archive(ctx context.Context, marketID int64, verify func(domain.OracleResult) bool) error {
	m, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return err
	}
	result, err := a.oracles.GetResult(ctx, marketID)
	if err != nil {
		return err
	}

	report := settlementReport{
		MarketID:       m.ID,
		Question:       m.Question,
		Type:           string(m.Type),
		Outcome:        result.Outcome.String(),
		Source:         string(result.Source),
		Confidence:     result.Confidence,
		Digest:         result.Digest,
		DigestVerified: verify != nil && verify(result),
		YesPool:        m.YesPool.String(),
		NoPool:         m.NoPool.String(),
		TotalPrincipal: m.TotalPrincipal.String(),
		Volume:         m.Volume.String(),
		ResolvedAt:     m.ResolvedAt,
		ArchivedAt:     time.Now().UTC(),
		Metadata:       m.Metadata,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode report for market %d: %w", marketID, err)
	}

	path := fmt.Sprintf("%ssettlements/%d.json", a.prefix, marketID)
	if err := a.blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}

	a.log.Info("archive: settlement archived", "market_id", marketID, "path", path)
	return nil
}
