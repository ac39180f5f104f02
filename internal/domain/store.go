package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and owns their status transitions. Every
// transition is committed with a status guard in the same statement, so of
// two racing callers exactly one succeeds and the loser observes
// ErrInvalidState.
type MarketStore interface {
	Create(ctx context.Context, m Market) (int64, error)
	GetByID(ctx context.Context, id int64) (Market, error)
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status MarketStatus) (int64, error)

	// Transition moves a market from one of the given statuses to the next
	// status, returning ErrInvalidState when the current status matches none.
	Transition(ctx context.Context, id int64, from []MarketStatus, to MarketStatus) error

	// ApplyBet commits pool/volume deltas and the position upsert as one
	// transaction, guarded on the market still being active.
	ApplyBet(ctx context.Context, bet BetApplication) (Position, error)

	// Finalize moves a market from Resolving or Disputed to Resolved and
	// records the outcome. On a governance override of an already-resolved
	// market, allowOverride permits the Resolved → Resolved rewrite.
	Finalize(ctx context.Context, id int64, outcome Outcome, allowOverride bool) error
}

// PositionStore reads positions and gates their one-shot payout claim.
type PositionStore interface {
	Get(ctx context.Context, marketID int64, participant Address) (Position, error)
	ListByMarket(ctx context.Context, marketID int64, opts ListOpts) ([]Position, error)
	ListByParticipant(ctx context.Context, participant Address, opts ListOpts) ([]Position, error)

	// MarkClaimed flips the claimed flag, returning ErrAlreadyProcessed when
	// it was already set.
	MarkClaimed(ctx context.Context, marketID int64, participant Address) error
}

// OracleStore persists resolution requests and the one immutable result per
// market.
type OracleStore interface {
	CreateRequest(ctx context.Context, req ResolutionRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (ResolutionRequest, error)
	GetRequestByMarket(ctx context.Context, marketID int64) (ResolutionRequest, error)
	ListPendingRequests(ctx context.Context, limit int) ([]ResolutionRequest, error)
	CompleteRequest(ctx context.Context, id uuid.UUID) error
	FailRequest(ctx context.Context, id uuid.UUID, lastError string) error

	// InsertResult writes the result for a market, returning
	// ErrAlreadyProcessed when one exists.
	InsertResult(ctx context.Context, r OracleResult) error
	GetResult(ctx context.Context, marketID int64) (OracleResult, error)

	// OverrideResult replaces an existing result. Reserved for the dispute
	// governor's execute path.
	OverrideResult(ctx context.Context, r OracleResult) error
}

// VaultStore owns the share/asset bookkeeping of the insurance pool. The
// mutating methods are single read-modify-write-commit units over the
// totals row so no mutation observes half-updated totals.
type VaultStore interface {
	Totals(ctx context.Context) (VaultTotals, error)
	Account(ctx context.Context, depositor Address) (VaultAccount, error)
	ListAccounts(ctx context.Context, opts ListOpts) ([]VaultAccount, error)

	// Deposit mints shares for amount at the current assets-per-share rate
	// and returns the minted share count.
	Deposit(ctx context.Context, depositor Address, amount decimal.Decimal) (decimal.Decimal, error)

	// Withdraw burns shares and returns the asset amount paid out. Fails
	// with ErrInsufficientFunds when shares exceed the balance or the
	// payout would dip into policy-reserved assets.
	Withdraw(ctx context.Context, depositor Address, shares decimal.Decimal) (decimal.Decimal, error)

	// CreditAssets adds assets without minting shares (fee routing, yield).
	CreditAssets(ctx context.Context, amount decimal.Decimal, reason string) error

	// AdjustReserved moves assets into or out of the policy-reserved bucket.
	AdjustReserved(ctx context.Context, delta decimal.Decimal) error
}

// PolicyStore persists per-market insurance policies.
type PolicyStore interface {
	Create(ctx context.Context, p InsurancePolicy) error
	Get(ctx context.Context, marketID int64) (InsurancePolicy, error)
	ListOpen(ctx context.Context, now time.Time) ([]InsurancePolicy, error)

	// SettleClaim pays a refund as one atomic unit: it consumes the
	// claimant's position, adds amount to the policy's claimed total
	// (guarded on claimed+amount ≤ reserve and the policy being unexpired),
	// and debits the pool's assets and reserve together. Any guard failing
	// leaves all three untouched.
	SettleClaim(ctx context.Context, marketID int64, claimant Address, amount decimal.Decimal, now time.Time) error

	// ListExpiredUnreleased returns expired policies whose leftover reserve
	// has not yet been returned to the pool.
	ListExpiredUnreleased(ctx context.Context, now time.Time) ([]InsurancePolicy, error)

	// MarkReleased flips the released flag, returning ErrAlreadyProcessed
	// when it was already set.
	MarkReleased(ctx context.Context, marketID int64) error
}

// ReputationStore owns stake/slash bookkeeping.
type ReputationStore interface {
	Get(ctx context.Context, participant Address) (ReputationStake, error)
	AddStake(ctx context.Context, participant Address, amount decimal.Decimal, at time.Time) error

	// WithdrawStake debits staked balance, guarded on the amount being
	// covered and the cooldown having elapsed.
	WithdrawStake(ctx context.Context, participant Address, amount decimal.Decimal, now time.Time, cooldown time.Duration) error

	// RecordOutcome updates vote counters, score, and (for incorrect votes)
	// moves slash from staked to slashed, atomically.
	RecordOutcome(ctx context.Context, participant Address, correct bool, slash decimal.Decimal, scoreDelta int64) error
}

// ProposalStore persists dispute proposals and ballots.
type ProposalStore interface {
	Create(ctx context.Context, p Proposal) (int64, error)
	Get(ctx context.Context, id int64) (Proposal, error)
	GetOpenByMarket(ctx context.Context, marketID int64) (Proposal, error)
	ListByStatus(ctx context.Context, status ProposalStatus, opts ListOpts) ([]Proposal, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]Proposal, error)

	// CastVote inserts the ballot and adds its weight to the matching
	// bucket in one transaction; a duplicate (proposal, voter) pair fails
	// with ErrAlreadyProcessed.
	CastVote(ctx context.Context, v Vote) error
	ListVotes(ctx context.Context, proposalID int64) ([]Vote, error)

	// SetStatus transitions a proposal, guarded on the current status.
	SetStatus(ctx context.Context, id int64, from, to ProposalStatus) error
	MarkExecuted(ctx context.Context, id int64) error
}

// FeeStore persists collected fees until they are routed to the treasury or
// the vault.
type FeeStore interface {
	Insert(ctx context.Context, f FeeAccrual) (int64, error)
	ListPending(ctx context.Context, limit int) ([]FeeAccrual, error)
	MarkRouted(ctx context.Context, id int64) error
	SumRouted(ctx context.Context, kind string) (decimal.Decimal, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
