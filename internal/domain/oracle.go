package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the settled answer of a market. The numeric values match the
// inference collaborator's wire encoding.
type Outcome int

const (
	OutcomeYes     Outcome = 1
	OutcomeNo      Outcome = 2
	OutcomeInvalid Outcome = 3
)

// Valid reports whether o is a known outcome value.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeInvalid
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// WinningSide maps a settled outcome to the side that is paid. Invalid
// settles no side; callers fall back to refund handling.
func (o Outcome) WinningSide() (BetSide, bool) {
	switch o {
	case OutcomeYes:
		return BetSideYes, true
	case OutcomeNo:
		return BetSideNo, true
	default:
		return "", false
	}
}

// ResultSource records which path produced an oracle result.
type ResultSource string

const (
	ResultSourceConsensus  ResultSource = "consensus"
	ResultSourceManual     ResultSource = "manual"
	ResultSourceGovernance ResultSource = "governance"
)

// OracleResult is the recorded answer for one market. Written at most once
// by the resolver; immutable thereafter except through the governance
// override path. Digest is a keccak-256 commitment over the result fields
// so downstream consumers can detect tampering.
type OracleResult struct {
	MarketID     int64
	Outcome      Outcome
	YesVotes     int
	NoVotes      int
	InvalidVotes int
	Confidence   int // 0..100 agreement strength among voting models
	Source       ResultSource
	Digest       string // hex keccak-256, see oracle.ResultDigest
	ReportedAt   time.Time
}

// RequestStatus tracks the two-phase resolution handshake.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailed    RequestStatus = "failed"
)

// ResolutionRequest is the pending receipt recorded when resolution is
// initiated. The inference response arrives later and completes it; a
// request that keeps failing stays open for the manual operator path.
type ResolutionRequest struct {
	ID          uuid.UUID
	MarketID    int64
	Question    string
	PriceFeedID string
	Status      RequestStatus
	Attempts    int
	LastError   string
	RequestedAt time.Time
	CompletedAt *time.Time
}
