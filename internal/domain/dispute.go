package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalStatus is the dispute proposal lifecycle. Once a proposal leaves
// Active its state is terminal except for Succeeded → Executed.
type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "pending"
	ProposalStatusActive    ProposalStatus = "active"
	ProposalStatusSucceeded ProposalStatus = "succeeded"
	ProposalStatusDefeated  ProposalStatus = "defeated"
	ProposalStatusExecuted  ProposalStatus = "executed"
)

// ProposalType distinguishes market-resolution disputes from other
// governance actions.
type ProposalType string

const (
	ProposalTypeResolution ProposalType = "market_resolution"
	ProposalTypeParameter  ProposalType = "parameter_change"
)

// VoteSupport is a voter's position on a proposal.
type VoteSupport string

const (
	VoteAgainst VoteSupport = "against"
	VoteFor     VoteSupport = "for"
	VoteAbstain VoteSupport = "abstain"
)

// Valid reports whether s is a known support value.
func (s VoteSupport) Valid() bool {
	return s == VoteAgainst || s == VoteFor || s == VoteAbstain
}

// Proposal is a time-boxed quadratic vote among reputation-staked
// participants. For resolution proposals, Outcome carries the outcome the
// proposer asserts is correct; Execute applies it through the registry.
type Proposal struct {
	ID            int64
	Type          ProposalType
	MarketID      *int64
	Title         string
	Description   string
	Proposer      Address
	Bond          decimal.Decimal
	Outcome       *Outcome
	ForWeight     int64
	AgainstWeight int64
	AbstainWeight int64
	Status        ProposalStatus
	VotingEndsAt  time.Time
	CreatedAt     time.Time
	ExecutedAt    *time.Time
}

// Participation is the total weight cast across all support buckets.
func (p Proposal) Participation() int64 {
	return p.ForWeight + p.AgainstWeight + p.AbstainWeight
}

// Vote is a single ballot. A (proposal, voter) pair may vote at most once.
type Vote struct {
	ProposalID int64
	Voter      Address
	Support    VoteSupport
	Weight     int64
	CastAt     time.Time
}
