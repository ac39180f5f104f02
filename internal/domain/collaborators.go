package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// InferenceRequest is a resolution question posed to the external
// multi-model inference collaborator.
type InferenceRequest struct {
	Question    string `json:"question"`
	PriceFeedID string `json:"priceFeedId,omitempty"`
}

// InferenceResponse is the collaborator's answer: an outcome plus a 0–100
// agreement score among the voting models.
type InferenceResponse struct {
	Outcome      Outcome `json:"outcome"`
	Confidence   int     `json:"confidence"`
	YesVotes     int     `json:"yesVotes"`
	NoVotes      int     `json:"noVotes"`
	InvalidVotes int     `json:"invalidVotes"`
}

// InferenceClient reaches the external inference collaborator. A timeout or
// outage surfaces as ErrRemoteUnavailable; callers fall back to the manual
// path rather than blocking bettors.
type InferenceClient interface {
	Resolve(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
}

// YieldSource reads the current redeemable value of the vault's external
// money-market position. Read-only; reconciliation never writes back.
type YieldSource interface {
	RedeemableValue(ctx context.Context) (decimal.Decimal, error)
}
