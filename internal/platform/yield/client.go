// Package yield is the read-only REST client for the external money-market
// position that grows the insurance pool's assets.
package yield

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// Client reads the current redeemable value of the vault's external
// position.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a yield client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type positionResponse struct {
	RedeemableValue string `json:"redeemableValue"`
	AsOf            string `json:"asOf"`
}

// RedeemableValue returns the position's current redeemable value. Failures
// surface as ErrRemoteUnavailable; reconciliation simply skips the cycle.
func (c *Client) RedeemableValue(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/position", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield: get position: %v: %w", err, domain.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("yield: status %d: %w", resp.StatusCode, domain.ErrRemoteUnavailable)
	}

	var out positionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("yield: decode response: %w", err)
	}

	value, err := decimal.NewFromString(out.RedeemableValue)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield: parse value %q: %w", out.RedeemableValue, err)
	}
	return value, nil
}

var _ domain.YieldSource = (*Client)(nil)
