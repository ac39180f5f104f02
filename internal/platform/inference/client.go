// Package inference is the REST client for the external multi-model
// inference collaborator that answers resolution questions.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quorumlabs/foresight/internal/domain"
)

// Client is the REST client for the inference collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an inference client.
//
// baseURL is the collaborator root, e.g. "https://inference.internal:9090".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Resolve posts a resolution question and returns the aggregated model
// answer. Transport failures and 5xx responses surface as
// ErrRemoteUnavailable so callers route to the manual fallback instead of
// retrying forever.
func (c *Client) Resolve(ctx context.Context, req domain.InferenceRequest) (domain.InferenceResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.InferenceResponse{}, fmt.Errorf("inference: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/resolve", bytes.NewReader(payload))
	if err != nil {
		return domain.InferenceResponse{}, fmt.Errorf("inference: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.InferenceResponse{}, fmt.Errorf("inference: resolve timed out: %w", domain.ErrRemoteUnavailable)
		}
		return domain.InferenceResponse{}, fmt.Errorf("inference: resolve: %v: %w", err, domain.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.InferenceResponse{}, fmt.Errorf("inference: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return domain.InferenceResponse{}, fmt.Errorf("inference: status %d: %s: %w",
			resp.StatusCode, truncate(body), domain.ErrRemoteUnavailable)
	case resp.StatusCode != http.StatusOK:
		return domain.InferenceResponse{}, fmt.Errorf("inference: status %d: %s", resp.StatusCode, truncate(body))
	}

	var out domain.InferenceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.InferenceResponse{}, fmt.Errorf("inference: decode response: %w", err)
	}
	return out, nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

var _ domain.InferenceClient = (*Client)(nil)
