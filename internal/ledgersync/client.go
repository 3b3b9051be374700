// Package ledgersync mirrors realized PnL for real accounts to the external
// system of record over HTTP. The orchestrator calls it inside the close
// transaction and unwinds the close when the external side disagrees.
package ledgersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Client is an HTTP client for the external ledger's PnL endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the external ledger API.
//
// baseURL is the API root, e.g. "https://ledger.internal.example.com".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// applyPnLRequest is the JSON body of POST /v1/pnl.
type applyPnLRequest struct {
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
	PnL        string `json:"pnl"`
}

// applyPnLResponse is the JSON body the external ledger answers with.
type applyPnLResponse struct {
	AppliedDelta string `json:"applied_delta"`
	Error        string `json:"error,omitempty"`
}

// ApplyPnL posts the realized PnL and returns the balance delta the external
// side reports having applied. PositionID doubles as the idempotency key so
// retries of the same close never double-apply.
func (c *Client) ApplyPnL(ctx context.Context, accountID uuid.UUID, positionID uuid.UUID, pnl decimal.Decimal) (decimal.Decimal, error) {
	body, err := json.Marshal(applyPnLRequest{
		AccountID:  accountID.String(),
		PositionID: positionID.String(),
		PnL:        pnl.String(),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledgersync: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/pnl", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledgersync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", positionID.String())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledgersync: apply pnl: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledgersync: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ledgersync: apply pnl: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out applyPnLResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return decimal.Zero, fmt.Errorf("ledgersync: decode response: %w", err)
	}
	if out.Error != "" {
		return decimal.Zero, fmt.Errorf("ledgersync: external ledger: %s", out.Error)
	}

	delta, err := decimal.NewFromString(out.AppliedDelta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledgersync: parse applied delta %q: %w", out.AppliedDelta, err)
	}
	return delta, nil
}

var _ domain.LedgerSync = (*Client)(nil)
