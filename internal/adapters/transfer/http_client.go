// Package transfer adapts the connected-account transfer API of the payment
// provider. The provider supports idempotency keys; this adapter always
// forwards them so retried calls settle at most once.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gearmarket/escrow-service/internal/ports"
)

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transferRequest struct {
	DestinationAccountID string `json:"destination_account_id"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

func (c *HTTPClient) Transfer(ctx context.Context, destinationAccountID string, amount int64, currency, idempotencyKey string) (ports.TransferResult, error) {
	body, err := json.Marshal(transferRequest{
		DestinationAccountID: destinationAccountID,
		Amount:               amount,
		Currency:             currency,
	})
	if err != nil {
		return ports.TransferResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return ports.TransferResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return ports.TransferResult{}, fmt.Errorf("transfer call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.TransferResult{}, fmt.Errorf("transfer call: provider returned %d", resp.StatusCode)
	}
	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.TransferResult{}, fmt.Errorf("decode transfer response: %w", err)
	}
	if out.TransferID == "" {
		return ports.TransferResult{}, fmt.Errorf("transfer call: provider returned no transfer id")
	}
	return ports.TransferResult{TransferID: out.TransferID}, nil
}

func (c *HTTPClient) LookupByIdempotencyKey(ctx context.Context, idempotencyKey string) (ports.TransferResult, bool, error) {
	endpoint := c.baseURL + "/v1/transfers?idempotency_key=" + url.QueryEscape(idempotencyKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.TransferResult{}, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return ports.TransferResult{}, false, fmt.Errorf("transfer lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ports.TransferResult{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.TransferResult{}, false, fmt.Errorf("transfer lookup: provider returned %d", resp.StatusCode)
	}
	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.TransferResult{}, false, fmt.Errorf("decode transfer lookup: %w", err)
	}
	if out.TransferID == "" {
		return ports.TransferResult{}, false, nil
	}
	return ports.TransferResult{TransferID: out.TransferID}, true, nil
}
