// Package directory reads payee and equipment records from the marketplace
// core over its internal REST API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gearmarket/escrow-service/internal/domain"
	"github.com/gearmarket/escrow-service/internal/ports"
)

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) PayeeConnectAccount(ctx context.Context, payeeID string) (string, error) {
	var payload struct {
		ConnectAccountID string `json:"connect_account_id"`
	}
	if err := c.get(ctx, "/internal/v1/payees/"+url.PathEscape(payeeID)+"/connect-account", &payload); err != nil {
		return "", err
	}
	if payload.ConnectAccountID == "" {
		return "", domain.ErrNotFound
	}
	return payload.ConnectAccountID, nil
}

func (c *HTTPClient) EquipmentTitle(ctx context.Context, equipmentID string) (string, error) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := c.get(ctx, "/internal/v1/equipment/"+url.PathEscape(equipmentID), &payload); err != nil {
		return "", err
	}
	return payload.Title, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("directory api status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ ports.DirectoryReader = (*HTTPClient)(nil)
