// Package provider implements the channel-keyed HTTP caller in front of
// the external delivery providers. Routing is purely configuration: each
// channel has a base URL and an optional API key.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/domain"
)

// Client implements domain.DeliveryProvider over HTTP.
type Client struct {
	cfg    config.ProviderConfig
	client *http.Client
}

// NewClient creates a provider client. One client per worker suffices;
// it is stateless apart from the underlying connection pool.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send posts the payload to the channel's provider and classifies the
// outcome. Network errors and timeouts yield a result with no status
// code; non-2xx responses carry the received status code and body.
func (c *Client) Send(ctx context.Context, channel domain.Channel, payload domain.ProviderPayload) domain.ProviderResult {
	endpoint := c.cfg.Endpoint(channel)
	if endpoint.BaseURL == "" {
		return domain.ProviderResult{OK: false, Error: "Provider base URL not configured"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ProviderResult{OK: false, Error: fmt.Sprintf("failed to marshal payload: %v", err)}
	}

	url := strings.TrimRight(endpoint.BaseURL, "/") + "/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.ProviderResult{OK: false, Error: fmt.Sprintf("failed to create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ProviderResult{OK: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respBody = nil
	}

	var parsed json.RawMessage
	if json.Valid(respBody) {
		parsed = json.RawMessage(respBody)
	}

	if statusCode >= 200 && statusCode < 300 {
		return domain.ProviderResult{OK: true, StatusCode: &statusCode, Response: parsed}
	}

	return domain.ProviderResult{
		OK:         false,
		StatusCode: &statusCode,
		Response:   parsed,
		Error:      "non-2xx provider response",
	}
}
