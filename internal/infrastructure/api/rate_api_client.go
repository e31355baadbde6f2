// internal/infrastructure/api/rate_api_client.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
)

const maxBodyBytes = 1 << 20

// RateAPIClient performs single attempts against a remote rate endpoint
type RateAPIClient struct {
	endpoint   string
	domain     entity.Domain
	httpClient *http.Client
	logger     logger.Logger
}

// NewRateAPIClient creates a new client for one domain's endpoint
func NewRateAPIClient(endpoint string, domain entity.Domain, httpClient *http.Client, log logger.Logger) *RateAPIClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
		}
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &RateAPIClient{
		endpoint:   endpoint,
		domain:     domain,
		httpClient: httpClient,
		logger:     log.WithField("domain", domain.Name),
	}
}

// RateResponse represents the body returned by the rate endpoints
type RateResponse struct {
	Success *bool              `json:"success"`
	Prices  map[string]float64 `json:"prices"`
	Rates   map[string]float64 `json:"rates"`
	IsLive  *bool              `json:"is_live"`
	Error   string             `json:"error"`
}

// payload returns the table under the domain's key, or under the alternate key
func (r *RateResponse) payload(domain entity.Domain) map[string]float64 {
	byKey := map[string]map[string]float64{
		"prices": r.Prices,
		"rates":  r.Rates,
	}
	if p := byKey[domain.PayloadKey]; len(p) > 0 {
		return p
	}
	return byKey[domain.AlternatePayloadKey()]
}

// Endpoint returns the URL this client calls
func (c *RateAPIClient) Endpoint() string {
	return c.endpoint
}

// FetchRates performs one request and classifies the result
func (c *RateAPIClient) FetchRates(ctx context.Context) entity.FetchOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return entity.TransientFailure(fmt.Sprintf("failed to create request: %v", err))
	}

	// Add Accept header to ensure JSON response
	req.Header.Add("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return entity.TransientFailure(fmt.Sprintf("failed to execute request: %v", err))
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing response body", map[string]interface{}{
				"error": closeErr.Error(),
			})
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return entity.TransientFailure(fmt.Sprintf("failed to read response body: %v", err))
	}

	c.logger.Debug("Rate endpoint responded", map[string]interface{}{
		"endpoint": c.endpoint,
		"status":   resp.StatusCode,
		"bytes":    len(bodyBytes),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return entity.TransientFailure(fmt.Sprintf("API returned error status: %d", resp.StatusCode))
	}

	var rateResp RateResponse
	if err := json.Unmarshal(bodyBytes, &rateResp); err != nil {
		return entity.TransientFailure(fmt.Sprintf("failed to decode response: %v", err))
	}

	if rateResp.Success == nil {
		return entity.TransientFailure("response has no success field")
	}

	if !*rateResp.Success {
		reason := rateResp.Error
		if reason == "" {
			reason = "server reported failure"
		}
		return entity.Degraded(reason)
	}

	payload := rateResp.payload(c.domain)
	if len(payload) == 0 {
		return entity.Degraded(fmt.Sprintf("no %s in response", c.domain.PayloadKey))
	}

	// absent is_live means the server returned fresh data
	live := true
	if rateResp.IsLive != nil {
		live = *rateResp.IsLive
	}

	return entity.Success(entity.RateTable(payload), live)
}
