// Package providerdir provides a client for the provider directory API.
package providerdir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client lists fulfillment providers from the directory service.
type Client interface {
	// ListProviders returns every provider offering serviceType.
	ListProviders(ctx context.Context, serviceType string) ([]Provider, error)
}

// Provider is a directory record as served by the API.
type Provider struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Latitude           *float64     `json:"latitude,omitempty"`
	Longitude          *float64     `json:"longitude,omitempty"`
	Capabilities       []Capability `json:"capabilities"`
	Rating             float64      `json:"rating"`
	TotalOrders        int          `json:"total_orders"`
	SuccessRate        float64      `json:"success_rate"`
	CertificationLevel string       `json:"certification_level"`
	Active             bool         `json:"active"`
}

// Capability is one service line of a directory provider.
type Capability struct {
	ServiceType     string     `json:"service_type"`
	Materials       []string   `json:"materials"`
	MaxDimensions   [3]float64 `json:"max_dimensions_mm"`
	MinDimensions   [3]float64 `json:"min_dimensions_mm"`
	PrecisionMM     float64    `json:"precision_mm"`
	LeadTimeHours   float64    `json:"lead_time_hours"`
	CostPerHour     float64    `json:"cost_per_hour"`
	AlwaysAvailable bool       `json:"always_available"`
}

type listResponse struct {
	Providers []Provider `json:"providers"`
}

// Option configures the directory client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a directory client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ListProviders(ctx context.Context, serviceType string) ([]Provider, error) {
	reqURL := fmt.Sprintf("%s/providers?service_type=%s", c.baseURL, url.QueryEscape(serviceType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "providerdir: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "providerdir: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "providerdir: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("providerdir: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "providerdir: unmarshal response")
	}
	return out.Providers, nil
}
