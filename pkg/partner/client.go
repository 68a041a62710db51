// Package partner provides a client for the fulfillment network's job API.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/fabroute/internal/resilience"
)

// CorrelationHeader carries the caller's correlation id on every request.
const CorrelationHeader = "X-Correlation-ID"

// Job is a routed order handed to the partner.
type Job struct {
	JobID             string     `json:"job_id"`
	OrderID           string     `json:"order_id"`
	QuoteID           string     `json:"quote_id"`
	ProviderID        string     `json:"provider_id"`
	ServiceType       string     `json:"service_type"`
	Priority          string     `json:"priority"`
	EstimatedCost     string     `json:"estimated_cost,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	CustomerNotes     string     `json:"customer_notes,omitempty"`
}

// StatusUpdate reports a storefront-side status change for a job.
type StatusUpdate struct {
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Ack is the partner's acknowledgement of a request.
type Ack struct {
	Accepted   bool   `json:"accepted"`
	PartnerRef string `json:"partner_ref,omitempty"`
	Message    string `json:"message,omitempty"`
}

// StatusError is a non-retryable rejection from the partner.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("partner: status %d: %s", e.StatusCode, e.Body)
}

// Client sends jobs and status updates to the partner.
type Client interface {
	PublishJob(ctx context.Context, correlationID string, job Job) (*Ack, error)
	NotifyStatus(ctx context.Context, correlationID, jobID string, update StatusUpdate) (*Ack, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a partner client. Requests time out after timeout; zero
// means 15s.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &httpClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) PublishJob(ctx context.Context, correlationID string, job Job) (*Ack, error) {
	return c.post(ctx, correlationID, "/jobs", job)
}

func (c *httpClient) NotifyStatus(ctx context.Context, correlationID, jobID string, update StatusUpdate) (*Ack, error) {
	return c.post(ctx, correlationID, "/jobs/"+url.PathEscape(jobID)+"/status", update)
}

func (c *httpClient) post(ctx context.Context, correlationID, path string, body any) (*Ack, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "partner: rate limit wait")
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "partner: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "partner: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(CorrelationHeader, correlationID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures are worth another attempt.
		return nil, resilience.NewTransientError(eris.Wrapf(err, "partner: POST %s", path), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "partner: read response body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			te := resilience.NewTransientError(statusErr, resp.StatusCode)
			te.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return nil, te
		}
		return nil, statusErr
	}

	ack := &Ack{Accepted: true}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, ack); err != nil {
			return nil, eris.Wrap(err, "partner: unmarshal response")
		}
	}
	return ack, nil
}
