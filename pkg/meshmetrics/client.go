// Package meshmetrics provides a client for the mesh analysis service that
// extracts geometry metrics from uploaded model files.
package meshmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/resilience"
)

// ErrNotFound is returned when the service has no file for the reference.
var ErrNotFound = eris.New("meshmetrics: file not found")

// Metrics is the analysis result for one file.
type Metrics struct {
	VolumeMM3       float64    `json:"volume_mm3"`
	SurfaceAreaMM2  float64    `json:"surface_area_mm2"`
	BoundingBoxMM   [3]float64 `json:"bounding_box_mm"`
	ComplexityScore float64    `json:"complexity_score"`
	IsManifold      bool       `json:"is_manifold"`
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client fetches metrics for previously uploaded files.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client rooted at baseURL. Requests time out after
// timeout; zero means 10s.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the metrics for fileRef.
func (c *Client) Get(ctx context.Context, fileRef string) (*Metrics, error) {
	reqURL := fmt.Sprintf("%s/files/%s/metrics", c.baseURL, url.PathEscape(fileRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "meshmetrics: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "meshmetrics: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "meshmetrics: read response body")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "file %s", fileRef)
	default:
		err := eris.Errorf("meshmetrics: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var m Metrics
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, eris.Wrap(err, "meshmetrics: unmarshal response")
	}
	return &m, nil
}
