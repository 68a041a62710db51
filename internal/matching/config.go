// Package matching filters and ranks fulfillment providers for a job.
package matching

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/config"
)

// Weights are the compatibility score weights. They sum to 1.
type Weights struct {
	Capability  float64
	Reputation  float64
	Experience  float64
	SuccessRate float64
	Proximity   float64
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Capability + w.Reputation + w.Experience + w.SuccessRate + w.Proximity
}

// Config tunes the matching engine.
type Config struct {
	Weights            Weights
	AdmissionThreshold float64
	MaxResults         int
	RegistryTimeout    time.Duration
}

// DefaultConfig returns the standard weighting.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Capability:  0.40,
			Reputation:  0.20,
			Experience:  0.15,
			SuccessRate: 0.15,
			Proximity:   0.10,
		},
		AdmissionThreshold: 50,
		MaxResults:         10,
		RegistryTimeout:    30 * time.Second,
	}
}

// ConfigFrom converts and validates the matching settings. Zero values keep
// the defaults; weights are taken as a set when any is non-zero.
func ConfigFrom(c config.MatchingConfig) (Config, error) {
	cfg := DefaultConfig()
	w := Weights{
		Capability:  c.Weights.Capability,
		Reputation:  c.Weights.Reputation,
		Experience:  c.Weights.Experience,
		SuccessRate: c.Weights.SuccessRate,
		Proximity:   c.Weights.Proximity,
	}
	if w.Sum() != 0 {
		cfg.Weights = w
	}
	if c.AdmissionThreshold > 0 {
		cfg.AdmissionThreshold = c.AdmissionThreshold
	}
	if c.MaxResults > 0 {
		cfg.MaxResults = c.MaxResults
	}
	if c.RegistryTimeoutSecs > 0 {
		cfg.RegistryTimeout = time.Duration(c.RegistryTimeoutSecs) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the config is internally consistent.
func (c Config) Validate() error {
	var errs []string

	weights := map[string]float64{
		"capability":   c.Weights.Capability,
		"reputation":   c.Weights.Reputation,
		"experience":   c.Weights.Experience,
		"success_rate": c.Weights.SuccessRate,
		"proximity":    c.Weights.Proximity,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("weight %s must be >= 0", name))
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("weights must sum to 1, got %.4f", sum))
	}
	if c.AdmissionThreshold < 0 || c.AdmissionThreshold > 100 {
		errs = append(errs, "admission_threshold must be between 0 and 100")
	}
	if c.MaxResults <= 0 {
		errs = append(errs, "max_results must be > 0")
	}
	if c.RegistryTimeout <= 0 {
		errs = append(errs, "registry_timeout must be > 0")
	}

	if len(errs) > 0 {
		// Map iteration order is random; keep the message stable.
		slices.Sort(errs)
		return eris.Errorf("matching: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
