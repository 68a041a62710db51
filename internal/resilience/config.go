package resilience

import (
	"time"

	"github.com/sells-group/fabroute/internal/config"
)

// RetryFromBridge builds the outbound partner retry schedule. Unset values
// keep DefaultRetryConfig.
func RetryFromBridge(c config.BridgeConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.MaxTotalWaitSecs > 0 {
		cfg.MaxTotalWait = time.Duration(c.MaxTotalWaitSecs) * time.Second
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		cfg.JitterFraction = c.JitterFraction
	}
	return cfg
}

// BreakerFromBridge builds the per-partner circuit breaker config.
func BreakerFromBridge(c config.BridgeConfig) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
