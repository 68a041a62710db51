package resilience

import (
	"testing"
	"time"

	"github.com/sells-group/fabroute/internal/config"
)

func TestRetryFromBridge(t *testing.T) {
	cfg := RetryFromBridge(config.BridgeConfig{
		MaxAttempts:      7,
		InitialBackoffMs: 250,
		MaxBackoffMs:     4000,
		MaxTotalWaitSecs: 10,
		Multiplier:       3,
		JitterFraction:   0,
	})
	if cfg.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 250*time.Millisecond {
		t.Errorf("InitialBackoff = %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 4*time.Second {
		t.Errorf("MaxBackoff = %v", cfg.MaxBackoff)
	}
	if cfg.MaxTotalWait != 10*time.Second {
		t.Errorf("MaxTotalWait = %v", cfg.MaxTotalWait)
	}
	if cfg.Multiplier != 3 || cfg.JitterFraction != 0 {
		t.Errorf("Multiplier/Jitter = %v/%v", cfg.Multiplier, cfg.JitterFraction)
	}
}

func TestRetryFromBridge_ZeroKeepsDefaults(t *testing.T) {
	cfg := RetryFromBridge(config.BridgeConfig{JitterFraction: -1})
	def := DefaultRetryConfig()
	if cfg.MaxAttempts != def.MaxAttempts || cfg.InitialBackoff != def.InitialBackoff ||
		cfg.MaxTotalWait != def.MaxTotalWait || cfg.JitterFraction != def.JitterFraction {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestBreakerFromBridge(t *testing.T) {
	cfg := BreakerFromBridge(config.BridgeConfig{FailureThreshold: 3, ResetTimeoutSecs: 12})
	if cfg.FailureThreshold != 3 || cfg.ResetTimeout != 12*time.Second {
		t.Errorf("unexpected breaker config %+v", cfg)
	}
	def := BreakerFromBridge(config.BridgeConfig{})
	if def.FailureThreshold != 5 || def.ResetTimeout != 30*time.Second {
		t.Errorf("expected defaults, got %+v", def)
	}
}

