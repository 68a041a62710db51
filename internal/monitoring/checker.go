package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/config"
)

// defaultRepeatAfter is how long a still-firing alert stays quiet after it
// was last sent.
const defaultRepeatAfter = time.Hour

// Checker evaluates order and bridge health on a fixed interval and sends
// webhook alerts. An alert type that keeps firing is re-sent at most once
// per repeat window.
type Checker struct {
	collector   *Collector
	alerter     *Alerter
	cfg         config.MonitoringConfig
	repeatAfter time.Duration
	now         func() time.Time
	log         *zap.Logger

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithRepeatAfter sets the quiet window for alerts that keep firing.
// Non-positive values keep the default.
func WithRepeatAfter(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.repeatAfter = d
		}
	}
}

// WithCheckerClock overrides the clock used for the repeat window.
func WithCheckerClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector:   collector,
		alerter:     alerter,
		cfg:         cfg,
		repeatAfter: defaultRepeatAfter,
		now:         time.Now,
		log:         zap.L().With(zap.String("component", "monitoring.checker")),
		lastSent:    make(map[AlertType]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run checks once immediately, then every check interval, until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c.log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckResult summarises one check.
type CheckResult struct {
	Triggered  int
	Suppressed int
	Sent       int
}

// Check collects metrics, evaluates thresholds and sends the alerts that are
// not inside their repeat window.
func (c *Checker) Check(ctx context.Context) CheckResult {
	var res CheckResult
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return res
	}

	alerts := c.alerter.Evaluate(snap)
	res.Triggered = len(alerts)
	alerts = c.due(alerts)
	res.Suppressed = res.Triggered - len(alerts)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: nothing to send",
			zap.Int("alerts_triggered", res.Triggered),
			zap.Int("outbox_depth", snap.OutboxDepth),
		)
		return res
	}

	res.Sent = c.alerter.SendAlerts(ctx, alerts)
	if res.Sent == len(alerts) {
		c.markSent(alerts)
	}
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", res.Triggered),
		zap.Int("alerts_suppressed", res.Suppressed),
		zap.Int("alerts_sent", res.Sent),
	)
	return res
}

// due drops alerts sent within the repeat window. A type that stops firing
// is forgotten so it alerts again as soon as it returns.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	firing := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		firing[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.repeatAfter {
			continue
		}
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}

func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = now
	}
}
