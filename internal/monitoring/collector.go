package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/outbox"
	"github.com/sells-group/fabroute/internal/store"
)

// MetricsSnapshot holds a point-in-time view of order and bridge health.
type MetricsSnapshot struct {
	// Orders updated within the lookback window.
	OrdersTotal     int                       `json:"orders_total"`
	OrdersDelivered int                       `json:"orders_delivered"`
	OrdersFailed    int                       `json:"orders_failed"`
	OrdersRejected  int                       `json:"orders_rejected"`
	OrdersCancelled int                       `json:"orders_cancelled"`
	OrdersInFlight  int                       `json:"orders_in_flight"`
	FailureRate     float64                   `json:"failure_rate"`
	ByStatus        map[model.OrderStatus]int `json:"by_status"`

	// Bridge health.
	OpenDeliveryAlerts int `json:"open_delivery_alerts"`
	OutboxDepth        int `json:"outbox_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished counts orders that reached a terminal state.
func (s *MetricsSnapshot) Finished() int {
	return s.OrdersDelivered + s.OrdersFailed + s.OrdersRejected + s.OrdersCancelled
}

// OrderStats is the part of the store the collector reads.
type OrderStats interface {
	CountOrdersByStatus(ctx context.Context, since time.Time) (map[model.OrderStatus]int, error)
	ListAlerts(ctx context.Context, filter store.AlertFilter) ([]model.Alert, error)
}

// OutboxReader lists undelivered partner calls.
type OutboxReader interface {
	Pending() ([]outbox.Entry, error)
}

// Collector gathers metrics from the store and the outbox.
type Collector struct {
	store  OrderStats
	outbox OutboxReader
	now    func() time.Time
}

// NewCollector creates a new metrics collector. ob may be nil.
func NewCollector(st OrderStats, ob OutboxReader) *Collector {
	return &Collector{store: st, outbox: ob, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	counts, err := c.store.CountOrdersByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count orders")
	}
	snap.ByStatus = counts

	for status, n := range counts {
		snap.OrdersTotal += n
		switch status {
		case model.OrderDelivered:
			snap.OrdersDelivered += n
		case model.OrderFailed:
			snap.OrdersFailed += n
		case model.OrderRejected:
			snap.OrdersRejected += n
		case model.OrderCancelled:
			snap.OrdersCancelled += n
		default:
			snap.OrdersInFlight += n
		}
	}
	if finished := snap.Finished(); finished > 0 {
		snap.FailureRate = float64(snap.OrdersFailed+snap.OrdersRejected) / float64(finished)
	}

	alerts, err := c.store.ListAlerts(ctx, store.AlertFilter{
		Type:     model.AlertBridgeDeliveryFailed,
		OpenOnly: true,
		Limit:    1000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list alerts")
	}
	snap.OpenDeliveryAlerts = len(alerts)

	if c.outbox != nil {
		pending, err := c.outbox.Pending()
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: read outbox")
		}
		snap.OutboxDepth = len(pending)
	}

	return snap, nil
}
