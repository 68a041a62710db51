// Package bridge keeps orders in sync with the fulfillment partner: it applies
// inbound status updates and delivers outbound jobs and status notifications.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/config"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/outbox"
	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/internal/store"
	"github.com/sells-group/fabroute/pkg/partner"
)

// partnerActor is recorded as the actor of bridge-originated transitions.
const partnerActor = "partner"

// Ack acknowledges an inbound update or an outbound delivery.
type Ack struct {
	OrderID       string            `json:"order_id,omitempty"`
	Status        model.OrderStatus `json:"status,omitempty"`
	Duplicate     bool              `json:"duplicate,omitempty"`
	Stale         bool              `json:"stale,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	PartnerRef    string            `json:"partner_ref,omitempty"`
}

// Synchronizer is the bridge between local orders and the partner network.
type Synchronizer struct {
	orders  *order.Service
	store   store.Store
	client  partner.Client
	outbox  *outbox.Outbox
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	now     func() time.Time
	log     *zap.Logger

	inflight sync.Map
	wg       sync.WaitGroup
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithRetry overrides the outbound retry schedule.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Synchronizer) { s.retry = cfg }
}

// WithBreaker overrides the partner circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Synchronizer) { s.breaker = cb }
}

// New creates a Synchronizer. Retry and breaker settings come from cfg.
func New(orders *order.Service, st store.Store, client partner.Client, ob *outbox.Outbox, cfg config.BridgeConfig, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		orders:  orders,
		store:   st,
		client:  client,
		outbox:  ob,
		breaker: resilience.NewCircuitBreaker("partner", resilience.BreakerFromBridge(cfg)),
		retry:   resilience.RetryFromBridge(cfg),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "bridge")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReceiveStatusUpdate applies a partner status update to the order with the
// given external job id. Repeated (job, status) pairs are acknowledged as
// duplicates and updates that lag the order's current state as stale; neither
// changes the order.
func (s *Synchronizer) ReceiveStatusUpdate(ctx context.Context, jobID, status string, occurredAt time.Time) (Ack, error) {
	mapped, ok := MapStatus(status)
	if !ok {
		return Ack{}, &BridgeError{Kind: KindUnmappedStatus, JobID: jobID, Status: status}
	}

	o, err := s.orders.GetByExternalJobID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return Ack{}, &BridgeError{Kind: KindUnknownJob, JobID: jobID, Status: status, Err: err}
	}
	if err != nil {
		return Ack{}, eris.Wrapf(err, "bridge: load job %s", jobID)
	}

	ev := store.BridgeEvent{
		ExternalJobID:  jobID,
		MappedStatus:   mapped,
		OrderID:        o.ID,
		ProviderStatus: status,
		OccurredAt:     occurredAt.UTC(),
		ReceivedAt:     s.now().UTC(),
	}

	ack := Ack{OrderID: o.ID}
	err = s.orders.WithLock(ctx, o.ID, func(ctx context.Context, tx *order.Tx) error {
		current := tx.Order().Status
		switch {
		case order.CanTransition(current, mapped):
			next, err := tx.Transition(mapped, partnerActor, order.OriginBridge)
			if err != nil {
				return err
			}
			ack.Status = next.Status
			// The order has moved; a retransmission is still seen as a
			// duplicate because the order already holds the mapped status.
			if _, err := s.store.RecordBridgeEvent(ctx, ev); err != nil {
				s.log.Warn("record applied bridge event failed",
					zap.String("job_id", jobID),
					zap.String("status", string(mapped)),
					zap.Error(err),
				)
			}
			return nil

		case order.Behind(current, mapped):
			inserted, err := s.store.RecordBridgeEvent(ctx, ev)
			if err != nil {
				return eris.Wrapf(err, "bridge: record event for job %s", jobID)
			}
			ack.Status = current
			if !inserted || current == mapped {
				ack.Duplicate = true
			} else {
				ack.Stale = true
			}
			return nil

		default:
			return &BridgeError{
				Kind:   KindInvalidTransition,
				JobID:  jobID,
				Status: status,
				Err: &order.InvalidTransitionError{
					OrderID: o.ID,
					From:    current,
					To:      mapped,
					Allowed: order.Allowed(current),
				},
			}
		}
	})
	if err != nil {
		return Ack{}, err
	}

	s.log.Info("partner status applied",
		zap.String("job_id", jobID),
		zap.String("order_id", o.ID),
		zap.String("partner_status", status),
		zap.String("status", string(ack.Status)),
		zap.Bool("duplicate", ack.Duplicate),
		zap.Bool("stale", ack.Stale),
	)
	return ack, nil
}
