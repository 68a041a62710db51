// Package events publishes the order status stream consumed by
// notification and analytics services.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
)

// OrderEvent is one committed status change.
type OrderEvent struct {
	EventID        string            `json:"event_id"`
	OrderID        string            `json:"order_id"`
	ExternalJobID  string            `json:"external_job_id"`
	ProviderID     string            `json:"provider_id,omitempty"`
	From           model.OrderStatus `json:"from,omitempty"`
	To             model.OrderStatus `json:"to"`
	Actor          string            `json:"actor"`
	Origin         order.Origin      `json:"origin"`
	NotifyCustomer bool              `json:"notify_customer"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

var customerVisible = map[model.OrderStatus]bool{
	model.OrderAccepted:  true,
	model.OrderRejected:  true,
	model.OrderReady:     true,
	model.OrderShipped:   true,
	model.OrderDelivered: true,
	model.OrderCancelled: true,
	model.OrderFailed:    true,
}

// ShouldNotifyCustomer reports whether entering s warrants a customer
// notification.
func ShouldNotifyCustomer(s model.OrderStatus) bool {
	return customerVisible[s]
}

// FromTransition builds the event for a committed transition.
func FromTransition(t order.Transition) OrderEvent {
	ev := OrderEvent{
		EventID:        uuid.NewString(),
		OrderID:        t.Order.ID,
		ExternalJobID:  t.Order.ExternalJobID,
		From:           t.From,
		To:             t.To,
		Actor:          t.Actor,
		Origin:         t.Origin,
		NotifyCustomer: ShouldNotifyCustomer(t.To),
		OccurredAt:     t.At,
	}
	if t.Order.ProviderID != nil {
		ev.ProviderID = *t.Order.ProviderID
	}
	return ev
}

// Publisher sends order events downstream.
type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by order id, so one
// order's events stay in one partition and in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a synchronous, fully acknowledged writer.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: encode")
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order." + string(ev.To))},
		},
		Time: ev.OccurredAt,
	})
	return eris.Wrapf(err, "events: publish %s for order %s", ev.To, ev.OrderID)
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return eris.Wrap(p.writer.Close(), "events: close writer")
}

// LogPublisher logs events instead of sending them. Used when no brokers
// are configured.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, ev OrderEvent) error {
	zap.L().Info("order event",
		zap.String("order_id", ev.OrderID),
		zap.String("to", string(ev.To)),
		zap.String("origin", string(ev.Origin)),
		zap.Bool("notify_customer", ev.NotifyCustomer),
	)
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// New returns a Kafka publisher when brokers are configured and a
// LogPublisher otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return LogPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}

// DefaultPublishTimeout bounds one event publish.
const DefaultPublishTimeout = 5 * time.Second

// Observer publishes an event for every committed order transition.
// Publish failures are logged; the transition has already committed.
type Observer struct {
	pub     Publisher
	timeout time.Duration
	log     *zap.Logger
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithPublishTimeout bounds each publish. Non-positive values keep the
// default.
func WithPublishTimeout(d time.Duration) ObserverOption {
	return func(o *Observer) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewObserver creates an order observer over pub.
func NewObserver(pub Publisher, opts ...ObserverOption) *Observer {
	o := &Observer{
		pub:     pub,
		timeout: DefaultPublishTimeout,
		log:     zap.L().With(zap.String("component", "events")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OrderTransitioned implements order.Observer. The publish runs under its
// own deadline and survives cancellation of the caller's request.
func (o *Observer) OrderTransitioned(ctx context.Context, t order.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	ev := FromTransition(t)
	if err := o.pub.Publish(ctx, ev); err != nil {
		o.log.Error("publish order event failed",
			zap.String("order_id", ev.OrderID),
			zap.String("to", string(ev.To)),
			zap.Error(err),
		)
	}
}
