package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/store"
)

// Origin says which side of the bridge caused a transition.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginBridge Origin = "bridge"
)

// Transition is a committed status change. From is empty for a newly
// created order.
type Transition struct {
	Order  *model.ServiceOrder
	From   model.OrderStatus
	To     model.OrderStatus
	Actor  string
	Origin Origin
	At     time.Time
}

// Observer is told about every committed transition, after the order's
// lock has been released.
type Observer interface {
	OrderTransitioned(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

// OrderTransitioned implements Observer.
func (f ObserverFunc) OrderTransitioned(ctx context.Context, t Transition) { f(ctx, t) }

// QuoteAcceptor consumes a quote on order creation.
type QuoteAcceptor interface {
	Accept(ctx context.Context, id string) (*model.Quote, error)
}

// OrderDetails are the customer's choices captured at acceptance.
type OrderDetails struct {
	ServiceType   model.ServiceType `json:"service_type"`
	Urgency       model.Urgency     `json:"urgency"`
	CustomerNotes string            `json:"customer_notes,omitempty"`
}

// Service owns every write to service orders. Writes to one order are
// serialized in-process by a keyed mutex and across processes by
// compare-and-set on the previous status.
type Service struct {
	store     store.Store
	quotes    QuoteAcceptor
	locks     *keyedMutex
	observers []Observer
	now       func() time.Time
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for milestones.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an order service.
func NewService(st store.Store, quotes QuoteAcceptor, opts ...Option) *Service {
	s := &Service{
		store:  st,
		quotes: quotes,
		locks:  newKeyedMutex(),
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "orders")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers an observer. Not safe to call once the service is
// handling requests.
func (s *Service) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*model.ServiceOrder, error) {
	return s.store.GetOrder(ctx, id)
}

// GetByExternalJobID returns the order published under a partner job id.
func (s *Service) GetByExternalJobID(ctx context.Context, jobID string) (*model.ServiceOrder, error) {
	return s.store.GetOrderByExternalJobID(ctx, jobID)
}

// List returns orders matching filter.
func (s *Service) List(ctx context.Context, filter store.OrderFilter) ([]model.ServiceOrder, error) {
	return s.store.ListOrders(ctx, filter)
}

var priorityByUrgency = map[model.Urgency]model.Priority{
	model.UrgencyLow:    model.PriorityLow,
	model.UrgencyNormal: model.PriorityNormal,
	model.UrgencyHigh:   model.PriorityHigh,
	model.UrgencyUrgent: model.PriorityUrgent,
}

// CreateFromQuote accepts the quote and opens a PENDING order for it.
func (s *Service) CreateFromQuote(ctx context.Context, quoteID string, d OrderDetails) (*model.ServiceOrder, error) {
	q, err := s.quotes.Accept(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	priority, ok := priorityByUrgency[d.Urgency]
	if !ok {
		priority = model.PriorityNormal
	}
	serviceType := d.ServiceType
	if serviceType == "" {
		serviceType = model.Service3DPrinting
	}

	now := s.now().UTC()
	total := q.Breakdown.Total
	o := &model.ServiceOrder{
		ID:            uuid.NewString(),
		QuoteID:       q.ID,
		ServiceType:   serviceType,
		Status:        model.OrderPending,
		Milestones:    map[model.OrderStatus]time.Time{model.OrderPending: now},
		Priority:      priority,
		CustomerNotes: d.CustomerNotes,
		ExternalJobID: "job_" + uuid.NewString(),
		EstimatedCost: &total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, eris.Wrap(err, "order: create")
	}

	s.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("quote_id", q.ID),
		zap.String("external_job_id", o.ExternalJobID),
	)
	s.notify(ctx, []Transition{{
		Order:  o.Clone(),
		To:     model.OrderPending,
		Actor:  "customer",
		Origin: OriginLocal,
		At:     now,
	}})
	return o, nil
}

// TransitionOrder moves an order to target. An illegal target yields an
// *InvalidTransitionError and leaves the order unchanged.
func (s *Service) TransitionOrder(ctx context.Context, id string, target model.OrderStatus, actor string) (*model.ServiceOrder, error) {
	var out *model.ServiceOrder
	err := s.WithLock(ctx, id, func(ctx context.Context, tx *Tx) error {
		o, err := tx.Transition(target, actor, OriginLocal)
		out = o
		return err
	})
	return out, err
}

// Route assigns the matched provider and moves the order to ROUTED.
func (s *Service) Route(ctx context.Context, id string, m model.ProviderMatch) (*model.ServiceOrder, error) {
	var out *model.ServiceOrder
	err := s.WithLock(ctx, id, func(ctx context.Context, tx *Tx) error {
		if tx.order.ProviderID != nil {
			return eris.Wrapf(ErrProviderAssigned, "order %s", id)
		}
		if !CanTransition(tx.order.Status, model.OrderRouted) {
			return tx.invalid(model.OrderRouted)
		}
		providerID, cost, delivery := m.ProviderID, m.EstimatedCost, m.EstimatedDelivery
		tx.order.ProviderID = &providerID
		tx.order.EstimatedCost = &cost
		tx.order.EstimatedDelivery = &delivery

		o, err := tx.Transition(model.OrderRouted, "router", OriginLocal)
		out = o
		return err
	})
	return out, err
}

// MatchRequest fills the fields req leaves empty from o and the quote o was
// accepted from, so routing matches the job the customer was quoted.
func (s *Service) MatchRequest(ctx context.Context, o *model.ServiceOrder, req model.ServiceRequest) (model.ServiceRequest, error) {
	if req.ServiceType == "" {
		req.ServiceType = o.ServiceType
	}
	r := &req.Requirements
	if r.Urgency == "" {
		for u, p := range priorityByUrgency {
			if p == o.Priority {
				r.Urgency = u
				break
			}
		}
	}
	if r.Material != "" && r.Quality != "" && r.Quantity > 0 && r.VolumeMM3 > 0 {
		return req, nil
	}

	q, err := s.store.GetQuote(ctx, o.QuoteID)
	if err != nil {
		return req, eris.Wrapf(err, "order %s: load quote %s", o.ID, o.QuoteID)
	}
	if r.Material == "" {
		r.Material = q.Parameters.Material
	}
	if r.Quality == "" {
		r.Quality = q.Parameters.Quality
	}
	if r.Quantity == 0 {
		r.Quantity = q.Parameters.Quantity
	}
	if r.VolumeMM3 == 0 {
		r.VolumeMM3 = q.VolumeMM3
	}
	return req, nil
}

// WithLock loads order id and runs fn while holding its lock. Transitions
// committed through tx are reported to observers after the lock is released,
// whether or not fn returns an error.
func (s *Service) WithLock(ctx context.Context, id string, fn func(ctx context.Context, tx *Tx) error) error {
	unlock := s.locks.Lock(id)
	committed, err := func() ([]Transition, error) {
		defer unlock()
		o, err := s.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		tx := &Tx{svc: s, ctx: ctx, order: o}
		err = fn(ctx, tx)
		return tx.committed, err
	}()
	s.notify(ctx, committed)
	return err
}

func (s *Service) notify(ctx context.Context, ts []Transition) {
	for _, t := range ts {
		for _, o := range s.observers {
			o.OrderTransitioned(ctx, t)
		}
	}
}

// Tx is the locked view of one order inside WithLock.
type Tx struct {
	svc       *Service
	ctx       context.Context
	order     *model.ServiceOrder
	committed []Transition
}

// Order returns a copy of the order as currently stored.
func (tx *Tx) Order() *model.ServiceOrder {
	return tx.order.Clone()
}

func (tx *Tx) invalid(target model.OrderStatus) error {
	return &InvalidTransitionError{
		OrderID: tx.order.ID,
		From:    tx.order.Status,
		To:      target,
		Allowed: Allowed(tx.order.Status),
	}
}

// Transition validates and persists target. On failure the stored order and
// tx's view of it are unchanged.
func (tx *Tx) Transition(target model.OrderStatus, actor string, origin Origin) (*model.ServiceOrder, error) {
	from := tx.order.Status
	if !CanTransition(from, target) {
		return nil, tx.invalid(target)
	}

	now := tx.svc.now().UTC()
	next := tx.order.Clone()
	next.Status = target
	if _, seen := next.Milestones[target]; !seen {
		next.Milestones[target] = now
	}
	next.UpdatedAt = now

	if err := tx.svc.store.UpdateOrder(tx.ctx, next, from); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, eris.Wrapf(err, "order %s: concurrent update", next.ID)
		}
		return nil, eris.Wrapf(err, "order %s: save transition", next.ID)
	}

	tx.order = next
	tx.committed = append(tx.committed, Transition{
		Order:  next.Clone(),
		From:   from,
		To:     target,
		Actor:  actor,
		Origin: origin,
		At:     now,
	})
	tx.svc.log.Info("order transitioned",
		zap.String("order_id", next.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor),
		zap.String("origin", string(origin)),
	)
	return next.Clone(), nil
}
