package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/outbox"
	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/internal/store"
	"github.com/sells-group/fabroute/pkg/partner"
)

// notifyPayload is the outbox payload of a status notification.
type notifyPayload struct {
	JobID string `json:"job_id"`
	partner.StatusUpdate
}

// PublishJob hands a routed order to the partner.
func (s *Synchronizer) PublishJob(ctx context.Context, o *model.ServiceOrder) (Ack, error) {
	e, err := s.publishEntry(o)
	if err != nil {
		return Ack{}, err
	}
	if err := s.outbox.Put(e); err != nil {
		return Ack{}, eris.Wrap(err, "bridge: enqueue publish")
	}
	return s.deliver(ctx, e)
}

// NotifyStatus tells the partner about o's current status.
func (s *Synchronizer) NotifyStatus(ctx context.Context, o *model.ServiceOrder) (Ack, error) {
	e, err := s.notifyEntry(o)
	if err != nil {
		return Ack{}, err
	}
	if err := s.outbox.Put(e); err != nil {
		return Ack{}, eris.Wrap(err, "bridge: enqueue notify")
	}
	return s.deliver(ctx, e)
}

func (s *Synchronizer) publishEntry(o *model.ServiceOrder) (outbox.Entry, error) {
	if o.ProviderID == nil || *o.ProviderID == "" {
		return outbox.Entry{}, eris.Wrapf(ErrNoProvider, "order %s", o.ID)
	}
	job := partner.Job{
		JobID:             o.ExternalJobID,
		OrderID:           o.ID,
		QuoteID:           o.QuoteID,
		ProviderID:        *o.ProviderID,
		ServiceType:       string(o.ServiceType),
		Priority:          string(o.Priority),
		EstimatedDelivery: o.EstimatedDelivery,
		CustomerNotes:     o.CustomerNotes,
	}
	if o.EstimatedCost != nil {
		job.EstimatedCost = o.EstimatedCost.StringFixed(2)
	}
	return newEntry(outbox.KindPublishJob, o.ID, job)
}

func (s *Synchronizer) notifyEntry(o *model.ServiceOrder) (outbox.Entry, error) {
	at, ok := o.Milestones[o.Status]
	if !ok {
		at = o.UpdatedAt
	}
	return newEntry(outbox.KindNotifyStatus, o.ID, notifyPayload{
		JobID: o.ExternalJobID,
		StatusUpdate: partner.StatusUpdate{
			Status:     PartnerStatus(o.Status),
			OccurredAt: at.UTC(),
		},
	})
}

func newEntry(kind outbox.Kind, orderID string, payload any) (outbox.Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return outbox.Entry{}, eris.Wrap(err, "bridge: correlation id")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return outbox.Entry{}, eris.Wrapf(err, "bridge: encode %s payload", kind)
	}
	return outbox.Entry{ID: id.String(), Kind: kind, OrderID: orderID, Payload: raw}, nil
}

// deliver sends an outbox entry with retries. On success the entry is
// removed; otherwise it is marked failed and, the first time, a standing
// alert is raised.
func (s *Synchronizer) deliver(ctx context.Context, e outbox.Entry) (Ack, error) {
	if _, busy := s.inflight.LoadOrStore(e.ID, struct{}{}); busy {
		return Ack{}, eris.Errorf("bridge: entry %s already in flight", e.ID)
	}
	defer s.inflight.Delete(e.ID)

	retry := s.retry
	retry.OnRetry = resilience.RetryLogger("partner", string(e.Kind))

	attempts := 0
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*partner.Ack, error) {
		attempts++
		var resp *partner.Ack
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = s.send(ctx, e)
			return err
		})
		return resp, err
	})

	log := s.log.With(
		zap.String("order_id", e.OrderID),
		zap.String("correlation_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.Int("attempts", attempts),
	)

	if err != nil {
		log.Error("partner delivery failed",
			zap.String("error_class", string(resilience.ClassifyError(err))),
			zap.Error(err),
		)
		if markErr := s.outbox.MarkFailed(e.ID, attempts, err); markErr != nil {
			log.Error("mark outbox entry failed", zap.Error(markErr))
		}
		if e.State != outbox.StateFailed {
			s.raiseAlert(ctx, e, attempts, err)
		}
		return Ack{}, &BridgeDeliveryError{
			OrderID:       e.OrderID,
			CorrelationID: e.ID,
			Kind:          e.Kind,
			Attempts:      attempts,
			Err:           err,
		}
	}

	if delErr := s.outbox.Delete(e.ID); delErr != nil {
		log.Error("delete delivered outbox entry", zap.Error(delErr))
	}
	if e.State == outbox.StateFailed {
		s.resolveAlerts(ctx, e.ID)
	}
	log.Info("partner delivery succeeded")

	ack := Ack{OrderID: e.OrderID, CorrelationID: e.ID}
	if resp != nil {
		ack.PartnerRef = resp.PartnerRef
	}
	return ack, nil
}

func (s *Synchronizer) send(ctx context.Context, e outbox.Entry) (*partner.Ack, error) {
	switch e.Kind {
	case outbox.KindPublishJob:
		var job partner.Job
		if err := json.Unmarshal(e.Payload, &job); err != nil {
			return nil, eris.Wrap(err, "bridge: decode job payload")
		}
		return s.client.PublishJob(ctx, e.ID, job)
	case outbox.KindNotifyStatus:
		var p notifyPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, eris.Wrap(err, "bridge: decode notify payload")
		}
		return s.client.NotifyStatus(ctx, e.ID, p.JobID, p.StatusUpdate)
	default:
		return nil, eris.Errorf("bridge: unknown outbox kind %q", e.Kind)
	}
}

func (s *Synchronizer) raiseAlert(ctx context.Context, e outbox.Entry, attempts int, cause error) {
	alert := &model.Alert{
		ID:            uuid.NewString(),
		Type:          model.AlertBridgeDeliveryFailed,
		Severity:      "critical",
		OrderID:       e.OrderID,
		CorrelationID: e.ID,
		Message:       eris.Wrapf(cause, "%s undelivered after %d attempts", e.Kind, attempts).Error(),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateAlert(context.WithoutCancel(ctx), alert); err != nil {
		s.log.Error("store delivery alert", zap.String("correlation_id", e.ID), zap.Error(err))
	}
}

func (s *Synchronizer) resolveAlerts(ctx context.Context, correlationID string) {
	alerts, err := s.store.ListAlerts(ctx, store.AlertFilter{
		Type:     model.AlertBridgeDeliveryFailed,
		OpenOnly: true,
	})
	if err != nil {
		s.log.Error("list delivery alerts", zap.Error(err))
		return
	}
	for _, a := range alerts {
		if a.CorrelationID != correlationID {
			continue
		}
		if err := s.store.ResolveAlert(ctx, a.ID, s.now().UTC()); err != nil {
			s.log.Error("resolve delivery alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}

// RedeliverResult summarises one redelivery pass.
type RedeliverResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ResetCircuit closes the partner breaker so the next delivery goes out
// immediately instead of waiting for the reset timeout.
func (s *Synchronizer) ResetCircuit() {
	if _, state := s.breaker.Counters(); state != resilience.CircuitClosed {
		s.log.Info("partner circuit reset", zap.String("from", state.String()))
	}
	s.breaker.Reset()
}

// Redeliver replays every undelivered outbox entry oldest first. Entries that
// are being delivered concurrently are skipped.
func (s *Synchronizer) Redeliver(ctx context.Context) (RedeliverResult, error) {
	var res RedeliverResult
	entries, err := s.outbox.Pending()
	if err != nil {
		return res, eris.Wrap(err, "bridge: list outbox")
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "bridge: redeliver")
		}
		if _, busy := s.inflight.Load(e.ID); busy {
			res.Skipped++
			continue
		}
		if _, err := s.deliver(ctx, e); err != nil {
			res.Failed++
			continue
		}
		res.Delivered++
	}
	return res, nil
}

// Run redelivers on every tick until ctx is done.
func (s *Synchronizer) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Redeliver(ctx)
			if err != nil {
				s.log.Warn("outbox redelivery stopped", zap.Error(err))
				continue
			}
			if res.Delivered+res.Failed > 0 {
				s.log.Info("outbox redelivery",
					zap.Int("delivered", res.Delivered),
					zap.Int("failed", res.Failed),
					zap.Int("skipped", res.Skipped),
				)
			}
		}
	}
}
