package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/outbox"
)

// OrderTransitioned implements order.Observer. Local transitions are written
// to the outbox before it returns and delivered in the background. Order
// creation and bridge-originated transitions are not sent to the partner.
func (s *Synchronizer) OrderTransitioned(ctx context.Context, t order.Transition) {
	if t.Origin == order.OriginBridge || t.From == "" {
		return
	}

	var (
		e   outbox.Entry
		err error
	)
	switch {
	case t.To == model.OrderRouted:
		e, err = s.publishEntry(t.Order)
	case t.Order.ProviderID != nil:
		e, err = s.notifyEntry(t.Order)
	default:
		return
	}

	log := s.log.With(zap.String("order_id", t.Order.ID), zap.String("to", string(t.To)))
	if err != nil {
		log.Error("build partner call", zap.Error(err))
		return
	}
	if err := s.outbox.Put(e); err != nil {
		log.Error("enqueue partner call", zap.Error(err))
		return
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Go(func() {
		_, err := s.deliver(bg, e)
		var de *BridgeDeliveryError
		if err != nil && !errors.As(err, &de) {
			log.Warn("partner call deferred to redelivery", zap.Error(err))
		}
	})
}

// Wait blocks until background deliveries started by OrderTransitioned finish.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}
