package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/fabroute/internal/model"
)

// Quotes are immutable once priced, so the priced body is stored as one JSON
// document next to the columns queries filter on.

func encodeQuote(q *model.Quote) ([]byte, error) {
	body := *q
	body.InvalidatedAt = nil
	b, err := json.Marshal(body)
	return b, eris.Wrap(err, "store: marshal quote")
}

func decodeQuote(data []byte, invalidatedAt *time.Time) (*model.Quote, error) {
	var q model.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal quote")
	}
	q.InvalidatedAt = invalidatedAt
	return &q, nil
}

// orderColumns are the values written for an order, shared by both drivers.
type orderColumns struct {
	providerID *string
	milestones []byte
	cost       *string
	delivery   *time.Time
}

func encodeOrder(o *model.ServiceOrder) (orderColumns, error) {
	m := o.Milestones
	if m == nil {
		m = map[model.OrderStatus]time.Time{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return orderColumns{}, eris.Wrap(err, "store: marshal milestones")
	}
	cols := orderColumns{providerID: o.ProviderID, milestones: b, delivery: o.EstimatedDelivery}
	if o.EstimatedCost != nil {
		s := o.EstimatedCost.StringFixed(2)
		cols.cost = &s
	}
	return cols, nil
}

func decodeOrder(o *model.ServiceOrder, milestones []byte, cost *string) error {
	o.Milestones = map[model.OrderStatus]time.Time{}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &o.Milestones); err != nil {
			return eris.Wrap(err, "store: unmarshal milestones")
		}
	}
	if cost != nil {
		d, err := decimal.NewFromString(*cost)
		if err != nil {
			return eris.Wrapf(err, "store: parse estimated cost %q", *cost)
		}
		o.EstimatedCost = &d
	}
	return nil
}
