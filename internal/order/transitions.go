// Package order drives service orders through their lifecycle.
package order

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/model"
)

var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending:        {model.OrderRouted, model.OrderCancelled},
	model.OrderRouted:         {model.OrderAccepted, model.OrderRejected, model.OrderCancelled},
	model.OrderAccepted:       {model.OrderPrinting, model.OrderCancelled},
	model.OrderPrinting:       {model.OrderPostProcessing, model.OrderFailed, model.OrderCancelled},
	model.OrderPostProcessing: {model.OrderQualityCheck, model.OrderFailed, model.OrderCancelled},
	model.OrderQualityCheck:   {model.OrderReady, model.OrderFailed, model.OrderCancelled},
	model.OrderReady:          {model.OrderShipped, model.OrderCancelled},
	model.OrderShipped:        {model.OrderDelivered},
}

// rank orders statuses along the happy path. Terminal failure states sit
// past every live state.
var rank = map[model.OrderStatus]int{
	model.OrderPending:        0,
	model.OrderRouted:         1,
	model.OrderAccepted:       2,
	model.OrderRejected:       2,
	model.OrderPrinting:       3,
	model.OrderPostProcessing: 4,
	model.OrderQualityCheck:   5,
	model.OrderReady:          6,
	model.OrderShipped:        7,
	model.OrderDelivered:      8,
	model.OrderCancelled:      9,
	model.OrderFailed:         9,
}

// Allowed returns the statuses reachable from s in one step.
func Allowed(s model.OrderStatus) []model.OrderStatus {
	return append([]model.OrderStatus(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing edges.
func IsTerminal(s model.OrderStatus) bool {
	return len(transitions[s]) == 0
}

// Behind reports whether target is at or before current in the lifecycle,
// or current is terminal. Such updates carry no new information.
func Behind(current, target model.OrderStatus) bool {
	return IsTerminal(current) || rank[target] <= rank[current]
}

// ErrProviderAssigned is returned when routing an order that already has a
// provider.
var ErrProviderAssigned = eris.New("order: provider already assigned")

// InvalidTransitionError rejects a target the current status cannot reach.
type InvalidTransitionError struct {
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
	Allowed []model.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	if len(allowed) == 0 {
		allowed = []string{"none"}
	}
	return fmt.Sprintf("order %s: invalid transition %s -> %s (allowed: %s)",
		e.OrderID, e.From, e.To, strings.Join(allowed, ", "))
}
