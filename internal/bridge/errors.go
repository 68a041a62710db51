package bridge

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/outbox"
)

// ErrKind classifies a rejected inbound update.
type ErrKind string

const (
	KindUnmappedStatus    ErrKind = "unmapped_status"
	KindUnknownJob        ErrKind = "unknown_job"
	KindInvalidTransition ErrKind = "invalid_transition"
)

// ErrNoProvider is returned when publishing an order that has not been routed.
var ErrNoProvider = eris.New("bridge: order has no assigned provider")

// BridgeError rejects an inbound status update. Nothing was recorded.
type BridgeError struct {
	Kind   ErrKind
	JobID  string
	Status string
	Err    error
}

func (e *BridgeError) Error() string {
	msg := fmt.Sprintf("bridge: %s for job %s (status %q)", e.Kind, e.JobID, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BridgeError) Unwrap() error { return e.Err }

// BridgeDeliveryError reports an outbound call that could not be delivered
// within the retry budget. The order is unchanged and the call stays in the
// outbox for redelivery.
type BridgeDeliveryError struct {
	OrderID       string
	CorrelationID string
	Kind          outbox.Kind
	Attempts      int
	Err           error
}

func (e *BridgeDeliveryError) Error() string {
	return fmt.Sprintf("bridge: %s for order %s failed after %d attempts (correlation %s): %v",
		e.Kind, e.OrderID, e.Attempts, e.CorrelationID, e.Err)
}

func (e *BridgeDeliveryError) Unwrap() error { return e.Err }
