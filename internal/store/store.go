package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a conditional write lost a race, e.g. the
	// order's status changed since it was read.
	ErrConflict = eris.New("store: conflict")
)

// OrderFilter specifies criteria for listing orders.
type OrderFilter struct {
	Status     model.OrderStatus `json:"status,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// AlertFilter specifies criteria for listing standing alerts.
type AlertFilter struct {
	Type     model.AlertType `json:"type,omitempty"`
	OpenOnly bool            `json:"open_only,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// BridgeEvent is an inbound partner status update that has been applied or
// acknowledged. (ExternalJobID, MappedStatus) is unique.
type BridgeEvent struct {
	ExternalJobID  string            `json:"external_job_id"`
	MappedStatus   model.OrderStatus `json:"mapped_status"`
	OrderID        string            `json:"order_id"`
	ProviderStatus string            `json:"provider_status"`
	OccurredAt     time.Time         `json:"occurred_at"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// Store defines the persistence interface for quotes, orders, processed
// bridge events and standing alerts.
type Store interface {
	// Quotes
	SaveQuote(ctx context.Context, q *model.Quote) error
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	// InvalidateQuote marks a quote unusable. It returns ErrConflict when the
	// quote was already invalidated.
	InvalidateQuote(ctx context.Context, id string, at time.Time) error

	// Orders
	CreateOrder(ctx context.Context, o *model.ServiceOrder) error
	GetOrder(ctx context.Context, id string) (*model.ServiceOrder, error)
	GetOrderByExternalJobID(ctx context.Context, externalJobID string) (*model.ServiceOrder, error)
	// UpdateOrder writes o only if the stored status still equals expected.
	UpdateOrder(ctx context.Context, o *model.ServiceOrder, expected model.OrderStatus) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]model.ServiceOrder, error)
	// CountOrdersByStatus counts orders last updated at or after since.
	CountOrdersByStatus(ctx context.Context, since time.Time) (map[model.OrderStatus]int, error)

	// Bridge events
	// RecordBridgeEvent stores ev and reports whether it was new.
	RecordBridgeEvent(ctx context.Context, ev BridgeEvent) (bool, error)

	// Alerts
	CreateAlert(ctx context.Context, a *model.Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
