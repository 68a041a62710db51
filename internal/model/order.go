package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a ServiceOrder lifecycle state.
type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderRouted         OrderStatus = "ROUTED"
	OrderAccepted       OrderStatus = "ACCEPTED"
	OrderRejected       OrderStatus = "REJECTED"
	OrderPrinting       OrderStatus = "PRINTING"
	OrderPostProcessing OrderStatus = "POST_PROCESSING"
	OrderQualityCheck   OrderStatus = "QUALITY_CHECK"
	OrderReady          OrderStatus = "READY"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderFailed         OrderStatus = "FAILED"
)

// AllOrderStatuses lists every state in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderPending, OrderRouted, OrderAccepted, OrderRejected, OrderPrinting,
	OrderPostProcessing, OrderQualityCheck, OrderReady, OrderShipped,
	OrderDelivered, OrderCancelled, OrderFailed,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, known := range AllOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Priority is derived from the request urgency when an order is created.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ServiceOrder is the tracked unit of work from quote acceptance to delivery.
type ServiceOrder struct {
	ID                string                    `json:"id"`
	QuoteID           string                    `json:"quote_id"`
	ProviderID        *string                   `json:"provider_id,omitempty"`
	ServiceType       ServiceType               `json:"service_type"`
	Status            OrderStatus               `json:"status"`
	Milestones        map[OrderStatus]time.Time `json:"milestones"`
	Priority          Priority                  `json:"priority"`
	ProviderNotes     string                    `json:"provider_notes,omitempty"`
	CustomerNotes     string                    `json:"customer_notes,omitempty"`
	ExternalJobID     string                    `json:"external_job_id"`
	EstimatedCost     *decimal.Decimal          `json:"estimated_cost,omitempty"`
	EstimatedDelivery *time.Time                `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (o *ServiceOrder) Clone() *ServiceOrder {
	c := *o
	c.Milestones = make(map[OrderStatus]time.Time, len(o.Milestones))
	for k, v := range o.Milestones {
		c.Milestones[k] = v
	}
	if o.ProviderID != nil {
		p := *o.ProviderID
		c.ProviderID = &p
	}
	if o.EstimatedCost != nil {
		e := *o.EstimatedCost
		c.EstimatedCost = &e
	}
	if o.EstimatedDelivery != nil {
		d := *o.EstimatedDelivery
		c.EstimatedDelivery = &d
	}
	return &c
}

// AlertType identifies a standing alert.
type AlertType string

const (
	AlertBridgeDeliveryFailed AlertType = "bridge_delivery_failed"
)

// Alert is a standing operational alert that stays open until resolved.
type Alert struct {
	ID            string     `json:"id"`
	Type          AlertType  `json:"type"`
	Severity      string     `json:"severity"`
	OrderID       string     `json:"order_id,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Message       string     `json:"message"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
