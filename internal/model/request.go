package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Urgency is how quickly the customer needs the job.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Requirements are the job constraints a provider must satisfy.
type Requirements struct {
	Material        Material   `json:"material"`
	Quality         Quality    `json:"quality"`
	Quantity        int        `json:"quantity"`
	PrecisionMM     float64    `json:"precision_mm"`
	Urgency         Urgency    `json:"urgency"`
	Dimensions      Dimensions `json:"dimensions"`
	VolumeMM3       float64    `json:"volume_mm3"`
	ComplexityScore float64    `json:"complexity_score"`
}

// Budget is an optional customer price range.
type Budget struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// ServiceRequest asks the matching engine for providers able to run a job.
type ServiceRequest struct {
	ServiceType      ServiceType  `json:"service_type"`
	Requirements     Requirements `json:"requirements"`
	Budget           *Budget      `json:"budget,omitempty"`
	CustomerLocation *Location    `json:"customer_location,omitempty"`
}

// ProviderMatch is a scored candidate provider for a request. It is derived
// data and only persisted through the order it is routed to.
type ProviderMatch struct {
	ProviderID         string          `json:"provider_id"`
	ProviderName       string          `json:"provider_name"`
	CompatibilityScore float64         `json:"compatibility_score"`
	CapabilityScore    float64         `json:"capability_score"`
	EstimatedCost      decimal.Decimal `json:"estimated_cost"`
	EstimatedDelivery  time.Time       `json:"estimated_delivery"`
	Reasons            []string        `json:"reasons"`
	Constraints        []string        `json:"constraints"`
}

// MatchResult is the outcome of a provider search. An empty Matches list
// always comes with Alternatives.
type MatchResult struct {
	Matches      []ProviderMatch `json:"matches"`
	Alternatives []string        `json:"alternatives"`
	Degraded     bool            `json:"degraded"`
}
