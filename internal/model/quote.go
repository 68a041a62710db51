package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Material identifies a printable material.
type Material string

const (
	MaterialPLA   Material = "PLA"
	MaterialABS   Material = "ABS"
	MaterialPETG  Material = "PETG"
	MaterialTPU   Material = "TPU"
	MaterialNylon Material = "NYLON"
	MaterialResin Material = "RESIN"
)

// Quality is the requested print quality tier.
type Quality string

const (
	QualityDraft    Quality = "draft"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityUltra    Quality = "ultra"
)

// Dimensions is a bounding box in millimetres.
type Dimensions struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sorted returns the three extents in ascending order so boxes can be
// compared regardless of part orientation.
func (d Dimensions) Sorted() [3]float64 {
	v := [3]float64{d.X, d.Y, d.Z}
	if v[0] > v[1] {
		v[0], v[1] = v[1], v[0]
	}
	if v[1] > v[2] {
		v[1], v[2] = v[2], v[1]
	}
	if v[0] > v[1] {
		v[0], v[1] = v[1], v[0]
	}
	return v
}

// IsZero reports whether no extent is set.
func (d Dimensions) IsZero() bool {
	return d.X == 0 && d.Y == 0 && d.Z == 0
}

// MeshMetrics is the geometry summary produced by the mesh-metrics provider
// for an uploaded file. It is consumed, never computed, here.
type MeshMetrics struct {
	VolumeMM3       float64    `json:"volume_mm3"`
	SurfaceAreaMM2  float64    `json:"surface_area_mm2"`
	Dimensions      Dimensions `json:"dimensions"`
	ComplexityScore float64    `json:"complexity_score"` // 0-10
	IsManifold      bool       `json:"is_manifold"`
}

// PrintParameters are the customer's fabrication choices for a quote.
type PrintParameters struct {
	Material         Material `json:"material"`
	Quality          Quality  `json:"quality"`
	InfillPercentage float64  `json:"infill_percentage"`
	LayerHeightMM    float64  `json:"layer_height_mm"`
	Supports         bool     `json:"supports"`
	Quantity         int      `json:"quantity"`
	Rush             bool     `json:"rush"`
}

// QuoteBreakdown itemises a quote. Every figure is rounded to cents and
// Total == Subtotal + RushSurcharge + SetupFee.
type QuoteBreakdown struct {
	MaterialCost  decimal.Decimal `json:"material_cost"`
	MachineCost   decimal.Decimal `json:"machine_cost"`
	LaborCost     decimal.Decimal `json:"labor_cost"`
	SupportCost   decimal.Decimal `json:"support_cost"`
	SetupFee      decimal.Decimal `json:"setup_fee"`
	RushSurcharge decimal.Decimal `json:"rush_surcharge"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
}

// Quote is a priced, time-bounded offer. It is immutable once created;
// acceptance or expiry makes it unusable.
type Quote struct {
	ID                   string          `json:"id"`
	Currency             string          `json:"currency"`
	Breakdown            QuoteBreakdown  `json:"breakdown"`
	EstimatedWeightG     decimal.Decimal `json:"estimated_weight_g"`
	EstimatedTimeMinutes int             `json:"estimated_time_minutes"`
	VolumeMM3            float64         `json:"volume_mm3"`
	Parameters           PrintParameters `json:"parameters"`
	CreatedAt            time.Time       `json:"created_at"`
	ExpiresAt            time.Time       `json:"expires_at"`
	InvalidatedAt        *time.Time      `json:"invalidated_at,omitempty"`
}

// Usable reports whether the quote can still be accepted at now.
func (q *Quote) Usable(now time.Time) bool {
	return q.InvalidatedAt == nil && now.Before(q.ExpiresAt)
}
