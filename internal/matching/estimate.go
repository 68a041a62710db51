package matching

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/fabroute/internal/model"
)

var materialMultiplier = map[model.Material]float64{
	model.MaterialPLA:   1.0,
	model.MaterialABS:   1.1,
	model.MaterialPETG:  1.15,
	model.MaterialTPU:   1.3,
	model.MaterialNylon: 1.4,
	model.MaterialResin: 1.5,
}

const unknownMaterialMultiplier = 1.25

var qualityMultiplier = map[model.Quality]float64{
	model.QualityDraft:    0.85,
	model.QualityStandard: 1.0,
	model.QualityHigh:     1.25,
	model.QualityUltra:    1.5,
}

var urgencyMultiplier = map[model.Urgency]float64{
	model.UrgencyLow:    0.9,
	model.UrgencyNormal: 1.0,
	model.UrgencyHigh:   1.25,
	model.UrgencyUrgent: 1.5,
}

var hoursPerCM3 = map[model.ServiceType]float64{
	model.Service3DPrinting:   0.05,
	model.ServiceLaserCutting: 0.01,
	model.ServiceCNCMachining: 0.08,
}

const (
	bulkQuantity = 10
	bulkDiscount = 0.10
)

func lookup[K comparable](m map[K]float64, k K, fallback float64) float64 {
	if v, ok := m[k]; ok {
		return v
	}
	return fallback
}

func quantity(req model.Requirements) int {
	if req.Quantity < 1 {
		return 1
	}
	return req.Quantity
}

// EstimateCost prices a job on a provider's capability, rounded to cents.
// ok is false when the inputs overflow to a non-finite cost.
func EstimateCost(c model.ProviderCapability, st model.ServiceType, req model.Requirements) (cost decimal.Decimal, ok bool) {
	volCM3 := req.VolumeMM3 / 1000
	hours := math.Max(1, volCM3*lookup(hoursPerCM3, st, 0.05)) * (1 + req.ComplexityScore/20)

	qty := quantity(req)
	v := c.CostPerHour * hours *
		lookup(materialMultiplier, req.Material, unknownMaterialMultiplier) *
		lookup(qualityMultiplier, req.Quality, 1.0) *
		lookup(urgencyMultiplier, req.Urgency, 1.0) *
		float64(qty)
	if qty > bulkQuantity {
		v *= 1 - bulkDiscount
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v).Round(2), true
}

// WorkloadFunc reports a provider's current load as a fraction in [0, 0.5).
type WorkloadFunc func(providerID string) float64

// SimulatedWorkload derives a stable pseudo-load from the provider id.
func SimulatedWorkload(providerID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(providerID))
	return float64(h.Sum32()%1000) / 2000
}

// maxDeliveryHours caps estimates well inside time.Duration's range.
const maxDeliveryHours = 24 * 365 * 10

// EstimateDelivery projects the completion time from lead time, job
// complexity, quantity and provider workload.
func EstimateDelivery(now time.Time, c model.ProviderCapability, req model.Requirements, workload float64) time.Time {
	complexityFactor := 1 + req.ComplexityScore/10*0.5
	quantityFactor := math.Min(2.0, 1+0.1*float64(quantity(req)-1))
	hours := c.LeadTimeHours * complexityFactor * quantityFactor * (1 + workload)
	if !(hours < maxDeliveryHours) {
		hours = maxDeliveryHours
	}
	return now.Add(time.Duration(hours * float64(time.Hour)))
}
