package matching

import (
	"math"

	"github.com/sells-group/fabroute/internal/model"
)

// Capability score points.
const (
	pointsMaterial  = 30
	pointsFitsMax   = 25
	pointsExceedMin = 15
	pointsPrecision = 20
	pointsLeadTime  = 10
)

// UrgencySLA returns the lead-time budget in hours for an urgency level.
// Unknown or empty urgency is treated as normal.
func UrgencySLA(u model.Urgency) float64 {
	switch u {
	case model.UrgencyLow:
		return 168
	case model.UrgencyHigh:
		return 24
	case model.UrgencyUrgent:
		return 12
	default:
		return 72
	}
}

func fitsWithin(job, limit model.Dimensions) bool {
	j, l := job.Sorted(), limit.Sorted()
	return j[0] <= l[0] && j[1] <= l[1] && j[2] <= l[2]
}

func exceeds(job, limit model.Dimensions) bool {
	j, l := job.Sorted(), limit.Sorted()
	return j[0] >= l[0] && j[1] >= l[1] && j[2] >= l[2]
}

// precisionMet treats an unspecified precision as no requirement.
func precisionMet(c model.ProviderCapability, req model.Requirements) bool {
	return req.PrecisionMM <= 0 || c.PrecisionMM <= req.PrecisionMM
}

// CapabilityScore scores one capability against the job requirements. The
// result is in [0, 100].
func CapabilityScore(c model.ProviderCapability, req model.Requirements) float64 {
	score := 0.0
	if c.SupportsMaterial(req.Material) {
		score += pointsMaterial
	}
	if fitsWithin(req.Dimensions, c.MaxDimensions) {
		score += pointsFitsMax
	}
	if exceeds(req.Dimensions, c.MinDimensions) {
		score += pointsExceedMin
	}
	if precisionMet(c, req) {
		score += pointsPrecision
	}
	if c.LeadTimeHours <= UrgencySLA(req.Urgency) {
		score += pointsLeadTime
	}
	return math.Min(score, 100)
}

// bestCapability picks the provider's capability of serviceType with the
// highest score. ok is false when the provider has none.
func bestCapability(p model.Provider, req model.ServiceRequest) (best model.ProviderCapability, score float64, ok bool) {
	for _, c := range p.Capabilities {
		if c.ServiceType != req.ServiceType {
			continue
		}
		s := CapabilityScore(c, req.Requirements)
		if !ok || s > score {
			best, score, ok = c, s, true
		}
	}
	return best, score, ok
}

// ReputationScore maps a 0-5 rating to 0-100.
func ReputationScore(rating float64) float64 { return rating / 5 * 100 }

// ExperienceScore gives one point per ten completed orders, up to 100.
func ExperienceScore(totalOrders int) float64 {
	return math.Min(100, float64(totalOrders)/10)
}

// SuccessRateScore maps a 0-1 success rate to 0-100.
func SuccessRateScore(rate float64) float64 { return rate * 100 }

// ProximityScore bands the great-circle distance between provider and
// customer. Missing coordinates on either side score 50.
func ProximityScore(provider, customer *model.Location) float64 {
	if provider == nil || customer == nil {
		return 50
	}
	km := DistanceKM(*provider, *customer)
	switch {
	case km < 10:
		return 100
	case km < 50:
		return 80
	case km < 200:
		return 60
	case km < 500:
		return 40
	default:
		return 20
	}
}

const earthRadiusKM = 6371.0

// DistanceKM is the haversine distance between two points.
func DistanceKM(a, b model.Location) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// clamp bounds v to [0, 100]. NaN counts as 0.
func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// subScores are the weighted inputs to the compatibility score.
type subScores struct {
	capability  float64
	reputation  float64
	experience  float64
	successRate float64
	proximity   float64
}

// compatibility clamps each sub-score to [0, 100] before weighting.
func (w Weights) compatibility(s subScores) float64 {
	total := w.Capability*clamp(s.capability) +
		w.Reputation*clamp(s.reputation) +
		w.Experience*clamp(s.experience) +
		w.SuccessRate*clamp(s.successRate) +
		w.Proximity*clamp(s.proximity)
	return clamp(total)
}
