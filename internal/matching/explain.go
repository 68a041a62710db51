package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sells-group/fabroute/internal/model"
)

const (
	nearbyKM       = 50
	nearSizeLimit  = 0.9
	topRating      = 4.5
	topSuccessRate = 0.95
	veteranOrders  = 500
)

func reasons(p model.Provider, c model.ProviderCapability, req model.ServiceRequest) []string {
	out := []string{}
	if p.Rating >= topRating {
		out = append(out, fmt.Sprintf("Highly rated (%.1f/5)", p.Rating))
	}
	if p.CertificationLevel != "" {
		out = append(out, "Certified: "+p.CertificationLevel)
	}
	if c.SupportsMaterial(req.Requirements.Material) {
		out = append(out, fmt.Sprintf("Supports %s", req.Requirements.Material))
	}
	if p.SuccessRate >= topSuccessRate {
		out = append(out, fmt.Sprintf("%.0f%% success rate", p.SuccessRate*100))
	}
	if p.TotalOrders >= veteranOrders {
		out = append(out, fmt.Sprintf("Experienced: %d completed orders", p.TotalOrders))
	}
	if p.Location != nil && req.CustomerLocation != nil {
		if km := DistanceKM(*p.Location, *req.CustomerLocation); km < nearbyKM {
			out = append(out, fmt.Sprintf("Nearby (%.0f km)", km))
		}
	}
	return out
}

func constraints(p model.Provider, c model.ProviderCapability, req model.ServiceRequest, cost decimal.Decimal) []string {
	out := []string{}
	r := req.Requirements

	job, limit := r.Dimensions.Sorted(), c.MaxDimensions.Sorted()
	for i := range job {
		if limit[i] > 0 && job[i] > nearSizeLimit*limit[i] {
			out = append(out, "Near size limit")
			break
		}
	}
	if !precisionMet(c, r) {
		out = append(out, fmt.Sprintf("Lower precision than requested (%.2f mm vs %.2f mm)", c.PrecisionMM, r.PrecisionMM))
	}
	if sla := UrgencySLA(r.Urgency); c.LeadTimeHours > sla {
		out = append(out, fmt.Sprintf("Lead time %.0fh exceeds %.0fh target", c.LeadTimeHours, sla))
	}
	if !c.AlwaysAvailable {
		out = append(out, "Limited hours")
	}
	if req.Budget != nil && req.Budget.Max.IsPositive() && cost.GreaterThan(req.Budget.Max) {
		out = append(out, fmt.Sprintf("Over budget (%s > %s)", cost.StringFixed(2), req.Budget.Max.StringFixed(2)))
	}
	return out
}

var alternativesByService = map[model.ServiceType][]string{
	model.Service3DPrinting: {
		"Consider a more common material such as PLA or PETG",
		"Relax delivery urgency to widen the provider pool",
		"Split large parts into smaller printable sections",
		"Loosen the precision requirement if the part allows it",
	},
	model.ServiceLaserCutting: {
		"Check that sheet thickness is within common cutting limits",
		"Relax delivery urgency to widen the provider pool",
		"Consider a standard sheet size for the part",
	},
	model.ServiceCNCMachining: {
		"Consider a more machinable material",
		"Relax tolerances where the design allows",
		"Relax delivery urgency to widen the provider pool",
	},
}

var genericAlternatives = []string{
	"Relax delivery urgency to widen the provider pool",
	"Adjust material or size requirements",
	"Contact support for a custom sourcing request",
}

// Alternatives returns suggestions for widening a search. Never empty.
func Alternatives(st model.ServiceType) []string {
	alts, ok := alternativesByService[st]
	if !ok {
		alts = genericAlternatives
	}
	return append([]string(nil), alts...)
}
