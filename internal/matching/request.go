package matching

import (
	"fmt"
	"math"

	"github.com/sells-group/fabroute/internal/model"
)

// MaxComplexity is the top of the mesh complexity scale.
const MaxComplexity = 10

// ValidationError reports the first invalid service request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("matching: invalid %s: %s", e.Field, e.Reason)
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Reason: "must be a finite number"}
	}
	if v < 0 {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

// ValidateRequest checks a service request before scoring. A zero quantity
// means one part.
func ValidateRequest(req model.ServiceRequest) error {
	r := req.Requirements
	if r.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	checks := []struct {
		field string
		v     float64
	}{
		{"precision_mm", r.PrecisionMM},
		{"volume_mm3", r.VolumeMM3},
		{"complexity_score", r.ComplexityScore},
		{"dimensions.x", r.Dimensions.X},
		{"dimensions.y", r.Dimensions.Y},
		{"dimensions.z", r.Dimensions.Z},
	}
	for _, c := range checks {
		if err := nonNegative(c.field, c.v); err != nil {
			return err
		}
	}
	if r.ComplexityScore > MaxComplexity {
		return &ValidationError{Field: "complexity_score", Reason: fmt.Sprintf("must be at most %d", MaxComplexity)}
	}
	if loc := req.CustomerLocation; loc != nil {
		if !(loc.Lat >= -90 && loc.Lat <= 90) {
			return &ValidationError{Field: "customer_location.lat", Reason: "must be in [-90, 90]"}
		}
		if !(loc.Lon >= -180 && loc.Lon <= 180) {
			return &ValidationError{Field: "customer_location.lon", Reason: "must be in [-180, 180]"}
		}
	}
	if b := req.Budget; b != nil && b.Max.IsNegative() {
		return &ValidationError{Field: "budget.max", Reason: "must not be negative"}
	}
	return nil
}
