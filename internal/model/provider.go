package model

import "math"

// ServiceType is a fabrication service offered by providers.
type ServiceType string

const (
	Service3DPrinting   ServiceType = "3d_printing"
	ServiceLaserCutting ServiceType = "laser_cutting"
	ServiceCNCMachining ServiceType = "cnc_machining"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// ProviderCapability describes one thing a provider can fabricate.
type ProviderCapability struct {
	ServiceType     ServiceType `json:"service_type" yaml:"service_type"`
	Materials       []Material  `json:"materials" yaml:"materials"`
	MaxDimensions   Dimensions  `json:"max_dimensions" yaml:"max_dimensions"`
	MinDimensions   Dimensions  `json:"min_dimensions" yaml:"min_dimensions"`
	PrecisionMM     float64     `json:"precision_mm" yaml:"precision_mm"`
	LeadTimeHours   float64     `json:"lead_time_hours" yaml:"lead_time_hours"`
	CostPerHour     float64     `json:"cost_per_hour" yaml:"cost_per_hour"`
	AlwaysAvailable bool        `json:"always_available" yaml:"always_available"`
}

// SupportsMaterial reports whether m is in the capability's material list.
func (c ProviderCapability) SupportsMaterial(m Material) bool {
	for _, have := range c.Materials {
		if have == m {
			return true
		}
	}
	return false
}

// Provider is an independent fulfillment entity.
type Provider struct {
	ID                 string               `json:"id" yaml:"id"`
	Name               string               `json:"name" yaml:"name"`
	Location           *Location            `json:"location,omitempty" yaml:"location,omitempty"`
	Capabilities       []ProviderCapability `json:"capabilities" yaml:"capabilities"`
	Rating             float64              `json:"rating" yaml:"rating"`
	TotalOrders        int                  `json:"total_orders" yaml:"total_orders"`
	SuccessRate        float64              `json:"success_rate" yaml:"success_rate"`
	CertificationLevel string               `json:"certification_level,omitempty" yaml:"certification_level,omitempty"`
	Active             bool                 `json:"active" yaml:"active"`
}

// Offers reports whether the provider has at least one capability of st.
func (p Provider) Offers(st ServiceType) bool {
	for _, c := range p.Capabilities {
		if c.ServiceType == st {
			return true
		}
	}
	return false
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Finite reports whether every numeric field of p, including its location
// and capabilities, is a finite number.
func (p Provider) Finite() bool {
	if !finite(p.Rating, p.SuccessRate) {
		return false
	}
	if p.Location != nil && !finite(p.Location.Lat, p.Location.Lon) {
		return false
	}
	for _, c := range p.Capabilities {
		if !finite(c.PrecisionMM, c.LeadTimeHours, c.CostPerHour,
			c.MaxDimensions.X, c.MaxDimensions.Y, c.MaxDimensions.Z,
			c.MinDimensions.X, c.MinDimensions.Y, c.MinDimensions.Z) {
			return false
		}
	}
	return true
}
