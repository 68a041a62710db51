package directory

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fabroute/internal/model"
)

// StaticSource serves a fixed provider list. It backs the "static"
// directory mode and the degraded fallback used when the directory is
// unreachable.
type StaticSource struct {
	providers []model.Provider
}

// NewStaticSource creates a source over providers.
func NewStaticSource(providers []model.Provider) *StaticSource {
	return &StaticSource{providers: providers}
}

// Providers implements Source.
func (s *StaticSource) Providers(_ context.Context, serviceType model.ServiceType) ([]model.Provider, error) {
	return s.ForService(serviceType), nil
}

// ForService returns the providers offering serviceType.
func (s *StaticSource) ForService(serviceType model.ServiceType) []model.Provider {
	var out []model.Provider
	for _, p := range s.providers {
		if p.Offers(serviceType) {
			out = append(out, p)
		}
	}
	return out
}

// All returns every provider in the set.
func (s *StaticSource) All() []model.Provider {
	return s.providers
}

type fallbackFile struct {
	Providers []model.Provider `yaml:"providers"`
}

// LoadFallbackFile reads a YAML provider list. An empty path returns the
// built-in set.
func LoadFallbackFile(path string) (*StaticSource, error) {
	if path == "" {
		return NewStaticSource(DefaultProviders()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: read fallback file %s", path)
	}
	var f fallbackFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "directory: parse fallback file %s", path)
	}
	if len(f.Providers) == 0 {
		return nil, eris.Errorf("directory: fallback file %s lists no providers", path)
	}
	for _, p := range f.Providers {
		if !p.Finite() {
			return nil, eris.Errorf("directory: fallback file %s: provider %q has a non-finite number", path, p.ID)
		}
	}
	return NewStaticSource(f.Providers), nil
}

// WriteFallbackFile writes providers in the format LoadFallbackFile reads.
func WriteFallbackFile(path string, providers []model.Provider) error {
	data, err := yaml.Marshal(fallbackFile{Providers: providers})
	if err != nil {
		return eris.Wrap(err, "directory: encode fallback file")
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "directory: write fallback file %s", path)
}

// DefaultProviders is the built-in fallback network.
func DefaultProviders() []model.Provider {
	return []model.Provider{
		{
			ID:                 "fallback-print-east",
			Name:               "Eastern Print Works",
			Location:           &model.Location{Lat: 40.7128, Lon: -74.0060},
			Rating:             4.6,
			TotalOrders:        1200,
			SuccessRate:        0.96,
			CertificationLevel: "ISO9001",
			Active:             true,
			Capabilities: []model.ProviderCapability{{
				ServiceType:   model.Service3DPrinting,
				Materials:     []model.Material{model.MaterialPLA, model.MaterialABS, model.MaterialPETG, model.MaterialTPU},
				MaxDimensions: model.Dimensions{X: 300, Y: 300, Z: 400},
				MinDimensions: model.Dimensions{X: 1, Y: 1, Z: 1},
				PrecisionMM:   0.1,
				LeadTimeHours: 48,
				CostPerHour:   15,
			}},
		},
		{
			ID:          "fallback-print-west",
			Name:        "Pacific Additive",
			Location:    &model.Location{Lat: 37.7749, Lon: -122.4194},
			Rating:      4.3,
			TotalOrders: 450,
			SuccessRate: 0.93,
			Active:      true,
			Capabilities: []model.ProviderCapability{{
				ServiceType:     model.Service3DPrinting,
				Materials:       []model.Material{model.MaterialPLA, model.MaterialNylon, model.MaterialResin},
				MaxDimensions:   model.Dimensions{X: 250, Y: 250, Z: 250},
				MinDimensions:   model.Dimensions{X: 0.5, Y: 0.5, Z: 0.5},
				PrecisionMM:     0.05,
				LeadTimeHours:   72,
				CostPerHour:     18,
				AlwaysAvailable: true,
			}},
		},
		{
			ID:                 "fallback-laser-central",
			Name:               "Midwest Laser Co",
			Location:           &model.Location{Lat: 41.8781, Lon: -87.6298},
			Rating:             4.4,
			TotalOrders:        800,
			SuccessRate:        0.95,
			CertificationLevel: "ISO9001",
			Active:             true,
			Capabilities: []model.ProviderCapability{{
				ServiceType:   model.ServiceLaserCutting,
				Materials:     []model.Material{model.MaterialABS, model.MaterialPETG},
				MaxDimensions: model.Dimensions{X: 1200, Y: 600, Z: 20},
				MinDimensions: model.Dimensions{X: 2, Y: 2, Z: 0.5},
				PrecisionMM:   0.1,
				LeadTimeHours: 24,
				CostPerHour:   25,
			}},
		},
		{
			ID:                 "fallback-cnc-south",
			Name:               "Gulf Precision Machining",
			Location:           &model.Location{Lat: 29.7604, Lon: -95.3698},
			Rating:             4.7,
			TotalOrders:        650,
			SuccessRate:        0.97,
			CertificationLevel: "AS9100",
			Active:             true,
			Capabilities: []model.ProviderCapability{{
				ServiceType:   model.ServiceCNCMachining,
				Materials:     []model.Material{model.MaterialABS, model.MaterialNylon},
				MaxDimensions: model.Dimensions{X: 500, Y: 400, Z: 300},
				MinDimensions: model.Dimensions{X: 5, Y: 5, Z: 2},
				PrecisionMM:   0.02,
				LeadTimeHours: 96,
				CostPerHour:   45,
			}},
		},
	}
}
