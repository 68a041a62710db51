package directory

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/pkg/providerdir"
)

// HTTPSource reads providers from the directory API.
type HTTPSource struct {
	client providerdir.Client
}

// NewHTTPSource creates a source over client.
func NewHTTPSource(client providerdir.Client) *HTTPSource {
	return &HTTPSource{client: client}
}

// Providers implements Source.
func (s *HTTPSource) Providers(ctx context.Context, serviceType model.ServiceType) ([]model.Provider, error) {
	recs, err := s.client.ListProviders(ctx, string(serviceType))
	if err != nil {
		return nil, eris.Wrapf(err, "directory: list %s providers", serviceType)
	}
	out := make([]model.Provider, 0, len(recs))
	for _, r := range recs {
		p := fromDirectory(r)
		if !p.Finite() {
			skipNonFinite("directory_api", p.ID)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func fromDirectory(r providerdir.Provider) model.Provider {
	p := model.Provider{
		ID:                 r.ID,
		Name:               r.Name,
		Rating:             r.Rating,
		TotalOrders:        r.TotalOrders,
		SuccessRate:        r.SuccessRate,
		CertificationLevel: r.CertificationLevel,
		Active:             r.Active,
	}
	if r.Latitude != nil && r.Longitude != nil {
		p.Location = &model.Location{Lat: *r.Latitude, Lon: *r.Longitude}
	}
	for _, c := range r.Capabilities {
		mats := make([]model.Material, 0, len(c.Materials))
		for _, m := range c.Materials {
			mats = append(mats, pricing.NormalizeMaterial(m))
		}
		p.Capabilities = append(p.Capabilities, model.ProviderCapability{
			ServiceType:     model.ServiceType(c.ServiceType),
			Materials:       mats,
			MaxDimensions:   model.Dimensions{X: c.MaxDimensions[0], Y: c.MaxDimensions[1], Z: c.MaxDimensions[2]},
			MinDimensions:   model.Dimensions{X: c.MinDimensions[0], Y: c.MinDimensions[1], Z: c.MinDimensions[2]},
			PrecisionMM:     c.PrecisionMM,
			LeadTimeHours:   c.LeadTimeHours,
			CostPerHour:     c.CostPerHour,
			AlwaysAvailable: c.AlwaysAvailable,
		})
	}
	return p
}
