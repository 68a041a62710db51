package pricing

import (
	"context"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/pkg/meshmetrics"
)

// MeshSource adapts the mesh analysis client to MetricsSource. Breaker is
// optional; when set, an unhealthy analysis service fails fast.
type MeshSource struct {
	Client  *meshmetrics.Client
	Breaker *resilience.CircuitBreaker
}

// Metrics implements MetricsSource.
func (s MeshSource) Metrics(ctx context.Context, fileRef string) (*model.MeshMetrics, error) {
	var m *meshmetrics.Metrics
	get := func(ctx context.Context) error {
		var err error
		m, err = s.Client.Get(ctx, fileRef)
		return err
	}
	var err error
	if s.Breaker != nil {
		err = s.Breaker.Execute(ctx, get)
	} else {
		err = get(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &model.MeshMetrics{
		VolumeMM3:      m.VolumeMM3,
		SurfaceAreaMM2: m.SurfaceAreaMM2,
		Dimensions: model.Dimensions{
			X: m.BoundingBoxMM[0],
			Y: m.BoundingBoxMM[1],
			Z: m.BoundingBoxMM[2],
		},
		ComplexityScore: m.ComplexityScore,
		IsManifold:      m.IsManifold,
	}, nil
}
