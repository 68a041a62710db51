package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/pkg/meshmetrics"
)

func TestMeshSource_Metrics(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"volume_mm3":15000,"bounding_box_mm":[30,20,25],"complexity_score":2,"is_manifold":true}`))
	}))
	defer srv.Close()

	src := MeshSource{Client: meshmetrics.NewClient(srv.URL, 0)}
	m, err := src.Metrics(context.Background(), "f1")
	require.NoError(t, err)
	assert.InDelta(t, 15000, m.VolumeMM3, 1e-9)
	assert.InDelta(t, 25, m.Dimensions.Z, 1e-9)
	assert.True(t, m.IsManifold)
}

func TestMeshSource_BreakerOpensOnOutage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := MeshSource{
		Client:  meshmetrics.NewClient(srv.URL, 0),
		Breaker: resilience.NewCircuitBreaker("mesh", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
	}
	ctx := context.Background()
	for range 2 {
		_, err := src.Metrics(ctx, "f1")
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err))
	}

	_, err := src.Metrics(ctx, "f1")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMeshSource_NotFoundDoesNotTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("mesh", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	src := MeshSource{Client: meshmetrics.NewClient(srv.URL, 0), Breaker: cb}
	_, err := src.Metrics(context.Background(), "missing")
	require.ErrorIs(t, err, meshmetrics.ErrNotFound)
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}
