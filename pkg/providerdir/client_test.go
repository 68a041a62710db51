package providerdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListProviders_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/providers", r.URL.Path)
		assert.Equal(t, "3d_printing", r.URL.Query().Get("service_type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"providers":[{"id":"p1","name":"Print Hub","latitude":40.7,"longitude":-74.0,
			"rating":4.8,"total_orders":900,"success_rate":0.97,"active":true,
			"capabilities":[{"service_type":"3d_printing","materials":["PLA","PETG"],
			"max_dimensions_mm":[250,250,300],"min_dimensions_mm":[1,1,1],
			"precision_mm":0.1,"lead_time_hours":48,"cost_per_hour":12.5}]}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	got, err := client.ListProviders(context.Background(), "3d_printing")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	require.NotNil(t, got[0].Latitude)
	assert.InDelta(t, 40.7, *got[0].Latitude, 1e-9)
	require.Len(t, got[0].Capabilities, 1)
	assert.Equal(t, [3]float64{250, 250, 300}, got[0].Capabilities[0].MaxDimensions)
	assert.Equal(t, []string{"PLA", "PETG"}, got[0].Capabilities[0].Materials)
}

func TestListProviders_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`down`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListProviders(context.Background(), "cnc_machining")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestListProviders_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListProviders(context.Background(), "3d_printing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestListProviders_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithTimeout(20*time.Millisecond)).ListProviders(context.Background(), "3d_printing")
	require.Error(t, err)
}
