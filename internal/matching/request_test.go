package matching

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fabroute/internal/model"
)

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest(printRequest()))

	zeroQty := printRequest()
	zeroQty.Requirements.Quantity = 0
	assert.NoError(t, ValidateRequest(zeroQty), "zero quantity means one part")

	tests := []struct {
		name   string
		mutate func(*model.ServiceRequest)
		field  string
	}{
		{"negative quantity", func(r *model.ServiceRequest) { r.Requirements.Quantity = -1 }, "quantity"},
		{"NaN precision", func(r *model.ServiceRequest) { r.Requirements.PrecisionMM = math.NaN() }, "precision_mm"},
		{"infinite volume", func(r *model.ServiceRequest) { r.Requirements.VolumeMM3 = math.Inf(1) }, "volume_mm3"},
		{"negative volume", func(r *model.ServiceRequest) { r.Requirements.VolumeMM3 = -1 }, "volume_mm3"},
		{"huge complexity", func(r *model.ServiceRequest) { r.Requirements.ComplexityScore = 1e308 }, "complexity_score"},
		{"NaN dimension", func(r *model.ServiceRequest) { r.Requirements.Dimensions.Y = math.NaN() }, "dimensions.y"},
		{"latitude out of range", func(r *model.ServiceRequest) { r.CustomerLocation = &model.Location{Lat: 91} }, "customer_location.lat"},
		{"NaN longitude", func(r *model.ServiceRequest) { r.CustomerLocation = &model.Location{Lon: math.NaN()} }, "customer_location.lon"},
		{"negative budget", func(r *model.ServiceRequest) {
			r.Budget = &model.Budget{Max: decimal.NewFromInt(-5)}
		}, "budget.max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := printRequest()
			tt.mutate(&req)

			var ve *ValidationError
			require.ErrorAs(t, ValidateRequest(req), &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
