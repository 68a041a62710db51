package model

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDimensionsSorted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   Dimensions
		want [3]float64
	}{
		{Dimensions{X: 1, Y: 2, Z: 3}, [3]float64{1, 2, 3}},
		{Dimensions{X: 3, Y: 2, Z: 1}, [3]float64{1, 2, 3}},
		{Dimensions{X: 200, Y: 10, Z: 50}, [3]float64{10, 50, 200}},
		{Dimensions{X: 5, Y: 5, Z: 1}, [3]float64{1, 5, 5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Sorted())
	}
	assert.True(t, Dimensions{}.IsZero())
	assert.False(t, Dimensions{Z: 1}.IsZero())
}

func TestQuoteUsable(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := &Quote{ExpiresAt: now.Add(time.Hour)}

	assert.True(t, q.Usable(now))
	assert.False(t, q.Usable(now.Add(time.Hour)))

	q.InvalidatedAt = &now
	assert.False(t, q.Usable(now))
}

func TestOrderStatusValid(t *testing.T) {
	t.Parallel()
	for _, s := range AllOrderStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, OrderStatus("LOST").Valid())
	assert.False(t, OrderStatus("pending").Valid())
}

func TestServiceOrderClone(t *testing.T) {
	t.Parallel()
	now := time.Now()
	provider := "p1"
	cost := decimal.NewFromInt(10)
	o := &ServiceOrder{
		ID:            "o1",
		ProviderID:    &provider,
		EstimatedCost: &cost,
		Milestones:    map[OrderStatus]time.Time{OrderPending: now},
	}

	c := o.Clone()
	c.Milestones[OrderRouted] = now
	*c.ProviderID = "p2"

	assert.Len(t, o.Milestones, 1)
	assert.Equal(t, "p1", *o.ProviderID)
	assert.Equal(t, "o1", c.ID)
}

func TestProviderHelpers(t *testing.T) {
	t.Parallel()
	p := Provider{Capabilities: []ProviderCapability{
		{ServiceType: Service3DPrinting, Materials: []Material{MaterialPLA, MaterialPETG}},
	}}

	assert.True(t, p.Offers(Service3DPrinting))
	assert.False(t, p.Offers(ServiceCNCMachining))
	assert.True(t, p.Capabilities[0].SupportsMaterial(MaterialPETG))
	assert.False(t, p.Capabilities[0].SupportsMaterial(MaterialResin))
}

func TestProviderFinite(t *testing.T) {
	t.Parallel()
	p := Provider{
		Rating:       4,
		SuccessRate:  0.9,
		Location:     &Location{Lat: 40.7, Lon: -74},
		Capabilities: []ProviderCapability{{CostPerHour: 10, LeadTimeHours: 24}},
	}
	assert.True(t, p.Finite())

	bad := p
	bad.Rating = math.NaN()
	assert.False(t, bad.Finite())

	bad = p
	bad.Location = &Location{Lat: math.Inf(1)}
	assert.False(t, bad.Finite())

	bad = p
	bad.Capabilities = []ProviderCapability{{CostPerHour: math.NaN()}}
	assert.False(t, bad.Finite())
}
