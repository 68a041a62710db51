// Package pricing turns geometry and print parameters into deterministic,
// fixed-point quotes and keeps the book of issued quotes.
package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/fabroute/internal/config"
	"github.com/sells-group/fabroute/internal/model"
)

// MaterialRate holds per-material cost (per cm³) and density (g/cm³).
type MaterialRate struct {
	CostPerCM3 decimal.Decimal
	Density    decimal.Decimal
}

// QualityRate holds the time multiplier and per-part finishing cost for a quality tier.
type QualityRate struct {
	Multiplier    decimal.Decimal
	FinishingCost decimal.Decimal
}

// BulkTier is a labor discount applied when quantity reaches MinQuantity.
type BulkTier struct {
	MinQuantity int
	Discount    decimal.Decimal // fraction, 0.10 = 10% off
}

// Rates is the full rate table the engine prices against.
type Rates struct {
	Currency              string
	QuoteTTL              time.Duration
	SetupFee              decimal.Decimal
	SetupMinutes          decimal.Decimal
	MachineRatePerMinute  decimal.Decimal
	BaseMinutesPerCM3     decimal.Decimal
	ReferenceLayerHeight  decimal.Decimal
	LaborBasePerPart      decimal.Decimal
	LaborSupportSurcharge decimal.Decimal
	SupportCostFraction   decimal.Decimal
	SupportTimeFactor     decimal.Decimal
	ParallelDiscount      decimal.Decimal
	RushMultiplier        decimal.Decimal
	BulkTiers             []BulkTier
	Materials             map[model.Material]MaterialRate
	Qualities             map[model.Quality]QualityRate
}

// Layer height and infill bounds accepted by the engine.
var (
	MinLayerHeightMM = decimal.RequireFromString("0.05")
	MaxLayerHeightMM = decimal.RequireFromString("0.8")
	MinInfill        = decimal.NewFromInt(10)
	MaxInfill        = decimal.NewFromInt(100)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultRates returns the default rate table.
func DefaultRates() Rates {
	return Rates{
		Currency:              "USD",
		QuoteTTL:              24 * time.Hour,
		SetupFee:              d("5.00"),
		SetupMinutes:          d("15"),
		MachineRatePerMinute:  d("0.05"),
		BaseMinutesPerCM3:     d("1.5"),
		ReferenceLayerHeight:  d("0.2"),
		LaborBasePerPart:      d("2.00"),
		LaborSupportSurcharge: d("1.50"),
		SupportCostFraction:   d("0.15"),
		SupportTimeFactor:     d("1.2"),
		ParallelDiscount:      d("0.8"),
		RushMultiplier:        d("1.5"),
		BulkTiers: []BulkTier{
			{MinQuantity: 50, Discount: d("0.20")},
			{MinQuantity: 10, Discount: d("0.10")},
		},
		Materials: map[model.Material]MaterialRate{
			model.MaterialPLA:   {CostPerCM3: d("0.05"), Density: d("1.24")},
			model.MaterialABS:   {CostPerCM3: d("0.06"), Density: d("1.04")},
			model.MaterialPETG:  {CostPerCM3: d("0.07"), Density: d("1.27")},
			model.MaterialTPU:   {CostPerCM3: d("0.12"), Density: d("1.21")},
			model.MaterialNylon: {CostPerCM3: d("0.15"), Density: d("1.14")},
			model.MaterialResin: {CostPerCM3: d("0.20"), Density: d("1.10")},
		},
		Qualities: map[model.Quality]QualityRate{
			model.QualityDraft:    {Multiplier: d("0.8"), FinishingCost: d("0")},
			model.QualityStandard: {Multiplier: d("1.0"), FinishingCost: d("1.00")},
			model.QualityHigh:     {Multiplier: d("1.3"), FinishingCost: d("2.50")},
			model.QualityUltra:    {Multiplier: d("1.6"), FinishingCost: d("5.00")},
		},
	}
}

// RatesFromConfig overlays configured values on DefaultRates. Zero values
// keep the default.
func RatesFromConfig(c config.PricingConfig) Rates {
	r := DefaultRates()
	if c.Currency != "" {
		r.Currency = c.Currency
	}
	if c.QuoteTTLHours > 0 {
		r.QuoteTTL = time.Duration(c.QuoteTTLHours) * time.Hour
	}
	set := func(dst *decimal.Decimal, v float64) {
		if v > 0 {
			*dst = decimal.NewFromFloat(v)
		}
	}
	set(&r.SetupFee, c.SetupFee)
	set(&r.SetupMinutes, c.SetupMinutes)
	set(&r.MachineRatePerMinute, c.MachineRatePerMinute)
	set(&r.BaseMinutesPerCM3, c.BaseMinutesPerCM3)
	set(&r.ReferenceLayerHeight, c.ReferenceLayerHeight)
	set(&r.LaborBasePerPart, c.LaborBasePerPart)
	set(&r.LaborSupportSurcharge, c.LaborSupportSurcharge)

	if len(c.Materials) > 0 {
		r.Materials = make(map[model.Material]MaterialRate, len(c.Materials))
		for name, m := range c.Materials {
			r.Materials[NormalizeMaterial(name)] = MaterialRate{
				CostPerCM3: decimal.NewFromFloat(m.CostPerCM3),
				Density:    decimal.NewFromFloat(m.Density),
			}
		}
	}
	if len(c.Qualities) > 0 {
		r.Qualities = make(map[model.Quality]QualityRate, len(c.Qualities))
		for name, q := range c.Qualities {
			r.Qualities[NormalizeQuality(name)] = QualityRate{
				Multiplier:    decimal.NewFromFloat(q.Multiplier),
				FinishingCost: decimal.NewFromFloat(q.FinishingCost),
			}
		}
	}
	return r
}

// NormalizeMaterial maps user input to the canonical material key.
func NormalizeMaterial(s string) model.Material {
	return model.Material(strings.ToUpper(strings.TrimSpace(s)))
}

// NormalizeQuality maps user input to the canonical quality key.
func NormalizeQuality(s string) model.Quality {
	return model.Quality(strings.ToLower(strings.TrimSpace(s)))
}

// bulkDiscount returns the single highest tier discount for qty.
func (r Rates) bulkDiscount(qty int) decimal.Decimal {
	best := decimal.Zero
	for _, t := range r.BulkTiers {
		if qty >= t.MinQuantity && t.Discount.GreaterThan(best) {
			best = t.Discount
		}
	}
	return best
}
