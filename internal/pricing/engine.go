package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/sells-group/fabroute/internal/model"
)

// ValidationError reports the first invalid quote input. No cost is
// computed when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pricing: invalid %s: %s", e.Field, e.Reason)
}

// QuoteInput is the geometry and print parameters of a job to price.
type QuoteInput struct {
	VolumeMM3  float64               `json:"volume_mm3"`
	Parameters model.PrintParameters `json:"parameters"`
}

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
	one      = decimal.NewFromInt(1)
)

// Engine prices jobs against a fixed rate table. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	rates Rates
}

// NewEngine creates an Engine with the given rates.
func NewEngine(rates Rates) *Engine {
	return &Engine{rates: rates}
}

// Rates returns the engine's rate table.
func (e *Engine) Rates() Rates {
	return e.rates
}

// Validate normalizes and checks the inputs. The returned parameters carry
// canonical material and quality keys.
func (e *Engine) Validate(in QuoteInput) (model.PrintParameters, error) {
	p := in.Parameters
	if !finite(in.VolumeMM3) {
		return p, &ValidationError{Field: "volume_mm3", Reason: "must be a finite number"}
	}
	if in.VolumeMM3 <= 0 {
		return p, &ValidationError{Field: "volume_mm3", Reason: "must be positive"}
	}
	p.Material = NormalizeMaterial(string(p.Material))
	if _, ok := e.rates.Materials[p.Material]; !ok {
		return p, &ValidationError{Field: "material", Reason: fmt.Sprintf("unknown material %q", p.Material)}
	}
	p.Quality = NormalizeQuality(string(p.Quality))
	if _, ok := e.rates.Qualities[p.Quality]; !ok {
		return p, &ValidationError{Field: "quality", Reason: fmt.Sprintf("unknown quality %q", p.Quality)}
	}
	if !finite(p.LayerHeightMM) {
		return p, &ValidationError{Field: "layer_height_mm", Reason: "must be a finite number"}
	}
	lh := decimal.NewFromFloat(p.LayerHeightMM)
	if lh.LessThan(MinLayerHeightMM) || lh.GreaterThan(MaxLayerHeightMM) {
		return p, &ValidationError{Field: "layer_height_mm", Reason: fmt.Sprintf("%v outside [%s, %s]", p.LayerHeightMM, MinLayerHeightMM, MaxLayerHeightMM)}
	}
	if !finite(p.InfillPercentage) {
		return p, &ValidationError{Field: "infill_percentage", Reason: "must be a finite number"}
	}
	infill := decimal.NewFromFloat(p.InfillPercentage)
	if infill.LessThan(MinInfill) || infill.GreaterThan(MaxInfill) {
		return p, &ValidationError{Field: "infill_percentage", Reason: fmt.Sprintf("%v outside [%s, %s]", p.InfillPercentage, MinInfill, MaxInfill)}
	}
	if p.Quantity < 1 {
		return p, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return p, nil
}

// CalculateQuote prices a job. The returned quote has no id or timestamps;
// the Book assigns those. Components are computed at full precision and
// each is rounded half-up to cents when reported.
func (e *Engine) CalculateQuote(in QuoteInput) (*model.Quote, error) {
	p, err := e.Validate(in)
	if err != nil {
		return nil, err
	}

	mat := e.rates.Materials[p.Material]
	qual := e.rates.Qualities[p.Quality]
	qty := decimal.NewFromInt(int64(p.Quantity))
	volCM3 := decimal.NewFromFloat(in.VolumeMM3).Div(thousand)
	infill := decimal.NewFromFloat(p.InfillPercentage).Div(hundred)

	materialCost := volCM3.Mul(mat.CostPerCM3).Mul(qty).Mul(infill)
	weight := volCM3.Mul(mat.Density).Mul(infill).Mul(qty)

	minutes := e.printMinutes(volCM3, p, qual)
	machineCost := minutes.Mul(e.rates.MachineRatePerMinute).Mul(qual.Multiplier)

	perPart := e.rates.LaborBasePerPart.Add(qual.FinishingCost)
	if p.Supports {
		perPart = perPart.Add(e.rates.LaborSupportSurcharge)
	}
	laborCost := perPart.Mul(qty).Mul(one.Sub(e.rates.bulkDiscount(p.Quantity)))

	supportCost := decimal.Zero
	if p.Supports {
		supportCost = materialCost.Mul(e.rates.SupportCostFraction)
	}

	b := model.QuoteBreakdown{
		MaterialCost: roundCents(materialCost),
		MachineCost:  roundCents(machineCost),
		LaborCost:    roundCents(laborCost),
		SupportCost:  roundCents(supportCost),
		SetupFee:     roundCents(e.rates.SetupFee),
	}
	b.Subtotal = b.MaterialCost.Add(b.MachineCost).Add(b.LaborCost).Add(b.SupportCost)

	rush := one
	if p.Rush {
		rush = e.rates.RushMultiplier
	}
	b.Total = roundCents(b.Subtotal.Mul(rush).Add(b.SetupFee))
	b.RushSurcharge = b.Total.Sub(b.Subtotal).Sub(b.SetupFee)

	return &model.Quote{
		Currency:             e.rates.Currency,
		Breakdown:            b,
		EstimatedWeightG:     roundCents(weight),
		EstimatedTimeMinutes: int(minutes.Ceil().IntPart()),
		VolumeMM3:            in.VolumeMM3,
		Parameters:           p,
	}, nil
}

// printMinutes returns total machine time including the per-job setup.
func (e *Engine) printMinutes(volCM3 decimal.Decimal, p model.PrintParameters, qual QualityRate) decimal.Decimal {
	layerFactor := e.rates.ReferenceLayerHeight.Div(decimal.NewFromFloat(p.LayerHeightMM))
	perPart := e.rates.BaseMinutesPerCM3.Mul(volCM3).Mul(qual.Multiplier).Mul(layerFactor)
	if p.Supports {
		perPart = perPart.Mul(e.rates.SupportTimeFactor)
	}
	total := perPart
	if p.Quantity > 1 {
		total = perPart.Mul(decimal.NewFromInt(int64(p.Quantity))).Mul(e.rates.ParallelDiscount)
	}
	return total.Add(e.rates.SetupMinutes)
}

// roundCents rounds half away from zero, which is half-up for the
// non-negative amounts priced here. Components are rounded before they are
// summed so the reported subtotal always equals the sum of the reported
// components. The total can therefore differ by a cent from rounding the
// unrounded sum once.
func roundCents(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
