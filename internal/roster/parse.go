// Package roster imports provider rosters from CSV or XLSX files into the
// provider directory.
package roster

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/fetcher"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/pricing"
)

// Roster columns. One row describes one capability; rows sharing an id are
// merged into one provider, whose fields are taken from its first row.
const (
	colID              = "id"
	colName            = "name"
	colLat             = "lat"
	colLon             = "lon"
	colServiceType     = "service_type"
	colMaterials       = "materials"
	colMaxDimensions   = "max_dimensions_mm"
	colMinDimensions   = "min_dimensions_mm"
	colPrecision       = "precision_mm"
	colLeadTime        = "lead_time_hours"
	colCostPerHour     = "cost_per_hour"
	colAlwaysAvailable = "always_available"
	colRating          = "rating"
	colTotalOrders     = "total_orders"
	colSuccessRate     = "success_rate"
	colCertification   = "certification_level"
	colActive          = "active"
)

var requiredColumns = []string{colID, colName, colServiceType}

var serviceTypes = []model.ServiceType{
	model.Service3DPrinting, model.ServiceLaserCutting, model.ServiceCNCMachining,
}

// RowError is a roster row that could not be imported.
type RowError struct {
	Line int    `json:"line"`
	ID   string `json:"id,omitempty"`
	Err  string `json:"error"`
}

// Result is a parsed roster.
type Result struct {
	Providers []model.Provider `json:"providers"`
	Skipped   []RowError       `json:"skipped,omitempty"`
}

// Parse converts a roster table into providers. Invalid rows are skipped and
// reported; a missing required column fails the whole roster.
func Parse(tbl *fetcher.Table) (*Result, error) {
	var missing []string
	for _, col := range requiredColumns {
		if !tbl.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("roster: missing required columns: %s", strings.Join(missing, ", "))
	}

	res := &Result{}
	byID := make(map[string]int)
	for i, row := range tbl.Rows {
		// Line numbers count the header as line 1.
		line := i + 2
		id := tbl.Get(row, colID)
		pc, err := parseCapability(tbl, row)
		if err == nil && id == "" {
			err = eris.New("empty id")
		}
		if err != nil {
			res.Skipped = append(res.Skipped, RowError{Line: line, ID: id, Err: err.Error()})
			continue
		}

		if idx, seen := byID[id]; seen {
			res.Providers[idx].Capabilities = append(res.Providers[idx].Capabilities, pc)
			continue
		}
		p, err := parseProvider(tbl, row)
		if err != nil {
			res.Skipped = append(res.Skipped, RowError{Line: line, ID: id, Err: err.Error()})
			continue
		}
		p.Capabilities = []model.ProviderCapability{pc}
		byID[id] = len(res.Providers)
		res.Providers = append(res.Providers, p)
	}
	return res, nil
}

func parseProvider(tbl *fetcher.Table, row []string) (model.Provider, error) {
	p := model.Provider{
		ID:                 tbl.Get(row, colID),
		Name:               tbl.Get(row, colName),
		CertificationLevel: tbl.Get(row, colCertification),
		Active:             true,
	}
	if p.Name == "" {
		return p, eris.New("empty name")
	}

	var err error
	if p.Rating, err = floatField(tbl, row, colRating, 0); err != nil {
		return p, err
	}
	if p.Rating < 0 || p.Rating > 5 {
		return p, eris.Errorf("rating %.2f outside 0-5", p.Rating)
	}
	if p.SuccessRate, err = floatField(tbl, row, colSuccessRate, 0); err != nil {
		return p, err
	}
	if p.SuccessRate < 0 || p.SuccessRate > 1 {
		return p, eris.Errorf("success_rate %.2f outside 0-1", p.SuccessRate)
	}
	orders, err := floatField(tbl, row, colTotalOrders, 0)
	if err != nil {
		return p, err
	}
	p.TotalOrders = int(orders)
	if p.Active, err = boolField(tbl, row, colActive, true); err != nil {
		return p, err
	}

	latRaw, lonRaw := tbl.Get(row, colLat), tbl.Get(row, colLon)
	if latRaw != "" || lonRaw != "" {
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return p, eris.Errorf("invalid lat %q", latRaw)
		}
		lon, err := strconv.ParseFloat(lonRaw, 64)
		if err != nil {
			return p, eris.Errorf("invalid lon %q", lonRaw)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return p, eris.Errorf("location %.4f,%.4f out of range", lat, lon)
		}
		p.Location = &model.Location{Lat: lat, Lon: lon}
	}
	return p, nil
}

func parseCapability(tbl *fetcher.Table, row []string) (model.ProviderCapability, error) {
	c := model.ProviderCapability{
		ServiceType: model.ServiceType(strings.ToLower(tbl.Get(row, colServiceType))),
	}
	if !slices.Contains(serviceTypes, c.ServiceType) {
		return c, eris.Errorf("unknown service_type %q", c.ServiceType)
	}

	for _, m := range strings.FieldsFunc(tbl.Get(row, colMaterials), listSep) {
		c.Materials = append(c.Materials, pricing.NormalizeMaterial(m))
	}

	var err error
	if c.MaxDimensions, err = dimensionsField(tbl, row, colMaxDimensions); err != nil {
		return c, err
	}
	if c.MinDimensions, err = dimensionsField(tbl, row, colMinDimensions); err != nil {
		return c, err
	}
	if c.PrecisionMM, err = floatField(tbl, row, colPrecision, 0); err != nil {
		return c, err
	}
	if c.LeadTimeHours, err = floatField(tbl, row, colLeadTime, 0); err != nil {
		return c, err
	}
	if c.CostPerHour, err = floatField(tbl, row, colCostPerHour, 0); err != nil {
		return c, err
	}
	if c.AlwaysAvailable, err = boolField(tbl, row, colAlwaysAvailable, false); err != nil {
		return c, err
	}
	return c, nil
}

func listSep(r rune) bool {
	return r == '|' || r == ';' || r == ',' || r == ' '
}

func floatField(tbl *fetcher.Table, row []string, col string, def float64) (float64, error) {
	raw := tbl.Get(row, col)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(raw, "$"), 64)
	if err != nil {
		return 0, eris.Errorf("invalid %s %q", col, raw)
	}
	if v < 0 {
		return 0, eris.Errorf("negative %s %q", col, raw)
	}
	return v, nil
}

func boolField(tbl *fetcher.Table, row []string, col string, def bool) (bool, error) {
	switch strings.ToLower(tbl.Get(row, col)) {
	case "":
		return def, nil
	case "y", "yes", "true", "1", "t":
		return true, nil
	case "n", "no", "false", "0", "f":
		return false, nil
	default:
		return false, eris.Errorf("invalid %s %q", col, tbl.Get(row, col))
	}
}

// dimensionsField parses "300x300x400" (also "300 x 300 x 400" or
// "300*300*400") in millimetres.
func dimensionsField(tbl *fetcher.Table, row []string, col string) (model.Dimensions, error) {
	raw := strings.ToLower(tbl.Get(row, col))
	if raw == "" {
		return model.Dimensions{}, nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == 'x' || r == '*' || r == ' ' })
	if len(parts) != 3 {
		return model.Dimensions{}, eris.Errorf("invalid %s %q: want WxDxH", col, raw)
	}
	var v [3]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f < 0 {
			return model.Dimensions{}, eris.Errorf("invalid %s %q", col, raw)
		}
		v[i] = f
	}
	return model.Dimensions{X: v[0], Y: v[1], Z: v[2]}, nil
}

// String summarises the result for logs and CLI output.
func (r *Result) String() string {
	caps := 0
	for _, p := range r.Providers {
		caps += len(p.Capabilities)
	}
	return fmt.Sprintf("%d providers, %d capabilities, %d rows skipped", len(r.Providers), caps, len(r.Skipped))
}
