package main

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/fabroute/internal/db"
	"github.com/sells-group/fabroute/internal/matching"
	"github.com/sells-group/fabroute/internal/model"
)

var matchFlags struct {
	serviceType string
	material    string
	quality     string
	quantity    int
	precision   float64
	urgency     string
	dims        string
	volume      float64
	complexity  float64
	lat, lon    float64
	budgetMax   float64
}

// serviceRequest builds the request described by the match flags.
func serviceRequest(cmd *cobra.Command) (model.ServiceRequest, error) {
	dims, err := parseDims(matchFlags.dims)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	req := model.ServiceRequest{
		ServiceType: model.ServiceType(matchFlags.serviceType),
		Requirements: model.Requirements{
			Material:        model.Material(matchFlags.material),
			Quality:         model.Quality(matchFlags.quality),
			Quantity:        matchFlags.quantity,
			PrecisionMM:     matchFlags.precision,
			Urgency:         model.Urgency(matchFlags.urgency),
			Dimensions:      dims,
			VolumeMM3:       matchFlags.volume,
			ComplexityScore: matchFlags.complexity,
		},
	}
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
		req.CustomerLocation = &model.Location{Lat: matchFlags.lat, Lon: matchFlags.lon}
	}
	if math.IsInf(matchFlags.budgetMax, 0) || math.IsNaN(matchFlags.budgetMax) {
		return model.ServiceRequest{}, eris.New("--budget-max must be a finite number")
	}
	if matchFlags.budgetMax > 0 {
		req.Budget = &model.Budget{Max: decimal.NewFromFloat(matchFlags.budgetMax)}
	}
	return req, nil
}

// quoteDefaults clears the requirement fields whose flags were left unset so
// they are taken from the order's quote.
func quoteDefaults(cmd *cobra.Command, req *model.ServiceRequest) {
	f := cmd.Flags()
	if !f.Changed("service") {
		req.ServiceType = ""
	}
	r := &req.Requirements
	if !f.Changed("material") {
		r.Material = ""
	}
	if !f.Changed("quality") {
		r.Quality = ""
	}
	if !f.Changed("quantity") {
		r.Quantity = 0
	}
	if !f.Changed("urgency") {
		r.Urgency = ""
	}
	if !f.Changed("volume") {
		r.VolumeMM3 = 0
	}
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Find and rank providers for a job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("match"); err != nil {
			return err
		}
		req, err := serviceRequest(cmd)
		if err != nil {
			return err
		}
		if err := matching.ValidateRequest(req); err != nil {
			return err
		}

		var pool db.Pool
		if cfg.Directory.Source == "postgres" {
			st, p, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			pool = p
		}

		matcher, _, err := newMatcher(pool)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), matcher.FindProviders(ctx, req))
	},
}

func addMatchFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&matchFlags.serviceType, "service", string(model.Service3DPrinting), "service type (3d_printing, laser_cutting, cnc_machining)")
	f.StringVar(&matchFlags.material, "material", "PLA", "material")
	f.StringVar(&matchFlags.quality, "quality", "standard", "quality")
	f.IntVar(&matchFlags.quantity, "quantity", 1, "number of parts")
	f.Float64Var(&matchFlags.precision, "precision", 0, "required precision in mm (0 means unspecified)")
	f.StringVar(&matchFlags.urgency, "urgency", string(model.UrgencyNormal), "urgency (low, normal, high, urgent)")
	f.StringVar(&matchFlags.dims, "dims", "", "part dimensions WxDxH in mm")
	f.Float64Var(&matchFlags.volume, "volume", 0, "part volume in mm³")
	f.Float64Var(&matchFlags.complexity, "complexity", 1, "complexity score")
	f.Float64Var(&matchFlags.lat, "lat", 0, "customer latitude")
	f.Float64Var(&matchFlags.lon, "lon", 0, "customer longitude")
	f.Float64Var(&matchFlags.budgetMax, "budget-max", 0, "maximum budget")
}

func init() {
	addMatchFlags(matchCmd)
	rootCmd.AddCommand(matchCmd)
}
