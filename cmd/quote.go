package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/resilience"
)

var quoteFlags struct {
	volume      float64
	fileRef     string
	material    string
	quality     string
	infill      float64
	layerHeight float64
	supports    bool
	quantity    int
	rush        bool
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a print job and store the quote",
	Long:  "Prices a job from its volume, or from an uploaded file's mesh metrics with --file-ref, and prints the stored quote.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("quote"); err != nil {
			return err
		}
		if quoteFlags.fileRef == "" && quoteFlags.volume <= 0 {
			return eris.New("one of --volume or --file-ref is required")
		}

		st, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		params := model.PrintParameters{
			Material:         model.Material(quoteFlags.material),
			Quality:          model.Quality(quoteFlags.quality),
			InfillPercentage: quoteFlags.infill,
			LayerHeightMM:    quoteFlags.layerHeight,
			Supports:         quoteFlags.supports,
			Quantity:         quoteFlags.quantity,
			Rush:             quoteFlags.rush,
		}

		book := newBook(st, resilience.NewBreakers(resilience.BreakerFromBridge(cfg.Bridge)))
		var q *model.Quote
		if quoteFlags.fileRef != "" {
			q, err = book.CreateFromMetrics(ctx, quoteFlags.fileRef, params)
		} else {
			q, err = book.Create(ctx, pricing.QuoteInput{VolumeMM3: quoteFlags.volume, Parameters: params})
		}
		if err != nil {
			return eris.Wrap(err, "quote")
		}
		return printJSON(cmd.OutOrStdout(), q)
	},
}

func init() {
	f := quoteCmd.Flags()
	f.Float64Var(&quoteFlags.volume, "volume", 0, "part volume in mm³")
	f.StringVar(&quoteFlags.fileRef, "file-ref", "", "uploaded file reference; volume comes from its mesh metrics")
	f.StringVar(&quoteFlags.material, "material", "PLA", "material (PLA, ABS, PETG, TPU, NYLON, RESIN)")
	f.StringVar(&quoteFlags.quality, "quality", "standard", "quality (draft, standard, high, ultra)")
	f.Float64Var(&quoteFlags.infill, "infill", 20, "infill percentage")
	f.Float64Var(&quoteFlags.layerHeight, "layer-height", 0.2, "layer height in mm")
	f.BoolVar(&quoteFlags.supports, "supports", false, "print with supports")
	f.IntVar(&quoteFlags.quantity, "quantity", 1, "number of parts")
	f.BoolVar(&quoteFlags.rush, "rush", false, "rush order")
	rootCmd.AddCommand(quoteCmd)
}
