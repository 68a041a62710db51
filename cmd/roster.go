package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/directory"
	"github.com/sells-group/fabroute/internal/fetcher"
	"github.com/sells-group/fabroute/internal/roster"
	"github.com/sells-group/fabroute/internal/store"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the provider roster",
}

var rosterFlags struct {
	src         string
	sheet       string
	charset     string
	delimiter   string
	dryRun      bool
	fallbackOut string
}

var rosterImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a provider roster (CSV or XLSX) into the directory",
	Long: "Loads a roster from a local path or an http, https or ftp URL, reports rows that could not be parsed, " +
		"and upserts the providers into the postgres directory. --fallback-out also writes them as a fallback YAML file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		opts, err := rosterLoadOptions()
		if err != nil {
			return err
		}

		res, err := roster.Load(ctx, rosterFlags.src, opts)
		if err != nil {
			return eris.Wrap(err, "roster import")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Parsed %s from %s\n", res, rosterFlags.src)
		formatRowErrors(out, res.Skipped)

		if rosterFlags.fallbackOut != "" {
			if err := directory.WriteFallbackFile(rosterFlags.fallbackOut, res.Providers); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote fallback file %s\n", rosterFlags.fallbackOut)
		}
		if rosterFlags.dryRun {
			return nil
		}
		if len(res.Providers) == 0 {
			return eris.New("roster import: no valid providers")
		}

		if err := cfg.Validate("roster"); err != nil {
			return err
		}
		pg, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return err
		}
		defer pg.Close() //nolint:errcheck
		if err := pg.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := roster.Upsert(ctx, pg.Pool(), res.Providers, time.Now())
		if err != nil {
			return err
		}
		zap.L().Info("roster imported", zap.String("src", rosterFlags.src), zap.Int64("rows", n))
		fmt.Fprintf(out, "Upserted %d providers\n", n)
		return nil
	},
}

func rosterLoadOptions() (roster.LoadOptions, error) {
	opts := roster.LoadOptions{
		Sheet: rosterFlags.sheet,
		CSV:   fetcher.CSVOptions{Charset: rosterFlags.charset},
	}
	if d := rosterFlags.delimiter; d != "" {
		if d == `\t` {
			d = "\t"
		}
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return opts, eris.Errorf("delimiter must be a single character, got %q", rosterFlags.delimiter)
		}
		opts.CSV.Delimiter = r
	}
	return opts, nil
}

func formatRowErrors(w io.Writer, rows []roster.RowError) {
	if len(rows) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tID\tERROR")
	for _, r := range rows {
		id := r.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Line, id, r.Err)
	}
	_ = tw.Flush()
}

func init() {
	f := rosterImportCmd.Flags()
	f.StringVar(&rosterFlags.src, "src", "", "roster path or http, https or ftp URL")
	_ = rosterImportCmd.MarkFlagRequired("src")
	f.StringVar(&rosterFlags.sheet, "sheet", "", "XLSX sheet name (default first sheet)")
	f.StringVar(&rosterFlags.charset, "charset", "", "CSV character set, e.g. windows-1252 (default UTF-8)")
	f.StringVar(&rosterFlags.delimiter, "delimiter", "", `CSV field delimiter (default ","; use \t for tab)`)
	f.BoolVar(&rosterFlags.dryRun, "dry-run", false, "parse and report without writing to the directory")
	f.StringVar(&rosterFlags.fallbackOut, "fallback-out", "", "also write the providers to this fallback YAML file")

	rosterCmd.AddCommand(rosterImportCmd)
	rootCmd.AddCommand(rosterCmd)
}
