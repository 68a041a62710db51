package roster

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/db"
	"github.com/sells-group/fabroute/internal/directory"
	"github.com/sells-group/fabroute/internal/fetcher"
	"github.com/sells-group/fabroute/internal/model"
)

// LoadOptions configures Load.
type LoadOptions struct {
	Fetch fetcher.Options
	CSV   fetcher.CSVOptions
	// Sheet selects an XLSX sheet by name; empty means the first sheet.
	Sheet string
}

// Load fetches src (a path or http, https or ftp URL) and parses it. Files
// ending in .xlsx are read as workbooks, everything else as CSV.
func Load(ctx context.Context, src string, opts LoadOptions) (*Result, error) {
	tmp, err := os.MkdirTemp("", "roster-*")
	if err != nil {
		return nil, eris.Wrap(err, "roster: temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	path, err := fetcher.Fetch(ctx, src, tmp, opts.Fetch)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: fetch %s", src)
	}

	var tbl *fetcher.Table
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		tbl, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: opts.Sheet})
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "roster: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		tbl, err = fetcher.ReadCSV(f, opts.CSV)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "roster: read %s", src)
	}

	res, err := Parse(tbl)
	if err != nil {
		return nil, err
	}
	zap.L().Info("roster: parsed", zap.String("src", src), zap.Stringer("result", res))
	return res, nil
}

var providerUpsert = db.UpsertConfig{
	Table: "providers",
	Columns: []string{
		"id", "name", "location", "capabilities", "rating", "total_orders",
		"success_rate", "certification_level", "active", "updated_at",
	},
	ConflictKeys: []string{"id"},
}

// Upsert writes providers into the directory's providers table.
func Upsert(ctx context.Context, pool db.Pool, providers []model.Provider, now time.Time) (int64, error) {
	rows := make([][]any, 0, len(providers))
	for _, p := range providers {
		loc, err := directory.EncodeLocation(p.Location)
		if err != nil {
			return 0, eris.Wrapf(err, "roster: provider %s", p.ID)
		}
		caps, err := json.Marshal(p.Capabilities)
		if err != nil {
			return 0, eris.Wrapf(err, "roster: encode capabilities for %s", p.ID)
		}
		rows = append(rows, []any{
			p.ID, p.Name, loc, json.RawMessage(caps), p.Rating, p.TotalOrders,
			p.SuccessRate, p.CertificationLevel, p.Active, now.UTC(),
		})
	}

	n, err := db.BulkUpsert(ctx, pool, providerUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "roster: upsert providers")
	}
	return n, nil
}
