package main

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// parseDims parses "WxDxH" in millimetres.
func parseDims(raw string) (model.Dimensions, error) {
	if raw == "" {
		return model.Dimensions{}, nil
	}
	parts := strings.Split(strings.ToLower(raw), "x")
	if len(parts) != 3 {
		return model.Dimensions{}, eris.Errorf("invalid dimensions %q: want WxDxH", raw)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || f < 0 {
			return model.Dimensions{}, eris.Errorf("invalid dimensions %q", raw)
		}
		v[i] = f
	}
	return model.Dimensions{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseStatus(raw string) (model.OrderStatus, error) {
	s := model.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", eris.Errorf("unknown order status %q", raw)
	}
	return s, nil
}
