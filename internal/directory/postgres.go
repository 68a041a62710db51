package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/db"
	"github.com/sells-group/fabroute/internal/model"
)

// PostgresSource reads providers from the providers table.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource creates a source over pool.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const providersByServiceSQL = `
SELECT id, name, location, capabilities, rating, total_orders, success_rate, certification_level, active
FROM providers
WHERE active AND capabilities @> $1::jsonb
ORDER BY id`

// Providers implements Source.
func (s *PostgresSource) Providers(ctx context.Context, serviceType model.ServiceType) ([]model.Provider, error) {
	filter := fmt.Sprintf(`[{"service_type":%q}]`, serviceType)

	rows, err := s.pool.Query(ctx, providersByServiceSQL, filter)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var (
			p        model.Provider
			location []byte
			caps     []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &location, &caps, &p.Rating, &p.TotalOrders,
			&p.SuccessRate, &p.CertificationLevel, &p.Active); err != nil {
			return nil, eris.Wrap(err, "directory: scan provider")
		}
		if err := json.Unmarshal(caps, &p.Capabilities); err != nil {
			return nil, eris.Wrapf(err, "directory: decode capabilities of %s", p.ID)
		}
		if p.Location, err = DecodeLocation(location); err != nil {
			return nil, eris.Wrapf(err, "directory: decode location of %s", p.ID)
		}
		if !p.Finite() {
			skipNonFinite("postgres", p.ID)
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "directory: iterate providers")
	}
	return out, nil
}

// EncodeLocation converts a location to an EWKB point with SRID 4326.
// Returns nil, nil for a nil location.
func EncodeLocation(loc *model.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	g := geom.NewPointFlat(geom.XY, []float64{loc.Lon, loc.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "directory: encode location")
	}
	return data, nil
}

// DecodeLocation is the inverse of EncodeLocation. Empty input yields nil.
func DecodeLocation(data []byte) (*model.Location, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "directory: decode location")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("directory: location is %T, want point", g)
	}
	return &model.Location{Lat: pt.Y(), Lon: pt.X()}, nil
}

// skipNonFinite logs a provider record dropped for carrying NaN or
// infinite numbers.
func skipNonFinite(source, providerID string) {
	zap.L().Warn("skipping provider with non-finite fields",
		zap.String("component", "directory"),
		zap.String("source", source),
		zap.String("provider_id", providerID),
	)
}
