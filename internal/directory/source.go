package directory

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/config"
	"github.com/sells-group/fabroute/internal/db"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/pkg/providerdir"
)

// NewSource builds the configured directory source. pool is only used for
// the postgres source and may be nil otherwise.
func NewSource(cfg config.DirectoryConfig, fallback *StaticSource, pool db.Pool) (Source, error) {
	switch cfg.Source {
	case "http":
		timeout := time.Duration(cfg.TimeoutSecs) * time.Second
		client := providerdir.NewClient(cfg.BaseURL, providerdir.WithTimeout(timeout))
		return NewHTTPSource(client), nil
	case "postgres":
		if pool == nil {
			return nil, eris.New("directory: postgres source requires a database pool")
		}
		return NewPostgresSource(pool), nil
	case "static", "":
		return fallback, nil
	default:
		return nil, eris.Errorf("directory: unknown source %q", cfg.Source)
	}
}

// CacheConfigFrom converts the directory settings to a CacheConfig.
func CacheConfigFrom(cfg config.DirectoryConfig) CacheConfig {
	types := make([]model.ServiceType, 0, len(cfg.ServiceTypes))
	for _, s := range cfg.ServiceTypes {
		types = append(types, model.ServiceType(s))
	}
	return CacheConfig{
		ServiceTypes:    types,
		TTL:             time.Duration(cfg.TTLSecs) * time.Second,
		RefreshInterval: time.Duration(cfg.RefreshIntervalSecs) * time.Second,
		Concurrency:     cfg.RefreshConcurrency,
	}
}

