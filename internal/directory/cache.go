// Package directory keeps an in-memory, TTL-refreshed snapshot of the
// provider directory and the sources it is loaded from.
package directory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/fabroute/internal/model"
)

// Source loads the providers offering a service type.
type Source interface {
	Providers(ctx context.Context, serviceType model.ServiceType) ([]model.Provider, error)
}

// snapshot is immutable once published.
type snapshot struct {
	byService map[model.ServiceType][]model.Provider
	loadedAt  time.Time
}

// CacheConfig tunes a Cache.
type CacheConfig struct {
	ServiceTypes    []model.ServiceType
	TTL             time.Duration
	RefreshInterval time.Duration
	Concurrency     int
}

// Cache serves provider lists from an atomically swapped snapshot. Readers
// never block on a refresh unless no fresh snapshot exists, in which case
// concurrent callers share a single load.
type Cache struct {
	src   Source
	cfg   CacheConfig
	snap  atomic.Pointer[snapshot]
	group singleflight.Group
	now   func() time.Time
	log   *zap.Logger
}

// NewCache creates a Cache over src. Nothing is loaded until the first read
// or Refresh.
func NewCache(src Source, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if len(cfg.ServiceTypes) == 0 {
		cfg.ServiceTypes = []model.ServiceType{model.Service3DPrinting, model.ServiceLaserCutting, model.ServiceCNCMachining}
	}
	return &Cache{
		src: src,
		cfg: cfg,
		now: time.Now,
		log: zap.L().With(zap.String("component", "capability_cache")),
	}
}

// Providers returns the cached providers for serviceType, loading the
// directory first if the snapshot is missing or older than the TTL.
// Service types outside the configured set yield an empty list.
func (c *Cache) Providers(ctx context.Context, serviceType model.ServiceType) ([]model.Provider, error) {
	s := c.snap.Load()
	if s == nil || c.now().Sub(s.loadedAt) >= c.cfg.TTL {
		var err error
		if s, err = c.load(ctx); err != nil {
			return nil, err
		}
	}
	return s.byService[serviceType], nil
}

// Refresh reloads every configured service type and publishes a new
// snapshot. On failure the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.load(ctx)
	return err
}

// LoadedAt reports when the current snapshot was built. Zero if none.
func (c *Cache) LoadedAt() time.Time {
	if s := c.snap.Load(); s != nil {
		return s.loadedAt
	}
	return time.Time{}
}

// Run refreshes the snapshot on every tick until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	c.log.Info("capability cache refresher started", zap.Duration("interval", c.cfg.RefreshInterval))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("capability cache refresher stopped")
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("capability cache refresh failed", zap.Error(err))
			}
		}
	}
}

func (c *Cache) load(ctx context.Context) (*snapshot, error) {
	ch := c.group.DoChan("load", func() (any, error) {
		// The shared load outlives any single caller's cancellation.
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "directory: waiting for load")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	}
}

func (c *Cache) fetch(ctx context.Context) (*snapshot, error) {
	results := make([][]model.Provider, len(c.cfg.ServiceTypes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, st := range c.cfg.ServiceTypes {
		g.Go(func() error {
			providers, err := c.src.Providers(gctx, st)
			if err != nil {
				return eris.Wrapf(err, "directory: load %s providers", st)
			}
			results[i] = providers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &snapshot{
		byService: make(map[model.ServiceType][]model.Provider, len(results)),
		loadedAt:  c.now(),
	}
	total := 0
	for i, st := range c.cfg.ServiceTypes {
		s.byService[st] = results[i]
		total += len(results[i])
	}
	c.snap.Store(s)
	c.log.Debug("capability cache loaded", zap.Int("providers", total))
	return s, nil
}
