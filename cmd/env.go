package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/bridge"
	"github.com/sells-group/fabroute/internal/db"
	"github.com/sells-group/fabroute/internal/directory"
	"github.com/sells-group/fabroute/internal/events"
	"github.com/sells-group/fabroute/internal/matching"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/outbox"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/internal/store"
	"github.com/sells-group/fabroute/pkg/meshmetrics"
	"github.com/sells-group/fabroute/pkg/partner"
)

// appEnv holds the components needed by the serve and order commands.
type appEnv struct {
	Store    store.Store
	Pool     db.Pool // nil unless the store is postgres
	Book     *pricing.Book
	Orders   *order.Service
	Cache    *directory.Cache
	Matcher  *matching.Engine
	Events   events.Publisher
	Outbox   *outbox.Outbox       // nil when no partner is configured
	Bridge   *bridge.Synchronizer // nil when no partner is configured
	Breakers *resilience.Breakers
	closeFns []func()
}

// Close waits for in-flight partner deliveries, then releases resources in
// reverse order of acquisition.
func (e *appEnv) Close() {
	if e.Bridge != nil {
		e.Bridge.Wait()
	}
	for i := len(e.closeFns) - 1; i >= 0; i-- {
		e.closeFns[i]()
	}
}

// initStore opens and migrates the configured store. The returned pool is
// non-nil only for postgres.
func initStore(ctx context.Context) (store.Store, db.Pool, error) {
	var (
		st   store.Store
		pool db.Pool
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "fabroute.db"
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		st, pool = s, s.Pool()
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	return st, pool, nil
}

// newBook builds the quote book. The mesh analysis service, when
// configured, shares the breaker registry with the partner bridge.
func newBook(st pricing.QuoteStore, breakers *resilience.Breakers) *pricing.Book {
	var opts []pricing.BookOption
	if cfg.Mesh.BaseURL != "" {
		client := meshmetrics.NewClient(cfg.Mesh.BaseURL, time.Duration(cfg.Mesh.TimeoutSecs)*time.Second)
		opts = append(opts, pricing.WithMetricsSource(pricing.MeshSource{
			Client:  client,
			Breaker: breakers.Get("mesh"),
		}))
	}
	return pricing.NewBook(pricing.NewEngine(pricing.RatesFromConfig(cfg.Pricing)), st, opts...)
}

// newMatcher builds the matching engine over the cached directory. pool is
// only needed for the postgres directory source.
func newMatcher(pool db.Pool) (*matching.Engine, *directory.Cache, error) {
	fallback, err := directory.LoadFallbackFile(cfg.Matching.FallbackFile)
	if err != nil {
		return nil, nil, err
	}
	src, err := directory.NewSource(cfg.Directory, fallback, pool)
	if err != nil {
		return nil, nil, err
	}
	mcfg, err := matching.ConfigFrom(cfg.Matching)
	if err != nil {
		return nil, nil, err
	}
	cache := directory.NewCache(src, directory.CacheConfigFrom(cfg.Directory))
	return matching.NewEngine(mcfg, cache, fallback), cache, nil
}

// initEnv validates the config for mode and wires every component. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, pool, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{
		Store:    st,
		Pool:     pool,
		Breakers: resilience.NewBreakers(resilience.BreakerFromBridge(cfg.Bridge)),
	}
	env.closeFns = append(env.closeFns, func() { _ = st.Close() })

	env.Matcher, env.Cache, err = newMatcher(pool)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Book = newBook(st, env.Breakers)
	env.Orders = order.NewService(st, env.Book)

	env.Events = events.New(cfg.Events.Brokers, cfg.Events.Topic)
	env.closeFns = append(env.closeFns, func() { _ = env.Events.Close() })
	env.Orders.Subscribe(events.NewObserver(env.Events,
		events.WithPublishTimeout(time.Duration(cfg.Events.TimeoutSecs)*time.Second),
	))

	if cfg.Bridge.PartnerBaseURL != "" {
		ob, err := outbox.Open(cfg.Bridge.OutboxDir)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Outbox = ob
		env.closeFns = append(env.closeFns, func() { _ = ob.Close() })

		client := partner.NewClient(
			cfg.Bridge.PartnerBaseURL,
			cfg.Bridge.PartnerToken,
			time.Duration(cfg.Bridge.TimeoutSecs)*time.Second,
			partner.WithRateLimit(cfg.Bridge.RateLimitPerSec),
		)
		env.Bridge = bridge.New(env.Orders, st, client, ob, cfg.Bridge,
			bridge.WithBreaker(env.Breakers.Get("partner")),
		)
		env.Orders.Subscribe(env.Bridge)
	}
	return env, nil
}
