// Package api exposes quoting, matching, orders and the partner bridge over
// HTTP as JSON.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/bridge"
	"github.com/sells-group/fabroute/internal/config"
	"github.com/sells-group/fabroute/internal/matching"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/internal/store"
)

// AlertStore lists and resolves standing alerts.
type AlertStore interface {
	ListAlerts(ctx context.Context, filter store.AlertFilter) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error
}

// CircuitStates reports the breakers guarding outbound dependencies.
type CircuitStates interface {
	States() map[string]resilience.CircuitState
}

// Server holds the components behind the HTTP handlers.
type Server struct {
	quotes   *pricing.Book
	matcher  *matching.Engine
	orders   *order.Service
	bridge   *bridge.Synchronizer
	alerts   AlertStore
	circuits CircuitStates
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBridge enables the partner bridge routes.
func WithBridge(b *bridge.Synchronizer) Option {
	return func(s *Server) { s.bridge = b }
}

// WithBreakers reports the given breakers on /health.
func WithBreakers(c CircuitStates) Option {
	return func(s *Server) { s.circuits = c }
}

// WithClock overrides the clock used for received-at and resolved-at times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server. Bridge routes are only mounted when a
// synchronizer is supplied with WithBridge.
func NewServer(quotes *pricing.Book, matcher *matching.Engine, orders *order.Service, alerts AlertStore, opts ...Option) *Server {
	s := &Server{
		quotes:  quotes,
		matcher: matcher,
		orders:  orders,
		alerts:  alerts,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "api")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeoutSecs > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)

	r.Route("/quotes", func(api chi.Router) {
		api.Post("/", s.createQuote)
		api.Get("/{id}", s.getQuote)
	})

	r.Post("/match", s.match)

	r.Route("/orders", func(api chi.Router) {
		api.Post("/", s.createOrder)
		api.Get("/", s.listOrders)
		api.Get("/{id}", s.getOrder)
		api.Post("/{id}/transitions", s.transitionOrder)
		api.Post("/{id}/route", s.routeOrder)
		if s.bridge != nil {
			api.Post("/{id}/publish", s.publishOrder)
		}
	})

	if s.bridge != nil {
		r.Route("/bridge", func(api chi.Router) {
			api.Post("/jobs/{id}/status", s.receiveStatus)
			api.Post("/redeliver", s.redeliver)
		})
	}

	r.Route("/alerts", func(api chi.Router) {
		api.Get("/", s.listAlerts)
		api.Post("/{id}/resolve", s.resolveAlert)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// health always answers 200. The body reports "degraded" while any outbound
// circuit is open.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	circuits := map[string]string{}
	if s.circuits != nil {
		for name, st := range s.circuits.States() {
			circuits[name] = st.String()
			if st == resilience.CircuitOpen {
				status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"bridge":   s.bridge != nil,
		"circuits": circuits,
		"time":     s.now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return eris.Wrap(err, "server listen")
	case <-ctx.Done():
		zap.L().Info("api: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
	}
}
