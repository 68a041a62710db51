package matching

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/directory"
	"github.com/sells-group/fabroute/internal/model"
)

// Engine ranks providers for service requests.
type Engine struct {
	cfg      Config
	source   directory.Source
	fallback *directory.StaticSource
	workload WorkloadFunc
	now      func() time.Time
	log      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkload injects the provider workload estimate.
func WithWorkload(fn WorkloadFunc) Option {
	return func(e *Engine) { e.workload = fn }
}

// WithClock overrides the clock used for delivery estimates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine reading providers from source, usually the
// capability cache, and falling back to fallback when source fails.
func NewEngine(cfg Config, source directory.Source, fallback *directory.StaticSource, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		source:   source,
		fallback: fallback,
		workload: SimulatedWorkload,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "matching")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindProviders returns the best providers for req. It never fails: a
// directory error degrades to the fallback set, and an empty result comes
// with alternatives. A request that fails ValidateRequest matches nothing;
// callers at the boundary reject it first.
func (e *Engine) FindProviders(ctx context.Context, req model.ServiceRequest) model.MatchResult {
	if err := ValidateRequest(req); err != nil {
		e.log.Warn("invalid service request", zap.Error(err))
		return model.MatchResult{
			Matches:      []model.ProviderMatch{},
			Alternatives: Alternatives(req.ServiceType),
		}
	}
	providers, degraded := e.candidates(ctx, req.ServiceType)
	now := e.now()

	matches := []model.ProviderMatch{}
	for _, p := range providers {
		if !p.Active {
			continue
		}
		m, ok := e.score(p, req, now)
		if !ok || m.CompatibilityScore < e.cfg.AdmissionThreshold {
			continue
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].CompatibilityScore != matches[j].CompatibilityScore {
			return matches[i].CompatibilityScore > matches[j].CompatibilityScore
		}
		return matches[i].ProviderID < matches[j].ProviderID
	})
	if len(matches) > e.cfg.MaxResults {
		matches = matches[:e.cfg.MaxResults]
	}

	res := model.MatchResult{Matches: matches, Alternatives: []string{}, Degraded: degraded}
	if len(matches) == 0 || degraded {
		res.Alternatives = Alternatives(req.ServiceType)
	}

	e.log.Debug("providers matched",
		zap.String("service_type", string(req.ServiceType)),
		zap.Int("candidates", len(providers)),
		zap.Int("matches", len(matches)),
		zap.Bool("degraded", degraded),
	)
	return res
}

func (e *Engine) candidates(ctx context.Context, st model.ServiceType) ([]model.Provider, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RegistryTimeout)
	defer cancel()

	providers, err := e.source.Providers(ctx, st)
	if err == nil {
		return providers, false
	}
	e.log.Warn("provider directory unavailable, using fallback set",
		zap.String("service_type", string(st)),
		zap.Error(err),
	)
	if e.fallback == nil {
		return nil, true
	}
	return e.fallback.ForService(st), true
}

func (e *Engine) score(p model.Provider, req model.ServiceRequest, now time.Time) (model.ProviderMatch, bool) {
	capability, capScore, ok := bestCapability(p, req)
	if !ok {
		return model.ProviderMatch{}, false
	}

	compat := e.cfg.Weights.compatibility(subScores{
		capability:  capScore,
		reputation:  ReputationScore(p.Rating),
		experience:  ExperienceScore(p.TotalOrders),
		successRate: SuccessRateScore(p.SuccessRate),
		proximity:   ProximityScore(p.Location, req.CustomerLocation),
	})

	cost, ok := EstimateCost(capability, req.ServiceType, req.Requirements)
	if !ok {
		e.log.Warn("cost estimate overflowed", zap.String("provider_id", p.ID))
		return model.ProviderMatch{}, false
	}
	return model.ProviderMatch{
		ProviderID:         p.ID,
		ProviderName:       p.Name,
		CompatibilityScore: round2(compat),
		CapabilityScore:    capScore,
		EstimatedCost:      cost,
		EstimatedDelivery:  EstimateDelivery(now, capability, req.Requirements, e.workload(p.ID)),
		Reasons:            reasons(p, capability, req),
		Constraints:        constraints(p, capability, req, cost),
	}, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
