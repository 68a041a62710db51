package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Directory  DirectoryConfig  `yaml:"directory" mapstructure:"directory"`
	Bridge     BridgeConfig     `yaml:"bridge" mapstructure:"bridge"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Mesh       MeshConfig       `yaml:"mesh" mapstructure:"mesh"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// PricingConfig holds the quote rate tables.
type PricingConfig struct {
	Currency              string                  `yaml:"currency" mapstructure:"currency"`
	QuoteTTLHours         int                     `yaml:"quote_ttl_hours" mapstructure:"quote_ttl_hours"`
	SetupFee              float64                 `yaml:"setup_fee" mapstructure:"setup_fee"`
	SetupMinutes          float64                 `yaml:"setup_minutes" mapstructure:"setup_minutes"`
	MachineRatePerMinute  float64                 `yaml:"machine_rate_per_minute" mapstructure:"machine_rate_per_minute"`
	BaseMinutesPerCM3     float64                 `yaml:"base_minutes_per_cm3" mapstructure:"base_minutes_per_cm3"`
	ReferenceLayerHeight  float64                 `yaml:"reference_layer_height" mapstructure:"reference_layer_height"`
	LaborBasePerPart      float64                 `yaml:"labor_base_per_part" mapstructure:"labor_base_per_part"`
	LaborSupportSurcharge float64                 `yaml:"labor_support_surcharge" mapstructure:"labor_support_surcharge"`
	Materials             map[string]MaterialRate `yaml:"materials" mapstructure:"materials"`
	Qualities             map[string]QualityRate  `yaml:"qualities" mapstructure:"qualities"`
}

// MaterialRate holds per-material cost and density.
type MaterialRate struct {
	CostPerCM3 float64 `yaml:"cost_per_cm3" mapstructure:"cost_per_cm3"`
	Density    float64 `yaml:"density" mapstructure:"density"`
}

// QualityRate holds per-quality time multiplier and finishing cost.
type QualityRate struct {
	Multiplier    float64 `yaml:"multiplier" mapstructure:"multiplier"`
	FinishingCost float64 `yaml:"finishing_cost" mapstructure:"finishing_cost"`
}

// MatchingConfig configures provider scoring.
type MatchingConfig struct {
	Weights             MatchWeights `yaml:"weights" mapstructure:"weights"`
	AdmissionThreshold  float64      `yaml:"admission_threshold" mapstructure:"admission_threshold"`
	MaxResults          int          `yaml:"max_results" mapstructure:"max_results"`
	RegistryTimeoutSecs int          `yaml:"registry_timeout_secs" mapstructure:"registry_timeout_secs"`
	FallbackFile        string       `yaml:"fallback_file" mapstructure:"fallback_file"`
}

// MatchWeights are the compatibility score weights. They must sum to 1.
type MatchWeights struct {
	Capability  float64 `yaml:"capability" mapstructure:"capability"`
	Reputation  float64 `yaml:"reputation" mapstructure:"reputation"`
	Experience  float64 `yaml:"experience" mapstructure:"experience"`
	SuccessRate float64 `yaml:"success_rate" mapstructure:"success_rate"`
	Proximity   float64 `yaml:"proximity" mapstructure:"proximity"`
}

// DirectoryConfig configures the provider directory and its cache.
type DirectoryConfig struct {
	Source              string   `yaml:"source" mapstructure:"source"` // http, postgres, static
	BaseURL             string   `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs         int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RefreshIntervalSecs int      `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"`
	TTLSecs             int      `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	ServiceTypes        []string `yaml:"service_types" mapstructure:"service_types"`
	RefreshConcurrency  int      `yaml:"refresh_concurrency" mapstructure:"refresh_concurrency"`
}

// BridgeConfig configures the partner bridge.
type BridgeConfig struct {
	PartnerBaseURL     string  `yaml:"partner_base_url" mapstructure:"partner_base_url"`
	PartnerToken       string  `yaml:"partner_token" mapstructure:"partner_token"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	MaxTotalWaitSecs   int     `yaml:"max_total_wait_secs" mapstructure:"max_total_wait_secs"`
	RateLimitPerSec    float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	FailureThreshold   int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs   int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	OutboxDir          string  `yaml:"outbox_dir" mapstructure:"outbox_dir"`
	RedeliverEverySecs int     `yaml:"redeliver_every_secs" mapstructure:"redeliver_every_secs"`
}

// EventsConfig configures the order event stream.
type EventsConfig struct {
	Brokers     []string `yaml:"brokers" mapstructure:"brokers"`
	Topic       string   `yaml:"topic" mapstructure:"topic"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MonitoringConfig configures background alert checks.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	OutboxBacklogLimit   int     `yaml:"outbox_backlog_limit" mapstructure:"outbox_backlog_limit"`
	RepeatAfterMins      int     `yaml:"repeat_after_mins" mapstructure:"repeat_after_mins"`
}

// MeshConfig configures the mesh-metrics provider client.
type MeshConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path falls back
// to the optional ./config.yaml; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("FABROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fabroute.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("pricing.currency", "USD")
	v.SetDefault("pricing.quote_ttl_hours", 24)
	v.SetDefault("pricing.setup_fee", 5.00)
	v.SetDefault("pricing.setup_minutes", 15)
	v.SetDefault("pricing.machine_rate_per_minute", 0.05)
	v.SetDefault("pricing.base_minutes_per_cm3", 1.5)
	v.SetDefault("pricing.reference_layer_height", 0.2)
	v.SetDefault("pricing.labor_base_per_part", 2.00)
	v.SetDefault("pricing.labor_support_surcharge", 1.50)
	v.SetDefault("pricing.materials", map[string]any{
		"PLA":   map[string]any{"cost_per_cm3": 0.05, "density": 1.24},
		"ABS":   map[string]any{"cost_per_cm3": 0.06, "density": 1.04},
		"PETG":  map[string]any{"cost_per_cm3": 0.07, "density": 1.27},
		"TPU":   map[string]any{"cost_per_cm3": 0.12, "density": 1.21},
		"NYLON": map[string]any{"cost_per_cm3": 0.15, "density": 1.14},
		"RESIN": map[string]any{"cost_per_cm3": 0.20, "density": 1.10},
	})
	v.SetDefault("pricing.qualities", map[string]any{
		"draft":    map[string]any{"multiplier": 0.8, "finishing_cost": 0.0},
		"standard": map[string]any{"multiplier": 1.0, "finishing_cost": 1.0},
		"high":     map[string]any{"multiplier": 1.3, "finishing_cost": 2.5},
		"ultra":    map[string]any{"multiplier": 1.6, "finishing_cost": 5.0},
	})

	v.SetDefault("matching.weights.capability", 0.40)
	v.SetDefault("matching.weights.reputation", 0.20)
	v.SetDefault("matching.weights.experience", 0.15)
	v.SetDefault("matching.weights.success_rate", 0.15)
	v.SetDefault("matching.weights.proximity", 0.10)
	v.SetDefault("matching.admission_threshold", 50)
	v.SetDefault("matching.max_results", 10)
	v.SetDefault("matching.registry_timeout_secs", 30)

	v.SetDefault("directory.source", "static")
	v.SetDefault("directory.timeout_secs", 10)
	v.SetDefault("directory.refresh_interval_secs", 300)
	v.SetDefault("directory.ttl_secs", 900)
	v.SetDefault("directory.service_types", []string{"3d_printing", "laser_cutting", "cnc_machining"})
	v.SetDefault("directory.refresh_concurrency", 3)

	// Empty defaults register the keys so env overrides reach Unmarshal.
	v.SetDefault("matching.fallback_file", "")
	v.SetDefault("directory.base_url", "")
	v.SetDefault("bridge.partner_base_url", "")
	v.SetDefault("bridge.partner_token", "")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("mesh.base_url", "")

	v.SetDefault("bridge.timeout_secs", 15)
	v.SetDefault("bridge.max_attempts", 5)
	v.SetDefault("bridge.initial_backoff_ms", 2000)
	v.SetDefault("bridge.max_backoff_ms", 30000)
	v.SetDefault("bridge.multiplier", 2.0)
	v.SetDefault("bridge.jitter_fraction", 0.1)
	v.SetDefault("bridge.max_total_wait_secs", 120)
	v.SetDefault("bridge.rate_limit_per_sec", 10)
	v.SetDefault("bridge.failure_threshold", 5)
	v.SetDefault("bridge.reset_timeout_secs", 30)
	v.SetDefault("bridge.outbox_dir", "data/outbox")
	v.SetDefault("bridge.redeliver_every_secs", 60)

	v.SetDefault("events.topic", "fabroute.order-events")
	v.SetDefault("events.timeout_secs", 5)

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.outbox_backlog_limit", 25)
	v.SetDefault("monitoring.repeat_after_mins", 60)

	v.SetDefault("mesh.timeout_secs", 10)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command depends on are present.
// Mode names the command: "serve", "quote", "match", "order", "redeliver"
// or "roster". Only serve and roster add requirements beyond the shared
// port and directory checks.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		missing = append(missing, "server.port must be between 1 and 65535")
	}

	switch mode {
	case "serve":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
		if c.Bridge.PartnerBaseURL == "" {
			missing = append(missing, "bridge.partner_base_url")
		}
		if c.Bridge.OutboxDir == "" {
			missing = append(missing, "bridge.outbox_dir")
		}
	case "roster":
		if c.Store.Driver != "postgres" || c.Store.DatabaseURL == "" {
			missing = append(missing, "store.driver=postgres with store.database_url")
		}
	}

	switch c.Directory.Source {
	case "http":
		if c.Directory.BaseURL == "" {
			missing = append(missing, "directory.base_url")
		}
	case "postgres":
		if c.Store.Driver != "postgres" {
			missing = append(missing, "directory.source=postgres requires store.driver=postgres")
		}
	case "static":
	default:
		missing = append(missing, "directory.source must be http, postgres or static")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
