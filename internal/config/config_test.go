package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Pricing.Currency)
	assert.Equal(t, 24, cfg.Pricing.QuoteTTLHours)
	assert.InDelta(t, 5.0, cfg.Pricing.SetupFee, 0.001)
	assert.InDelta(t, 0.2, cfg.Pricing.ReferenceLayerHeight, 0.001)
	assert.InDelta(t, 0.40, cfg.Matching.Weights.Capability, 0.001)
	assert.InDelta(t, 0.20, cfg.Matching.Weights.Reputation, 0.001)
	assert.InDelta(t, 0.15, cfg.Matching.Weights.Experience, 0.001)
	assert.InDelta(t, 0.15, cfg.Matching.Weights.SuccessRate, 0.001)
	assert.InDelta(t, 0.10, cfg.Matching.Weights.Proximity, 0.001)
	assert.InDelta(t, 50, cfg.Matching.AdmissionThreshold, 0.001)
	assert.Equal(t, 10, cfg.Matching.MaxResults)
	assert.Equal(t, 30, cfg.Matching.RegistryTimeoutSecs)
	assert.Equal(t, "static", cfg.Directory.Source)
	assert.Equal(t, 5, cfg.Bridge.MaxAttempts)
	assert.Equal(t, 2000, cfg.Bridge.InitialBackoffMs)
	assert.Equal(t, 120, cfg.Bridge.MaxTotalWaitSecs)
	assert.Equal(t, "fabroute.order-events", cfg.Events.Topic)
	assert.Equal(t, 5, cfg.Events.TimeoutSecs)
}

func TestLoadDefaults_RateTables(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	// Viper lower-cases map keys.
	pla, ok := cfg.Pricing.Materials["pla"]
	require.True(t, ok)
	assert.InDelta(t, 0.05, pla.CostPerCM3, 0.0001)
	assert.InDelta(t, 1.24, pla.Density, 0.0001)
	assert.Len(t, cfg.Pricing.Materials, 6)

	ultra, ok := cfg.Pricing.Qualities["ultra"]
	require.True(t, ok)
	assert.InDelta(t, 1.6, ultra.Multiplier, 0.0001)
	assert.InDelta(t, 5.0, ultra.FinishingCost, 0.0001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/fabroute
log:
  level: debug
  format: console
server:
  port: 9090
matching:
  admission_threshold: 60
directory:
  source: http
  base_url: http://directory.local
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 60, cfg.Matching.AdmissionThreshold, 0.001)
	assert.Equal(t, "http", cfg.Directory.Source)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Matching.MaxResults)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FABROUTE_STORE_DRIVER", "postgres")
	t.Setenv("FABROUTE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "staging.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\nbridge:\n  outbox_dir: /var/lib/fabroute/outbox\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "/var/lib/fabroute/outbox", cfg.Bridge.OutboxDir)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFile_MissingPathIsError(t *testing.T) {
	chdirTemp(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("FABROUTE_SERVER_PORT", "3000")
	t.Setenv("FABROUTE_BRIDGE_PARTNER_BASE_URL", "https://partner.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "https://partner.example", cfg.Bridge.PartnerBaseURL)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults validation cares about.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "fabroute.db"
	cfg.Directory.Source = "static"
	cfg.Bridge.PartnerBaseURL = "https://partner.example"
	cfg.Bridge.OutboxDir = "data/outbox"
	return cfg
}

func TestValidate_ServeAllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidate_ServeMissingPartner(t *testing.T) {
	cfg := validDefaults()
	cfg.Bridge.PartnerBaseURL = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge.partner_base_url")
}

func TestValidate_QuoteIgnoresBridge(t *testing.T) {
	cfg := validDefaults()
	cfg.Bridge.PartnerBaseURL = ""
	assert.NoError(t, cfg.Validate("quote"))
}

func TestValidate_RosterNeedsPostgres(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("roster")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver=postgres")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/fabroute"
	assert.NoError(t, cfg.Validate("roster"))
}

func TestValidate_DirectorySource(t *testing.T) {
	cfg := validDefaults()
	cfg.Directory.Source = "http"
	err := cfg.Validate("match")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.base_url")

	cfg.Directory.Source = "postgres"
	err = cfg.Validate("match")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires store.driver=postgres")

	cfg.Directory.Source = "carrier-pigeon"
	err = cfg.Validate("match")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be http, postgres or static")
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	err := cfg.Validate("quote")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}
