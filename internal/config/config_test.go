package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "fitter.yaml")
	body := "fit:\n  live_points: 123\nmodel:\n  law: nonlinear\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 123, cfg.Fit.LivePoints)
	assert.Equal(t, "nonlinear", cfg.Model.Law)
	// Untouched sections keep defaults.
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	chdirTemp(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "transit.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Fit.ProgressInterval)
	assert.Zero(t, cfg.Fit.Timeout)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Monitoring.LookbackWindow)
	assert.InDelta(t, 0.10, cfg.Monitoring.FailureRateThreshold, 1e-12)

	// The assembled settings match the library defaults.
	assert.Equal(t, model.DefaultFitSettings(), cfg.FitSettings())
	assert.NoError(t, cfg.Validate(ModeServe))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/transit
log:
  level: debug
  format: console
fit:
  live_points: 400
  bound: multi
  progress_interval: 1s
model:
  law: nonlinear
noise:
  model: student-t
  student_dof: 3
summary:
  quantiles: [0.05, 0.5, 0.95]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Fit.ProgressInterval)

	s := cfg.FitSettings()
	assert.Equal(t, 400, s.LivePoints)
	assert.Equal(t, model.BoundMulti, s.Bound)
	assert.Equal(t, model.LawNonlinear, s.Law)
	assert.Equal(t, model.NoiseStudentT, s.Noise)
	assert.InDelta(t, 3.0, s.StudentDOF, 0)
	assert.Equal(t, []float64{0.05, 0.5, 0.95}, s.Quantiles)
	// Defaults still apply for unset values
	assert.Equal(t, model.DefaultFitSettings().Annuli, s.Annuli)
	assert.NoError(t, cfg.Validate(ModeFit))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("TRANSIT_STORE_DRIVER", "postgres")
	t.Setenv("TRANSIT_LOG_LEVEL", "warn")
	t.Setenv("TRANSIT_FIT_SEED", "42")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, uint64(42), cfg.FitSettings().Seed)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("fit: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	d := model.DefaultFitSettings()
	return &Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "transit.db"},
		Server: ServerConfig{Port: 8080, RatePerSecond: 1, RateBurst: 5, MaxConcurrent: 2},
		Fit: FitConfig{
			LivePoints: d.LivePoints, Tolerance: d.Tolerance, MaxIterations: d.MaxIterations,
			Seed: d.Seed, Bound: d.Bound, Enlarge: d.Enlarge, MaxAttempts: d.MaxAttempts,
			BatchSize: d.BatchSize, Workers: d.Workers,
		},
		Model:   ModelConfig{Law: d.Law, Baseline: d.Baseline, Annuli: d.Annuli},
		Noise:   NoiseConfig{Model: d.Noise, StudentDOF: d.StudentDOF},
		Summary: SummaryConfig{MinESS: d.MinESS, Quantiles: d.Quantiles},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		param  string
	}{
		{"unknown mode", "bogus", func(*Config) {}, "mode"},
		{"log format", ModeStore, func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"driver", ModeStore, func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"database url", ModeStore, func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url"},
		{"timeout", ModeFit, func(c *Config) { c.Fit.Timeout = -time.Second }, "fit.timeout"},
		{"live points", ModeFit, func(c *Config) { c.Fit.LivePoints = 1 }, "fit"},
		{"law", ModeFit, func(c *Config) { c.Model.Law = "linear" }, "fit"},
		{"quantile", ModeFit, func(c *Config) { c.Summary.Quantiles = []float64{1} }, "fit"},
		{"port", ModeServe, func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"rate", ModeServe, func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_per_second"},
		{"concurrency", ModeServe, func(c *Config) { c.Server.MaxConcurrent = 0 }, "server.max_concurrent"},
		{"check interval", ModeServe, func(c *Config) {
			c.Monitoring = MonitoringConfig{Enabled: true, LookbackWindow: time.Hour}
		}, "monitoring.check_interval"},
		{"failure threshold", ModeServe, func(c *Config) {
			c.Monitoring = MonitoringConfig{Enabled: true, CheckInterval: time.Minute, LookbackWindow: time.Hour, FailureRateThreshold: 1.5}
		}, "monitoring.failure_rate_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			require.Error(t, err)
			var ce *fiterr.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.param, ce.Param)
		})
	}
}

func TestValidate_ModeScopesChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate(ModeFit))

	cfg.Fit.LivePoints = 0
	assert.NoError(t, cfg.Validate(ModeStore))
	assert.Error(t, cfg.Validate(ModeFit))
}

func TestValidate_MonitoringDisabledSkipsChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring = MonitoringConfig{FailureRateThreshold: 7}
	assert.NoError(t, cfg.Validate(ModeServe))
}
