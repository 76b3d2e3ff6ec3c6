package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Fit     FitConfig     `yaml:"fit" mapstructure:"fit"`
	Model   ModelConfig   `yaml:"model" mapstructure:"model"`
	Noise   NoiseConfig   `yaml:"noise" mapstructure:"noise"`
	Summary SummaryConfig `yaml:"summary" mapstructure:"summary"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RatePerSecond  float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxConcurrent  int      `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the run-health checker started by serve.
type MonitoringConfig struct {
	Enabled                 bool          `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL              string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval           time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackWindow          time.Duration `yaml:"lookback_window" mapstructure:"lookback_window"`
	FailureRateThreshold    float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	IncompleteRateThreshold float64       `yaml:"incomplete_rate_threshold" mapstructure:"incomplete_rate_threshold"`
	MinFinished             int           `yaml:"min_finished" mapstructure:"min_finished"`
}

// FitConfig configures the nested sampler.
type FitConfig struct {
	LivePoints       int           `yaml:"live_points" mapstructure:"live_points"`
	Tolerance        float64       `yaml:"tolerance" mapstructure:"tolerance"`
	MaxIterations    int           `yaml:"max_iterations" mapstructure:"max_iterations"`
	Seed             uint64        `yaml:"seed" mapstructure:"seed"`
	Bound            string        `yaml:"bound" mapstructure:"bound"`
	Enlarge          float64       `yaml:"enlarge" mapstructure:"enlarge"`
	UpdateInterval   int           `yaml:"update_interval" mapstructure:"update_interval"`
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BatchSize        int           `yaml:"batch_size" mapstructure:"batch_size"`
	Workers          int           `yaml:"workers" mapstructure:"workers"`
	ProgressInterval time.Duration `yaml:"progress_interval" mapstructure:"progress_interval"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ModelConfig configures the forward model.
type ModelConfig struct {
	Law      string `yaml:"law" mapstructure:"law"`
	Baseline string `yaml:"baseline" mapstructure:"baseline"`
	Annuli   int    `yaml:"annuli" mapstructure:"annuli"`
}

// NoiseConfig selects the residual distribution.
type NoiseConfig struct {
	Model      string  `yaml:"model" mapstructure:"model"`
	StudentDOF float64 `yaml:"student_dof" mapstructure:"student_dof"`
}

// SummaryConfig configures posterior summaries.
type SummaryConfig struct {
	MinESS    float64   `yaml:"min_ess" mapstructure:"min_ess"`
	Quantiles []float64 `yaml:"quantiles" mapstructure:"quantiles"`
}

// FitSettings assembles the per-run settings from the fit, model, noise and
// summary sections.
func (c *Config) FitSettings() model.FitSettings {
	return model.FitSettings{
		Law:            c.Model.Law,
		Baseline:       c.Model.Baseline,
		Annuli:         c.Model.Annuli,
		Noise:          c.Noise.Model,
		StudentDOF:     c.Noise.StudentDOF,
		LivePoints:     c.Fit.LivePoints,
		Tolerance:      c.Fit.Tolerance,
		MaxIterations:  c.Fit.MaxIterations,
		Seed:           c.Fit.Seed,
		Bound:          c.Fit.Bound,
		Enlarge:        c.Fit.Enlarge,
		UpdateInterval: c.Fit.UpdateInterval,
		MaxAttempts:    c.Fit.MaxAttempts,
		BatchSize:      c.Fit.BatchSize,
		Workers:        c.Fit.Workers,
		MinESS:         c.Summary.MinESS,
		Quantiles:      append([]float64(nil), c.Summary.Quantiles...),
	}
}

// Validation modes.
const (
	ModeStore = "store"
	ModeFit   = "fit"
	ModeServe = "serve"
)

// Validate checks the sections a command needs and reports the first
// out-of-range value as a ConfigError. ModeStore checks log and store, ModeFit
// adds the fit settings and ModeServe adds the server section.
func (c *Config) Validate(mode string) error {
	switch mode {
	case ModeStore, ModeFit, ModeServe:
	default:
		return fiterr.NewConfigError("mode", fmt.Sprintf("unknown mode %q", mode))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fiterr.NewConfigError("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fiterr.NewConfigError("store.driver", fmt.Sprintf("unknown driver %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		return fiterr.NewConfigError("store.database_url", "is required")
	}
	if mode == ModeStore {
		return nil
	}

	if c.Fit.ProgressInterval < 0 {
		return fiterr.NewConfigError("fit.progress_interval", "must be >= 0")
	}
	if c.Fit.Timeout < 0 {
		return fiterr.NewConfigError("fit.timeout", "must be >= 0")
	}
	if err := c.FitSettings().Validate(); err != nil {
		return fiterr.NewConfigError("fit", err.Error())
	}
	if mode == ModeFit {
		return nil
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fiterr.NewConfigError("server.port", fmt.Sprintf("must be in 1..65535 (got %d)", c.Server.Port))
	}
	if !(c.Server.RatePerSecond > 0) || c.Server.RateBurst <= 0 {
		return fiterr.NewConfigError("server.rate_per_second", "rate and burst must be positive")
	}
	if c.Server.MaxConcurrent <= 0 {
		return fiterr.NewConfigError("server.max_concurrent", "must be positive")
	}
	if m := c.Monitoring; m.Enabled {
		if m.CheckInterval <= 0 || m.LookbackWindow <= 0 {
			return fiterr.NewConfigError("monitoring.check_interval", "check interval and lookback window must be positive")
		}
		if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 || m.IncompleteRateThreshold < 0 || m.IncompleteRateThreshold > 1 {
			return fiterr.NewConfigError("monitoring.failure_rate_threshold", "rate thresholds must be in [0, 1]")
		}
	}
	return nil
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("TRANSIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	d := model.DefaultFitSettings()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "transit.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_second", 1.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.max_concurrent", 2)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval", 5*time.Minute)
	v.SetDefault("monitoring.lookback_window", 24*time.Hour)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.incomplete_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("fit.live_points", d.LivePoints)
	v.SetDefault("fit.tolerance", d.Tolerance)
	v.SetDefault("fit.max_iterations", d.MaxIterations)
	v.SetDefault("fit.seed", d.Seed)
	v.SetDefault("fit.bound", d.Bound)
	v.SetDefault("fit.enlarge", d.Enlarge)
	v.SetDefault("fit.update_interval", d.UpdateInterval)
	v.SetDefault("fit.max_attempts", d.MaxAttempts)
	v.SetDefault("fit.batch_size", d.BatchSize)
	v.SetDefault("fit.workers", d.Workers)
	v.SetDefault("fit.progress_interval", 5*time.Second)
	v.SetDefault("fit.timeout", time.Duration(0))
	v.SetDefault("model.law", d.Law)
	v.SetDefault("model.baseline", d.Baseline)
	v.SetDefault("model.annuli", d.Annuli)
	v.SetDefault("noise.model", d.Noise)
	v.SetDefault("noise.student_dof", d.StudentDOF)
	v.SetDefault("summary.min_ess", d.MinESS)
	v.SetDefault("summary.quantiles", d.Quantiles)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
