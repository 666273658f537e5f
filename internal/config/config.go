package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Places PlacesConfig `yaml:"places" mapstructure:"places"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PlacesConfig holds catalog API settings. An empty key disables catalog
// calls; the pipeline degrades to logged no-ops rather than crashing.
type PlacesConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SyncConfig holds per-run budgets and pipeline tuning.
type SyncConfig struct {
	MaxPlaces      int      `yaml:"max_places" mapstructure:"max_places"`
	MaxRequests    int      `yaml:"max_requests" mapstructure:"max_requests"`
	MaxCostUSD     float64  `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	CostAlertUSD   float64  `yaml:"cost_alert_usd" mapstructure:"cost_alert_usd"`
	PhotoCap       int      `yaml:"photo_cap" mapstructure:"photo_cap"`
	Provinces      []string `yaml:"provinces" mapstructure:"provinces"`
	IntervalHours  int      `yaml:"interval_hours" mapstructure:"interval_hours"`
	RequestDelayMS int      `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	CooldownSecs   int      `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	DetailWorkers  int      `yaml:"detail_workers" mapstructure:"detail_workers"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "catalog.db")
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.timeout_secs", 10)
	v.SetDefault("sync.max_places", 200)
	v.SetDefault("sync.max_requests", 1000)
	v.SetDefault("sync.max_cost_usd", 50.0)
	v.SetDefault("sync.cost_alert_usd", 25.0)
	v.SetDefault("sync.photo_cap", 5)
	v.SetDefault("sync.interval_hours", 168)
	v.SetDefault("sync.request_delay_ms", 200)
	v.SetDefault("sync.cooldown_secs", 30)
	v.SetDefault("sync.detail_workers", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
