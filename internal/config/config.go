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
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Fields      FieldsConfig      `yaml:"fields" mapstructure:"fields"`
	Suppression SuppressionConfig `yaml:"suppression" mapstructure:"suppression"`
	Bulk        BulkConfig        `yaml:"bulk" mapstructure:"bulk"`
	Events      EventsConfig      `yaml:"events" mapstructure:"events"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FieldsConfig locates the field definition fixture.
type FieldsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SuppressionConfig configures read-time confidence suppression for
// ai-populated fields. Thresholds holds per-field-key overrides.
type SuppressionConfig struct {
	DefaultThreshold float64            `yaml:"default_threshold" mapstructure:"default_threshold"`
	Thresholds       map[string]float64 `yaml:"thresholds" mapstructure:"thresholds"`
}

// BulkConfig configures the bulk operation engine.
type BulkConfig struct {
	PreviewTTLSecs      int `yaml:"preview_ttl_secs" mapstructure:"preview_ttl_secs"`
	MaxConcurrentAssets int `yaml:"max_concurrent_assets" mapstructure:"max_concurrent_assets"`
}

// EventsConfig configures the completion event dispatcher.
type EventsConfig struct {
	BufferSize     int     `yaml:"buffer_size" mapstructure:"buffer_size"`
	DispatchPerSec float64 `yaml:"dispatch_per_sec" mapstructure:"dispatch_per_sec"`
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
	v.SetEnvPrefix("METALEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("fields.path", "fields.yaml")
	v.SetDefault("suppression.default_threshold", 0.6)
	v.SetDefault("bulk.preview_ttl_secs", 600)
	v.SetDefault("bulk.max_concurrent_assets", 8)
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.dispatch_per_sec", 20)
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
