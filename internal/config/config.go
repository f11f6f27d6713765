// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"time"

	"github.com/packetlens/packetlens/internal/export"
	"github.com/packetlens/packetlens/internal/pipeline"
)

// Config is the top-level static configuration for the dashboard
// backend.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Capture  CaptureConfig           `mapstructure:"capture"`
	Store    StoreConfig             `mapstructure:"store"`
	Envelope pipeline.EnvelopeConfig `mapstructure:"envelope"`
	Sinks    SinksConfig             `mapstructure:"sinks"`
	Metrics  MetricsConfig           `mapstructure:"metrics"`
	Log      LogConfig               `mapstructure:"log"`
}

// ServerConfig configures the dashboard HTTP API.
type ServerConfig struct {
	Listen string `mapstructure:"listen"` // e.g. "127.0.0.1:8080"
}

// CaptureConfig locates the external capture server.
type CaptureConfig struct {
	Endpoint string        `mapstructure:"endpoint"` // e.g. "http://127.0.0.1:8765"
	Timeout  time.Duration `mapstructure:"timeout"`  // control request timeout
}

// StoreConfig configures packet and schema persistence.
type StoreConfig struct {
	Dir           string        `mapstructure:"dir"`
	QuotaBytes    int64         `mapstructure:"quota_bytes"`
	FlushInterval time.Duration `mapstructure:"flush_interval"` // debounce for live writes
}

// SinksConfig configures downstream packet sinks.
type SinksConfig struct {
	Console ConsoleSinkConfig `mapstructure:"console"`
	Kafka   KafkaSinkConfig   `mapstructure:"kafka"`
}

// ConsoleSinkConfig configures the stdout sink.
type ConsoleSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Format  string `mapstructure:"format"` // "json" or "text"
}

// KafkaSinkConfig configures the Kafka sink.
type KafkaSinkConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	export.KafkaConfig `mapstructure:",squash"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug|info|warn|error
	Format  string           `mapstructure:"format"` // json|text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig lists log destinations; stdout is always included.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures rotating file output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig maps to lumberjack settings.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Validate checks the loaded configuration for inconsistencies that
// would only surface later at runtime.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Capture.Endpoint == "" {
		return fmt.Errorf("capture.endpoint is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Sinks.Kafka.Enabled {
		if len(c.Sinks.Kafka.Brokers) == 0 || c.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("sinks.kafka requires brokers and topic when enabled")
		}
	}
	return nil
}
