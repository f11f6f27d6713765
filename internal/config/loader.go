package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults and env
// overrides (PACKETLENS_ prefix), and validates the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PACKETLENS")
	v.AutomaticEnv()
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: local
// listeners, store under the user cache dir, console logging only.
func Default() *Config {
	v := viper.New()
	applyDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("built-in defaults do not unmarshal: %v", err))
	}
	return &cfg
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("capture.endpoint", "http://127.0.0.1:8765")
	v.SetDefault("capture.timeout", 10*time.Second)
	v.SetDefault("store.dir", defaultStoreDir())
	v.SetDefault("store.quota_bytes", int64(256<<20))
	v.SetDefault("store.flush_interval", 2*time.Second)
	v.SetDefault("envelope.type_name", "CmdBundle")
	v.SetDefault("envelope.list_field", "cmds")
	v.SetDefault("envelope.id_field", "cmdId")
	v.SetDefault("envelope.body_field", "body")
	v.SetDefault("envelope.sub_type_name", "EventFrame")
	v.SetDefault("envelope.discriminator_field", "eventType")
	v.SetDefault("envelope.sub_body_field", "payload")
	v.SetDefault("envelope.name_transform.strip_prefix", "EVT_")
	v.SetDefault("envelope.name_transform.suffix", "Event")
	v.SetDefault("sinks.console.enabled", false)
	v.SetDefault("sinks.console.format", "text")
	v.SetDefault("sinks.kafka.enabled", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.outputs.file.enabled", false)
	v.SetDefault("log.outputs.file.rotation.max_size_mb", 50)
	v.SetDefault("log.outputs.file.rotation.max_backups", 3)
	v.SetDefault("log.outputs.file.rotation.max_age_days", 7)
}

func defaultStoreDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/packetlens"
	}
	return "./packetlens-data"
}
