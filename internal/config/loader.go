package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TOOLFLOW_ENGINE_MAX_RETRIES
const EnvPrefix = "TOOLFLOW"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing file yields the defaults
// with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		configType, err := configTypeOf(configPath)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(configPath)
		v.SetConfigType(configType)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Resources {
		r := &cfg.Resources[i]
		if r.Kind == "" && r.URL != "" {
			r.Kind = KindHTTP
		} else if r.Kind == "" {
			r.Kind = KindStatic
		}
	}

	return cfg, nil
}

// Save writes the configuration to file, in the format implied by its extension
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()

	configType, err := configTypeOf(configPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	values, err := toMap(cfg)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType)
	for key, value := range values {
		v.Set(key, value)
	}

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "toolflow.yaml"
	}
	return filepath.Join(home, ".toolflow", "toolflow.yaml")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func configTypeOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q (use .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// setDefaults registers scalar keys so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.circuit_threshold", cfg.Engine.CircuitThreshold)
	v.SetDefault("engine.circuit_cool_down", cfg.Engine.CircuitCoolDown)
	v.SetDefault("engine.max_retries", cfg.Engine.MaxRetries)
	v.SetDefault("engine.retry_base_delay", cfg.Engine.RetryBaseDelay)
	v.SetDefault("engine.per_attempt_timeout", cfg.Engine.PerAttemptTimeout)
	v.SetDefault("engine.concurrency_limit", cfg.Engine.ConcurrencyLimit)
	v.SetDefault("engine.dependency_mode", cfg.Engine.DependencyMode)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("audit.file", cfg.Audit.File)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.exporter", cfg.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.secret", cfg.Server.Secret)
	v.SetDefault("server.rate_limit_per_minute", cfg.Server.RateLimitPerMinute)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("server.max_body_bytes", cfg.Server.MaxBodyBytes)

	v.SetDefault("hooks.enabled", cfg.Hooks.Enabled)
	v.SetDefault("hooks.timeout", cfg.Hooks.Timeout)
}

// durationKeys are written as strings ("300ms") rather than nanoseconds
var durationKeys = map[string]map[string]func(*Config) time.Duration{
	"engine": {
		"circuit_cool_down":   func(c *Config) time.Duration { return c.Engine.CircuitCoolDown },
		"retry_base_delay":    func(c *Config) time.Duration { return c.Engine.RetryBaseDelay },
		"per_attempt_timeout": func(c *Config) time.Duration { return c.Engine.PerAttemptTimeout },
		"request_timeout":     func(c *Config) time.Duration { return c.Engine.RequestTimeout },
	},
	"server": {
		"request_timeout": func(c *Config) time.Duration { return c.Server.RequestTimeout },
	},
	"hooks": {
		"timeout": func(c *Config) time.Duration { return c.Hooks.Timeout },
	},
}

// toMap converts cfg to plain maps keyed by the config file names
func toMap(cfg *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	for section, keys := range durationKeys {
		m, ok := values[section].(map[string]interface{})
		if !ok {
			continue
		}
		for key, get := range keys {
			m[key] = get(cfg).String()
		}
	}

	if resources, ok := values["resources"].([]interface{}); ok {
		for i, r := range resources {
			m, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			if d := cfg.Resources[i].Timeout; d > 0 {
				m["timeout"] = d.String()
			}
			if d := cfg.Resources[i].Delay; d > 0 {
				m["delay"] = d.String()
			}
		}
	}

	if hooks, ok := values["hooks"].(map[string]interface{}); ok {
		if entries, ok := hooks["entries"].([]interface{}); ok {
			for i, e := range entries {
				m, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				if d := cfg.Hooks.Entries[i].Timeout; d > 0 {
					m["timeout"] = d.String()
				}
			}
		}
	}

	if schedules, ok := values["schedules"].([]interface{}); ok {
		for i, e := range schedules {
			m, ok := e.(map[string]interface{})
			if !ok {
				continue
			}
			if d := cfg.Schedules[i].Every; d > 0 {
				m["every"] = d.String()
			}
		}
	}

	return values, nil
}
