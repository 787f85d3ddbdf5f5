package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/toolflow/pkg/fallback"
	"github.com/harun/toolflow/pkg/resource"
)

// Config represents the main toolflow configuration
type Config struct {
	// Engine tunables
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Fallback chains keyed by primary capability
	Fallbacks []FallbackConfig `json:"fallbacks" mapstructure:"fallbacks"`

	// Resources declared in config rather than registered in code
	Resources []ResourceConfig `json:"resources" mapstructure:"resources"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// HTTP API served by "toolflow serve"
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Lifecycle hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Recurring batches run by "toolflow serve"
	Schedules []ScheduleConfig `json:"schedules" mapstructure:"schedules"`
}

// EngineConfig holds the orchestration engine's tunables
type EngineConfig struct {
	CircuitThreshold  int           `json:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitCoolDown   time.Duration `json:"circuit_cool_down" mapstructure:"circuit_cool_down"`
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelay    time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	PerAttemptTimeout time.Duration `json:"per_attempt_timeout" mapstructure:"per_attempt_timeout"`
	ConcurrencyLimit  int           `json:"concurrency_limit" mapstructure:"concurrency_limit"`
	DependencyMode    string        `json:"dependency_mode" mapstructure:"dependency_mode"` // after-complete, require-success
	RequestTimeout    time.Duration `json:"request_timeout" mapstructure:"request_timeout"` // 0 disables
}

// FallbackConfig is one primary's ordered substitute chain
type FallbackConfig struct {
	Primary string                   `json:"primary" mapstructure:"primary"`
	Chain   []string                 `json:"chain" mapstructure:"chain"`
	Adapt   *fallback.MappingAdapter `json:"adapt,omitempty" mapstructure:"adapt"`
}

// ResourceConfig declares a built-in resource
type ResourceConfig struct {
	Name        string               `json:"name" mapstructure:"name"`
	Description string               `json:"description,omitempty" mapstructure:"description"`
	Kind        string               `json:"kind" mapstructure:"kind"` // http, static
	Parameters  []resource.Parameter `json:"parameters,omitempty" mapstructure:"parameters"`

	// http
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Method  string            `json:"method,omitempty" mapstructure:"method"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Timeout time.Duration     `json:"timeout,omitempty" mapstructure:"timeout"`
	Success string            `json:"success,omitempty" mapstructure:"success"` // gjson path of a success flag
	Error   string            `json:"error,omitempty" mapstructure:"error"`     // gjson path of an error message

	// static
	Payload  interface{}   `json:"payload,omitempty" mapstructure:"payload"`
	FailWith string        `json:"fail_with,omitempty" mapstructure:"fail_with"`
	Delay    time.Duration `json:"delay,omitempty" mapstructure:"delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // 0 keeps all
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`

	// RedactPatterns are extra regular expressions masked when Redaction is on
	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"` // empty disables
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	File string `json:"file" mapstructure:"file"` // empty disables
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	Exporter    string  `json:"exporter" mapstructure:"exporter"` // "", stdout, otlp
	Endpoint    string  `json:"endpoint,omitempty" mapstructure:"endpoint"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Addr               string        `json:"addr" mapstructure:"addr"`
	Secret             string        `json:"secret,omitempty" mapstructure:"secret"`                     // HMAC-SHA256 request signing; empty disables
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // per client IP, negative disables
	RequestTimeout     time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	MaxBodyBytes       int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// HooksConfig holds shell hooks run on engine lifecycle events
type HooksConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"` // default per hook
	Entries []HookConfig  `json:"entries" mapstructure:"entries"`
}

// HookConfig is one shell hook
type HookConfig struct {
	ID       string        `json:"id,omitempty" mapstructure:"id"`
	Event    string        `json:"event" mapstructure:"event"`
	Script   string        `json:"script" mapstructure:"script"`
	Timeout  time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	Disabled bool          `json:"disabled,omitempty" mapstructure:"disabled"`
}

// ScheduleConfig is a batch of calls run on an interval or cron expression
type ScheduleConfig struct {
	Name     string        `json:"name" mapstructure:"name"`
	Every    time.Duration `json:"every,omitempty" mapstructure:"every"`
	Cron     string        `json:"cron,omitempty" mapstructure:"cron"` // five fields
	TZ       string        `json:"tz,omitempty" mapstructure:"tz"`
	Calls    []CallConfig  `json:"calls" mapstructure:"calls"`
	Disabled bool          `json:"disabled,omitempty" mapstructure:"disabled"`
}

// CallConfig is one tool call of a scheduled batch
type CallConfig struct {
	Name         string                 `json:"name" mapstructure:"name"`
	Arguments    map[string]interface{} `json:"arguments,omitempty" mapstructure:"arguments"`
	Priority     int                    `json:"priority,omitempty" mapstructure:"priority"`
	Dependencies []string               `json:"dependencies,omitempty" mapstructure:"dependencies"`
}

// Resource kinds
const (
	KindHTTP   = "http"
	KindStatic = "static"
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			CircuitThreshold:  5,
			CircuitCoolDown:   300 * time.Second,
			MaxRetries:        1,
			RetryBaseDelay:    300 * time.Millisecond,
			PerAttemptTimeout: 10 * time.Second,
			ConcurrencyLimit:  5,
			DependencyMode:    "after-complete",
			RequestTimeout:    0,
		},
		Fallbacks: []FallbackConfig{},
		Resources: []ResourceConfig{},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
		},
		Tracing: TracingConfig{
			ServiceName: "toolflow",
			SampleRatio: 1,
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:8080",
			RateLimitPerMinute: 60,
			RequestTimeout:     60 * time.Second,
			MaxBodyBytes:       1 << 20,
		},
		Hooks: HooksConfig{
			Timeout: 30 * time.Second,
			Entries: []HookConfig{},
		},
		Schedules: []ScheduleConfig{},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Server.Secret != "" {
		masked.Server.Secret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
