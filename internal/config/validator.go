package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDuration rejects negative durations
func (v *Validator) ValidateDuration(name string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%s cannot be negative, got %s", name, d)
	}
	return nil
}

// ValidateDependencyMode validates the engine's dependency mode
func (v *Validator) ValidateDependencyMode(mode string) error {
	if mode == "" {
		return nil // Use default
	}

	validModes := []string{"after-complete", "require-success"}
	for _, valid := range validModes {
		if mode == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid dependency mode: %s (must be one of: %s)", mode, strings.Join(validModes, ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateLogging validates the log level and file retention
func (v *Validator) ValidateLogging(logging LoggingConfig) []error {
	var errors []error

	if err := v.ValidateLogLevel(logging.Level); err != nil {
		errors = append(errors, err)
	}
	if logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size cannot be negative, got %d", logging.MaxSize))
	}
	if logging.MaxAge < 0 {
		errors = append(errors, fmt.Errorf("logging.max_age cannot be negative, got %d", logging.MaxAge))
	}
	if logging.MaxBackups < 0 {
		errors = append(errors, fmt.Errorf("logging.max_backups cannot be negative, got %d", logging.MaxBackups))
	}
	for i, pattern := range logging.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errors = append(errors, fmt.Errorf("logging.redact_patterns[%d]: %w", i, err))
		}
	}

	return errors
}

// ValidateEngine validates engine tunables
func (v *Validator) ValidateEngine(engine EngineConfig) []error {
	var errors []error

	if engine.CircuitThreshold < 1 {
		errors = append(errors, fmt.Errorf("engine.circuit_threshold must be >= 1, got %d", engine.CircuitThreshold))
	}
	if engine.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("engine.max_retries must be >= 0, got %d", engine.MaxRetries))
	}
	if engine.ConcurrencyLimit < 1 {
		errors = append(errors, fmt.Errorf("engine.concurrency_limit must be >= 1, got %d", engine.ConcurrencyLimit))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"engine.circuit_cool_down", engine.CircuitCoolDown},
		{"engine.retry_base_delay", engine.RetryBaseDelay},
		{"engine.per_attempt_timeout", engine.PerAttemptTimeout},
		{"engine.request_timeout", engine.RequestTimeout},
	}
	for _, d := range durations {
		if err := v.ValidateDuration(d.name, d.value); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateDependencyMode(engine.DependencyMode); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// ValidateResource validates one declared resource
func (v *Validator) ValidateResource(r ResourceConfig) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}

	switch r.Kind {
	case KindHTTP:
		if r.URL == "" {
			return fmt.Errorf("url is required for http resources")
		}
		u, err := url.Parse(r.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid url %q", r.URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	case KindStatic:
	default:
		return fmt.Errorf("invalid kind %q (must be one of: %s, %s)", r.Kind, KindHTTP, KindStatic)
	}

	if err := v.ValidateDuration("timeout", r.Timeout); err != nil {
		return err
	}
	return v.ValidateDuration("delay", r.Delay)
}

// ValidateFallback validates one fallback chain
func (v *Validator) ValidateFallback(f FallbackConfig) error {
	if strings.TrimSpace(f.Primary) == "" {
		return fmt.Errorf("primary is required")
	}
	if len(f.Chain) == 0 {
		return fmt.Errorf("chain for %s cannot be empty", f.Primary)
	}

	seen := make(map[string]bool, len(f.Chain))
	for _, substitute := range f.Chain {
		if strings.TrimSpace(substitute) == "" {
			return fmt.Errorf("chain for %s has an empty substitute", f.Primary)
		}
		if substitute == f.Primary {
			return fmt.Errorf("%s cannot be its own substitute", f.Primary)
		}
		if seen[substitute] {
			return fmt.Errorf("chain for %s lists %s twice", f.Primary, substitute)
		}
		seen[substitute] = true
	}
	return nil
}

// HookEvents lists the lifecycle events hooks may subscribe to
var HookEvents = []string{"call:failed", "circuit:open", "circuit:close", "orchestration:finished"}

// ValidateServer validates the HTTP API settings
func (v *Validator) ValidateServer(server ServerConfig) []error {
	var errors []error

	if server.Addr != "" {
		if _, _, err := net.SplitHostPort(server.Addr); err != nil {
			errors = append(errors, fmt.Errorf("server.addr %q is not host:port", server.Addr))
		}
	}
	if err := v.ValidateDuration("server.request_timeout", server.RequestTimeout); err != nil {
		errors = append(errors, err)
	}
	if server.MaxBodyBytes < 0 {
		errors = append(errors, fmt.Errorf("server.max_body_bytes cannot be negative, got %d", server.MaxBodyBytes))
	}

	return errors
}

// ValidateHook validates one hook entry
func (v *Validator) ValidateHook(h HookConfig) error {
	if !slices.Contains(HookEvents, h.Event) {
		return fmt.Errorf("invalid event %q (must be one of: %s)", h.Event, strings.Join(HookEvents, ", "))
	}
	if strings.TrimSpace(h.Script) == "" {
		return fmt.Errorf("script is required")
	}
	return v.ValidateDuration("timeout", h.Timeout)
}

// ValidateSchedule validates one scheduled batch
func (v *Validator) ValidateSchedule(s ScheduleConfig) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := s.Schedule().Validate(); err != nil {
		return err
	}
	if len(s.Calls) == 0 {
		return fmt.Errorf("calls cannot be empty")
	}
	for i, c := range s.Calls {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("call %d: name is required", i)
		}
	}
	return nil
}

// ValidateTracing validates the tracer provider settings
func (v *Validator) ValidateTracing(t TracingConfig) []error {
	var errors []error

	switch t.Exporter {
	case "", "stdout":
	case "otlp":
		if t.Endpoint == "" {
			errors = append(errors, fmt.Errorf("tracing.endpoint is required for the otlp exporter"))
		}
	default:
		errors = append(errors, fmt.Errorf("invalid tracing exporter: %s (must be one of: stdout, otlp)", t.Exporter))
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", t.SampleRatio))
	}

	return errors
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	errors = append(errors, v.ValidateEngine(cfg.Engine)...)

	names := make(map[string]bool, len(cfg.Resources))
	for i, r := range cfg.Resources {
		if err := v.ValidateResource(r); err != nil {
			errors = append(errors, fmt.Errorf("resource %d (%s): %w", i, r.Name, err))
		}
		if r.Name != "" && names[r.Name] {
			errors = append(errors, fmt.Errorf("resource %d: duplicate name %s", i, r.Name))
		}
		names[r.Name] = true
	}

	primaries := make(map[string]bool, len(cfg.Fallbacks))
	for i, f := range cfg.Fallbacks {
		if err := v.ValidateFallback(f); err != nil {
			errors = append(errors, fmt.Errorf("fallback %d: %w", i, err))
		}
		if f.Primary != "" && primaries[f.Primary] {
			errors = append(errors, fmt.Errorf("fallback %d: duplicate chain for %s", i, f.Primary))
		}
		primaries[f.Primary] = true
	}

	errors = append(errors, v.ValidateLogging(cfg.Logging)...)
	errors = append(errors, v.ValidateTracing(cfg.Tracing)...)
	errors = append(errors, v.ValidateServer(cfg.Server)...)

	if err := v.ValidateDuration("hooks.timeout", cfg.Hooks.Timeout); err != nil {
		errors = append(errors, err)
	}
	for i, h := range cfg.Hooks.Entries {
		if err := v.ValidateHook(h); err != nil {
			errors = append(errors, fmt.Errorf("hook %d: %w", i, err))
		}
	}

	scheduleNames := make(map[string]bool, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		if err := v.ValidateSchedule(s); err != nil {
			errors = append(errors, fmt.Errorf("schedule %d (%s): %w", i, s.Name, err))
		}
		if s.Name != "" && scheduleNames[s.Name] {
			errors = append(errors, fmt.Errorf("schedule %d: duplicate name %s", i, s.Name))
		}
		scheduleNames[s.Name] = true
	}

	return errors
}

// UnresolvedNames returns fallback primaries and substitutes that no declared
// resource answers to. They are legal, since resources may be registered in
// code, but the CLI cannot reach them.
func (v *Validator) UnresolvedNames(cfg *Config) []string {
	declared := make(map[string]bool, len(cfg.Resources))
	for _, r := range cfg.Resources {
		declared[r.Name] = true
	}

	seen := make(map[string]bool)
	var missing []string
	add := func(name string) {
		if name == "" || declared[name] || seen[name] {
			return
		}
		seen[name] = true
		missing = append(missing, name)
	}

	for _, f := range cfg.Fallbacks {
		add(f.Primary)
		for _, s := range f.Chain {
			add(s)
		}
	}
	return missing
}
