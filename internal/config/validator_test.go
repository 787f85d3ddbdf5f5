package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDependencyMode(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mode    string
		wantErr bool
	}{
		{"empty uses default", "", false},
		{"after-complete", "after-complete", false},
		{"require-success", "require-success", false},
		{"unknown", "eventually", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDependencyMode(tt.mode)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateLogging(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.ValidateLogging(DefaultConfig().Logging))

	errs := v.ValidateLogging(LoggingConfig{Level: "info", MaxSize: -1, MaxAge: -1, MaxBackups: -2})
	require.Len(t, errs, 3)
	assert.Contains(t, errs[2].Error(), "logging.max_backups")

	errs = v.ValidateLogging(LoggingConfig{Level: "info", RedactPatterns: []string{`acct-[0-9]+`, `[broken`}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "logging.redact_patterns[1]")
}

func TestValidateEngine(t *testing.T) {
	v := NewValidator()

	t.Run("defaults", func(t *testing.T) {
		assert.Empty(t, v.ValidateEngine(DefaultConfig().Engine))
	})

	t.Run("zero retries is allowed", func(t *testing.T) {
		engine := DefaultConfig().Engine
		engine.MaxRetries = 0
		engine.RetryBaseDelay = 0
		assert.Empty(t, v.ValidateEngine(engine))
	})

	t.Run("reports every bad field", func(t *testing.T) {
		engine := EngineConfig{
			CircuitThreshold:  0,
			CircuitCoolDown:   -time.Second,
			MaxRetries:        -1,
			RetryBaseDelay:    -time.Millisecond,
			PerAttemptTimeout: -time.Second,
			ConcurrencyLimit:  0,
			DependencyMode:    "sometimes",
			RequestTimeout:    -time.Minute,
		}
		errs := v.ValidateEngine(engine)
		assert.Len(t, errs, 8)
	})
}

func TestValidateResource(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		resource ResourceConfig
		wantErr  string
	}{
		{
			name:     "valid http",
			resource: ResourceConfig{Name: "weather", Kind: KindHTTP, URL: "https://api.example.com/weather"},
		},
		{
			name:     "valid static",
			resource: ResourceConfig{Name: "cache", Kind: KindStatic, Payload: "cached"},
		},
		{
			name:     "missing name",
			resource: ResourceConfig{Kind: KindStatic},
			wantErr:  "name is required",
		},
		{
			name:     "http without url",
			resource: ResourceConfig{Name: "weather", Kind: KindHTTP},
			wantErr:  "url is required",
		},
		{
			name:     "http with relative url",
			resource: ResourceConfig{Name: "weather", Kind: KindHTTP, URL: "/weather"},
			wantErr:  "invalid url",
		},
		{
			name:     "http with unsupported scheme",
			resource: ResourceConfig{Name: "weather", Kind: KindHTTP, URL: "ftp://example.com/weather"},
			wantErr:  "unsupported url scheme",
		},
		{
			name:     "unknown kind",
			resource: ResourceConfig{Name: "weather", Kind: "grpc"},
			wantErr:  "invalid kind",
		},
		{
			name:     "negative timeout",
			resource: ResourceConfig{Name: "weather", Kind: KindHTTP, URL: "http://localhost/w", Timeout: -time.Second},
			wantErr:  "timeout cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateResource(tt.resource)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateFallback(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		fallback FallbackConfig
		wantErr  string
	}{
		{"valid", FallbackConfig{Primary: "weather", Chain: []string{"s1", "s2"}}, ""},
		{"missing primary", FallbackConfig{Chain: []string{"s1"}}, "primary is required"},
		{"empty chain", FallbackConfig{Primary: "weather"}, "cannot be empty"},
		{"empty substitute", FallbackConfig{Primary: "weather", Chain: []string{" "}}, "empty substitute"},
		{"self substitution", FallbackConfig{Primary: "weather", Chain: []string{"weather"}}, "its own substitute"},
		{"repeated substitute", FallbackConfig{Primary: "weather", Chain: []string{"s1", "s1"}}, "lists s1 twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFallback(tt.fallback)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("duplicate resources and chains", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Resources = []ResourceConfig{
			{Name: "weather", Kind: KindStatic},
			{Name: "weather", Kind: KindStatic},
		}
		cfg.Fallbacks = []FallbackConfig{
			{Primary: "weather", Chain: []string{"a"}},
			{Primary: "weather", Chain: []string{"b"}},
		}

		errs := v.ValidateConfig(cfg)
		require.Len(t, errs, 2)
		assert.Contains(t, errs[0].Error(), "duplicate name weather")
		assert.Contains(t, errs[1].Error(), "duplicate chain for weather")
	})

	t.Run("errors name their position", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Resources = []ResourceConfig{{Name: "geo", Kind: KindHTTP}}

		errs := v.ValidateConfig(cfg)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "resource 0 (geo)")
	})
}

func TestValidateServer(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.ValidateServer(DefaultConfig().Server))
	assert.Empty(t, v.ValidateServer(ServerConfig{Addr: ":8080", RateLimitPerMinute: -1}))

	errs := v.ValidateServer(ServerConfig{
		Addr:           "localhost",
		RequestTimeout: -time.Second,
		MaxBodyBytes:   -1,
	})
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Error(), "not host:port")
	assert.Contains(t, errs[1].Error(), "server.request_timeout")
	assert.Contains(t, errs[2].Error(), "server.max_body_bytes")
}

func TestValidateHook(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		hook    HookConfig
		wantErr string
	}{
		{"valid", HookConfig{Event: "circuit:open", Script: "echo open"}, ""},
		{"call failed", HookConfig{Event: "call:failed", Script: "cat >> failures.jsonl"}, ""},
		{"unknown event", HookConfig{Event: "daemon:startup", Script: "true"}, "invalid event"},
		{"missing script", HookConfig{Event: "circuit:close", Script: "  "}, "script is required"},
		{"negative timeout", HookConfig{Event: "orchestration:finished", Script: "true", Timeout: -time.Second}, "timeout cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateHook(tt.hook)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTracing(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.ValidateTracing(TracingConfig{SampleRatio: 1}))
	assert.Empty(t, v.ValidateTracing(TracingConfig{Exporter: "stdout", SampleRatio: 0.25}))
	assert.Empty(t, v.ValidateTracing(TracingConfig{Exporter: "otlp", Endpoint: "localhost:4317", SampleRatio: 1}))

	errs := v.ValidateTracing(TracingConfig{Exporter: "otlp", SampleRatio: 1.5})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "tracing.endpoint is required")
	assert.Contains(t, errs[1].Error(), "between 0 and 1")

	errs = v.ValidateTracing(TracingConfig{Exporter: "zipkin"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "invalid tracing exporter")
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()
	calls := []CallConfig{{Name: "ping"}}

	tests := []struct {
		name     string
		schedule ScheduleConfig
		wantErr  string
	}{
		{"every", ScheduleConfig{Name: "hb", Every: time.Minute, Calls: calls}, ""},
		{"cron", ScheduleConfig{Name: "brief", Cron: "0 7 * * *", TZ: "UTC", Calls: calls}, ""},
		{"missing name", ScheduleConfig{Every: time.Minute, Calls: calls}, "name is required"},
		{"no schedule", ScheduleConfig{Name: "hb", Calls: calls}, "requires every or cron"},
		{"bad cron", ScheduleConfig{Name: "hb", Cron: "often", Calls: calls}, "invalid cron expression"},
		{"no calls", ScheduleConfig{Name: "hb", Every: time.Minute}, "calls cannot be empty"},
		{"unnamed call", ScheduleConfig{Name: "hb", Every: time.Minute, Calls: []CallConfig{{}}}, "call 0: name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateSchedule(tt.schedule)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfigSchedules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schedules = []ScheduleConfig{
		{Name: "hb", Every: time.Minute, Calls: []CallConfig{{Name: "ping"}}},
		{Name: "hb", Every: time.Hour, Calls: []CallConfig{{Name: "ping"}}},
	}

	errs := NewValidator().ValidateConfig(cfg)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "duplicate name hb")
}

func TestValidateConfigHooks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hooks.Entries = []HookConfig{
		{Event: "circuit:open", Script: "true"},
		{Event: "circuit:opened", Script: "true"},
	}

	errs := NewValidator().ValidateConfig(cfg)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "hook 1: invalid event")
}

func TestUnresolvedNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources = []ResourceConfig{
		{Name: "weather", Kind: KindStatic},
		{Name: "s1", Kind: KindStatic},
	}
	cfg.Fallbacks = []FallbackConfig{
		{Primary: "weather", Chain: []string{"s1", "s2"}},
		{Primary: "news", Chain: []string{"s2"}},
	}

	assert.Equal(t, []string{"s2", "news"}, NewValidator().UnresolvedNames(cfg))
}
