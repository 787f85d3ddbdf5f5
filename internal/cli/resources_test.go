package cli

import (
	"testing"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcesCommand(t *testing.T) {
	dir := t.TempDir()

	t.Run("lists resources and chains", func(t *testing.T) {
		cfg := writeFile(t, dir, "toolflow.yaml", testConfig)

		out, _, err := execute(t, "resources", "--config", cfg)
		require.NoError(t, err)

		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "fails: upstream down")
		assert.Contains(t, out, "fixed payload")
		assert.Contains(t, out, "weather -> weather_backup")
		assert.Contains(t, out, "opens after 5 consecutive failures, cool-down 5m0s")
		assert.Contains(t, out, "Retries: 0")
	})

	t.Run("no resources", func(t *testing.T) {
		cfg := writeFile(t, dir, "empty.yaml", "engine:\n  max_retries: 1\n")

		out, _, err := execute(t, "resources", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "No resources configured")
		assert.NotContains(t, out, "Fallback chains")
	})
}

func TestTarget(t *testing.T) {
	tests := []struct {
		name     string
		resource config.ResourceConfig
		expected string
	}{
		{"http default method", config.ResourceConfig{Kind: config.KindHTTP, URL: "http://svc/geo"}, "POST http://svc/geo"},
		{"http get", config.ResourceConfig{Kind: config.KindHTTP, URL: "http://svc/geo", Method: "get"}, "GET http://svc/geo"},
		{"static payload", config.ResourceConfig{Kind: config.KindStatic}, "fixed payload"},
		{"static failure", config.ResourceConfig{Kind: config.KindStatic, FailWith: "down"}, "fails: down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, target(tt.resource))
		})
	}
}

func TestParameters(t *testing.T) {
	r := config.ResourceConfig{Parameters: []resource.Parameter{
		{Name: "city", Type: "string", Required: true},
		{Name: "units", Type: "string"},
	}}
	assert.Equal(t, "city*,units", parameters(r))
	assert.Equal(t, "-", parameters(config.ResourceConfig{}))
}
