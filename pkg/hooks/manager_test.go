package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/toolflow/pkg/report"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerTriggerExecutesHookScript(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "open.txt")
	hookScript := "echo open > " + outputPath

	manager, err := NewManager(Config{
		Enabled: true,
		Hooks: []Hook{
			{
				ID:      "page",
				Event:   EventCircuitOpen,
				Script:  hookScript,
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Trigger(context.Background(), EventCircuitOpen, nil))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "open\n", string(content))
}

func TestManagerTriggerInjectsEventDataIntoEnvironment(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "env.txt")
	hookScript := "echo \"$TOOLFLOW_HOOK_EVENT:$TOOLFLOW_HOOK_DATA_RESOURCE\" > " + outputPath

	manager, err := NewManager(Config{
		Enabled: true,
		Hooks: []Hook{
			{
				ID:      "page",
				Event:   EventCircuitOpen,
				Script:  hookScript,
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Trigger(context.Background(), EventCircuitOpen, map[string]interface{}{
		"resource": "weather",
	}))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "circuit:open:weather\n", string(content))
}

func TestManagerTriggerReturnsJoinedErrors(t *testing.T) {
	manager, err := NewManager(Config{
		Enabled: true,
		Hooks: []Hook{
			{ID: "fail-1", Event: EventCircuitClose, Script: "exit 2", Enabled: true},
			{ID: "fail-2", Event: EventCircuitClose, Script: "echo broken; exit 3", Enabled: true},
		},
	})
	require.NoError(t, err)

	err = manager.Trigger(context.Background(), EventCircuitClose, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook fail-1 failed")
	assert.Contains(t, err.Error(), "hook fail-2 failed")
	assert.Contains(t, err.Error(), "broken")
}

func TestManagerTriggerRespectsTimeout(t *testing.T) {
	manager, err := NewManager(Config{
		Enabled: true,
		Hooks: []Hook{
			{
				ID:      "timeout",
				Event:   EventOrchestrationFinished,
				Script:  "sleep 5",
				Enabled: true,
				Timeout: 30 * time.Millisecond,
			},
		},
	})
	require.NoError(t, err)

	start := time.Now()
	err = manager.Trigger(context.Background(), EventOrchestrationFinished, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.True(t,
		strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "signal: killed"),
		"expected timeout-related error, got: %v",
		err,
	)
}

func TestManagerDefaultTimeout(t *testing.T) {
	manager, err := NewManager(Config{
		Enabled:        true,
		DefaultTimeout: 30 * time.Millisecond,
		Hooks: []Hook{
			{Event: EventCircuitOpen, Script: "sleep 5", Enabled: true},
		},
	})
	require.NoError(t, err)

	err = manager.Trigger(context.Background(), EventCircuitOpen, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook circuit:open failed")
}

func TestNewManagerValidatesHooks(t *testing.T) {
	_, err := NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: " ", Script: "true", Enabled: true}},
	})
	assert.EqualError(t, err, "hook event is required")

	_, err = NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: EventCircuitOpen, Enabled: true}},
	})
	assert.EqualError(t, err, `hook script is required for event "circuit:open"`)

	// disabled entries are not checked
	manager, err := NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: EventCircuitOpen, Enabled: false}},
	})
	require.NoError(t, err)
	assert.False(t, manager.Has(EventCircuitOpen))
}

func TestDisabledManagerIsNoop(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "never.txt")

	manager, err := NewManager(Config{
		Enabled: false,
		Hooks:   []Hook{{Event: EventCircuitOpen, Script: "touch " + outputPath, Enabled: true}},
	})
	require.NoError(t, err)

	assert.False(t, manager.Has(EventCircuitOpen))
	require.NoError(t, manager.Trigger(context.Background(), EventCircuitOpen, nil))
	manager.OnCircuitChange("weather", true)
	require.NoError(t, manager.Wait(context.Background()))

	_, err = os.Stat(outputPath)
	assert.True(t, os.IsNotExist(err))
}

func TestNilManagerIsNoop(t *testing.T) {
	var manager *Manager

	assert.False(t, manager.Has(EventCircuitOpen))
	assert.NoError(t, manager.Trigger(context.Background(), EventCircuitOpen, nil))
	manager.OnCircuitChange("weather", true)
	manager.OnOrchestrationFinished(context.Background(), "req", report.Result{})
	manager.OnCallFinished(context.Background(), "req", &toolcall.ToolCall{Err: errors.New("boom")})
	assert.NoError(t, manager.Wait(context.Background()))
}

func TestOnCircuitChangeDispatchesInBackground(t *testing.T) {
	dir := t.TempDir()

	manager, err := NewManager(Config{
		Enabled: true,
		Hooks: []Hook{
			{Event: EventCircuitOpen, Script: "echo \"$TOOLFLOW_HOOK_DATA_RESOURCE\" > " + filepath.Join(dir, "open.txt"), Enabled: true},
			{Event: EventCircuitClose, Script: "echo \"$TOOLFLOW_HOOK_DATA_RESOURCE\" > " + filepath.Join(dir, "close.txt"), Enabled: true},
		},
	})
	require.NoError(t, err)

	manager.OnCircuitChange("weather", true)
	manager.OnCircuitChange("news", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Wait(ctx))

	open, err := os.ReadFile(filepath.Join(dir, "open.txt"))
	require.NoError(t, err)
	assert.Equal(t, "weather\n", string(open))

	closed, err := os.ReadFile(filepath.Join(dir, "close.txt"))
	require.NoError(t, err)
	assert.Equal(t, "news\n", string(closed))
}

func TestOnOrchestrationFinished(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "finished.txt")
	script := "echo \"$TOOLFLOW_HOOK_DATA_REQUEST_ID $TOOLFLOW_HOOK_DATA_SUCCEEDED/$TOOLFLOW_HOOK_DATA_CALLS $TOOLFLOW_HOOK_DATA_FAILED_KEYS\" > " + outputPath

	manager, err := NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: EventOrchestrationFinished, Script: script, Enabled: true}},
	})
	require.NoError(t, err)

	res := report.Result{
		Succeeded: map[string]interface{}{"geocode": "ok"},
		Failed: map[string]error{
			"weather": toolcall.NewCallError(toolcall.ErrTimeout, "weather", "slow"),
			"news":    errors.New("no stories"),
		},
		Order: []string{"geocode", "weather", "news"},
	}

	// canceling the request context does not stop the hook
	ctx, cancel := context.WithCancel(context.Background())
	manager.OnOrchestrationFinished(ctx, "req-1", res)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, manager.Wait(waitCtx))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "req-1 1/3 weather,news\n", string(content))
}

func TestWaitHonorsContext(t *testing.T) {
	manager, err := NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: EventCircuitOpen, Script: "sleep 1", Enabled: true}},
	})
	require.NoError(t, err)

	manager.OnCircuitChange("weather", true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = manager.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, manager.Wait(context.Background()))
}

func TestManagerPassesPayloadOnStdin(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "stdin.json")

	manager, err := NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: EventCircuitOpen, Script: "cat > " + outputPath, Enabled: true}},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Trigger(context.Background(), EventCircuitOpen, Payload{"resource": "weather", "open": true}))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resource":"weather","open":true}`, string(content))
}

func TestOnCallFinished(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "failed.txt")
	script := "echo \"$TOOLFLOW_HOOK_DATA_KEY $TOOLFLOW_HOOK_DATA_ERROR_KIND $TOOLFLOW_HOOK_DATA_ATTEMPTS\" >> " + outputPath

	manager, err := NewManager(Config{
		Enabled: true,
		Hooks:   []Hook{{Event: EventCallFailed, Script: script, Enabled: true}},
	})
	require.NoError(t, err)

	ok := toolcall.New("geocode", map[string]interface{}{"city": "Paris"})
	failed := toolcall.New("weather", nil)
	failed.Attempts = 2
	failed.Err = toolcall.NewCallError(toolcall.ErrTimeout, "weather", "slow")

	manager.OnCallFinished(context.Background(), "req-1", ok)
	manager.OnCallFinished(context.Background(), "req-1", failed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Wait(ctx))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, failed.Key+" "+toolcall.KindName(toolcall.ErrTimeout)+" 2\n", string(content))
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "FAILED_KEYS", envName("failed_keys"))
	assert.Equal(t, "REQUEST_ID", envName("request-id"))
	assert.Equal(t, "ERROR_KIND", envName(" error.kind "))
	assert.Equal(t, "UNKNOWN", envName("  "))
}

func TestEnviron(t *testing.T) {
	env := environ(EventCircuitOpen, Payload{"resource": "weather", "count": 3})

	assert.Contains(t, env, "TOOLFLOW_HOOK_EVENT=circuit:open")
	assert.Contains(t, env, "TOOLFLOW_HOOK_DATA_RESOURCE=weather")
	assert.Contains(t, env, "TOOLFLOW_HOOK_DATA_COUNT=3")

	// payload keys follow the event, sorted
	n := len(env)
	assert.Equal(t, "TOOLFLOW_HOOK_DATA_COUNT=3", env[n-2])
	assert.Equal(t, "TOOLFLOW_HOOK_DATA_RESOURCE=weather", env[n-1])
}
