package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/toolflow/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useAuditor(t *testing.T, a *Auditor) {
	t.Helper()
	previous := SetDefault(a)
	t.Cleanup(func() { SetDefault(previous) })
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestRecordCall(t *testing.T) {
	var buf bytes.Buffer
	useAuditor(t, New(&buf))

	RecordCall(context.Background(), "req-1", "weather", "failed", map[string]interface{}{
		"attempts": 2,
	})

	entry := decode(t, &buf)
	assert.Equal(t, "call", entry["type"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "call:weather", entry["action"])
	assert.Equal(t, "failed", entry["status"])
	assert.Equal(t, float64(2), entry["metadata"].(map[string]interface{})["attempts"])
	assert.Contains(t, entry, "time")
}

func TestRecordOrchestration(t *testing.T) {
	var buf bytes.Buffer
	useAuditor(t, New(&buf))

	RecordOrchestration(context.Background(), "req-2", "complete", nil)

	entry := decode(t, &buf)
	assert.Equal(t, "orchestration", entry["type"])
	assert.Equal(t, "orchestrate", entry["action"])
	assert.NotContains(t, entry, "metadata")
	assert.NotContains(t, entry, "trace_id")
}

func TestRecordTakesIDsFromContext(t *testing.T) {
	var buf bytes.Buffer
	a := New(&buf)

	ctx := tracing.WithIDs(context.Background(), tracing.IDs{TraceID: "trace-1", RequestID: "req-ctx"})
	a.Record(ctx, Entry{Kind: KindConfig, Action: "config:load", Status: "success"})

	entry := decode(t, &buf)
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-ctx", entry["request_id"])
}

func TestDefaultAuditorDiscards(t *testing.T) {
	useAuditor(t, nil)

	assert.NotPanics(t, func() {
		RecordConfig(context.Background(), "config:load", "success", nil)
	})
	assert.NoError(t, Default().Close())
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	a, err := Open(path)
	require.NoError(t, err)
	useAuditor(t, a)

	RecordConfig(context.Background(), "config:load", "success", map[string]interface{}{"path": "toolflow.yaml"})
	require.NoError(t, a.Close())

	// records after Close are dropped
	RecordConfig(context.Background(), "config:load", "late", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"config:load"`)
	assert.NotContains(t, string(data), "late")

	_, err = Open(filepath.Join(t.TempDir(), "missing", "audit.log"))
	assert.Error(t, err)
}
