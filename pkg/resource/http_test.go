package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPResource_PostSendsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Oslo", body["city"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp":4.5,"conditions":"snow"}`))
	}))
	defer server.Close()

	h := NewHTTPResource(server.URL, "post", time.Second)
	h.Headers = map[string]string{"X-Api-Key": "secret"}

	out, err := h.Invoke(context.Background(), map[string]interface{}{"city": "Oslo"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, map[string]interface{}{"temp": 4.5, "conditions": "snow"}, out.Payload)
}

func TestHTTPResource_GetEncodesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Paris", r.URL.Query().Get("city"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		_, _ = w.Write([]byte("plain text answer"))
	}))
	defer server.Close()

	h := NewHTTPResource(server.URL+"?units=metric", http.MethodGet, time.Second)

	out, err := h.Invoke(context.Background(), map[string]interface{}{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "plain text answer", out.Payload)
}

func TestHTTPResource_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPResource(server.URL, "", time.Second).Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPResource_SuccessPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{"ok":false},"problem":{"detail":"unknown city"}}`))
	}))
	defer server.Close()

	h := NewHTTPResource(server.URL, http.MethodPost, time.Second)
	h.SuccessPath = "meta.ok"
	h.ErrorPath = "problem.detail"

	out, err := h.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "unknown city", out.Error)
}

func TestHTTPResource_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHTTPResource(server.URL, http.MethodPost, 0).Invoke(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
