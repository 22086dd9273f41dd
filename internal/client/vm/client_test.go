package vm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-engine/internal/config"
)

// writeJSON writes a JSON response with proper headers
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func vectorResponse(value string) map[string]interface{} {
	return map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"resultType": "vector",
			"result": []map[string]interface{}{
				{"metric": map[string]string{}, "value": []interface{}{1700000000, value}},
			},
		},
	}
}

func newTestClient(url string, retries int) *Client {
	return NewClient(
		&config.VictoriaMetricsConfig{Endpoint: url, Timeout: 2 * time.Second},
		&config.RetryConfig{MaxRetries: retries, BaseDelay: time.Millisecond},
		zerolog.Nop(),
	)
}

func TestNewClient(t *testing.T) {
	t.Run("with_default_values", func(t *testing.T) {
		client := NewClient(&config.VictoriaMetricsConfig{Endpoint: "http://localhost:8428"}, nil, zerolog.Nop())

		assert.Equal(t, "http://localhost:8428", client.endpoint)
		assert.Equal(t, 30*time.Second, client.timeout)
		assert.Equal(t, 3, client.retry.MaxRetries)
		assert.Equal(t, defaultConcurrency, client.concurrency)
	})

	t.Run("with_custom_values", func(t *testing.T) {
		client := NewClient(
			&config.VictoriaMetricsConfig{Endpoint: "http://localhost:8428", Timeout: time.Minute},
			&config.RetryConfig{MaxRetries: 5, BaseDelay: 2 * time.Second},
			zerolog.Nop(),
		)
		client.SetConcurrency(2)
		client.SetConcurrency(0)

		assert.Equal(t, time.Minute, client.timeout)
		assert.Equal(t, 5, client.retry.MaxRetries)
		assert.Equal(t, 2*time.Second, client.retry.BaseDelay)
		assert.Equal(t, 2, client.concurrency)
	})
}

func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "avg(mem_used_percent)", r.URL.Query().Get("query"))
		writeJSON(w, vectorResponse("96"))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL, 0).Query(context.Background(), "avg(mem_used_percent)")
	require.NoError(t, err)
	point, _, ok := resp.Latest()
	require.True(t, ok)
	assert.Equal(t, 96.0, point.Value)
}

func TestClient_Query_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "error", "errorType": "bad_data", "error": "parse error"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).Query(context.Background(), "bad(")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_data")
}

func TestClient_Query_RetryOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, vectorResponse("1"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Query(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Query_NoRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Query(context.Background(), "up")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryCondition(t *testing.T) {
	assert.True(t, retryCondition(nil, context.DeadlineExceeded))
	assert.False(t, retryCondition(nil, nil))
}

func TestClient_GetLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "avg(mem_used_percent)":
			writeJSON(w, vectorResponse("96"))
		case "cpu_usage_active":
			writeJSON(w, vectorResponse("42.5"))
		case "disk_used_percent":
			writeJSON(w, vectorResponse("NaN"))
		case "broken":
			w.WriteHeader(http.StatusBadRequest)
		default:
			writeJSON(w, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"resultType": "vector", "result": []interface{}{}},
			})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	client.SetQueries(map[string]string{"memory_usage": "avg(mem_used_percent)"})

	readings, err := client.GetLatest(context.Background(),
		[]string{"memory_usage", "cpu_usage_active", "disk_used_percent", "broken", "absent"})
	require.NoError(t, err)

	require.Len(t, readings, 2)
	assert.Equal(t, 96.0, readings["memory_usage"].Value)
	assert.Equal(t, "memory_usage", readings["memory_usage"].Name)
	assert.True(t, readings["memory_usage"].ObservedAt.Equal(time.Unix(1700000000, 0)))
	assert.Equal(t, 42.5, readings["cpu_usage_active"].Value)
}

func TestClient_GetLatest_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url, 0).GetLatest(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClient_GetLatest_Empty(t *testing.T) {
	readings, err := newTestClient("http://127.0.0.1:1", 0).GetLatest(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestClient_GetLatest_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, vectorResponse("1"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(server.URL, 0).GetLatest(ctx, []string{"up"})
	assert.ErrorIs(t, err, context.Canceled)
}
