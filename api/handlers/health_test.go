package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func backendCheck(name string, err error) *PingCheck {
	return NewPingCheck(name, func(context.Context) error { return err })
}

func serveReady(t *testing.T, h *HealthHandler) (int, ServiceHealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return w.Code, status
}

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	// 存活探针不跑就绪检查
	h.RegisterCheck(backendCheck("redis", errors.New("connection refused")))

	w := httptest.NewRecorder()
	h.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Checks)
	assert.WithinDuration(t, time.Now(), status.Timestamp, time.Minute)
}

func TestHealthHandler_Ready(t *testing.T) {
	cases := []struct {
		name     string
		checks   []HealthCheck
		wantCode int
		want     map[string]string
	}{
		{
			name:     "memory backends only",
			wantCode: http.StatusOK,
			want:     map[string]string{},
		},
		{
			name:     "redis and database up",
			checks:   []HealthCheck{backendCheck("redis", nil), backendCheck("database", nil)},
			wantCode: http.StatusOK,
			want:     map[string]string{"redis": "pass", "database": "pass"},
		},
		{
			name: "mongo down",
			checks: []HealthCheck{
				backendCheck("redis", nil),
				backendCheck("mongo", errors.New("server selection timeout")),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"redis": "pass", "mongo": "fail"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler(nil)
			for _, c := range tc.checks {
				h.RegisterCheck(c)
			}

			code, status := serveReady(t, h)
			assert.Equal(t, tc.wantCode, code)
			require.Len(t, status.Checks, len(tc.want))
			for name, want := range tc.want {
				assert.Equal(t, want, status.Checks[name].Status, name)
				assert.NotEmpty(t, status.Checks[name].Latency)
			}
			if tc.wantCode == http.StatusOK {
				assert.Equal(t, "healthy", status.Status)
			} else {
				assert.Equal(t, "unhealthy", status.Status)
			}
		})
	}
}

func TestHealthHandler_ReadyLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := NewHealthHandler(zap.New(core))
	h.RegisterCheck(backendCheck("database", errors.New("too many connections")))

	code, status := serveReady(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "too many connections", status.Checks["database"].Message)

	entries := logs.FilterMessage("health check failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "database", entries[0].ContextMap()["check"])
	assert.Equal(t, "health", entries[0].ContextMap()["component"])
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(nil)

	// 两个检查互相等待：串行执行会卡到超时
	var gate sync.WaitGroup
	gate.Add(2)
	for _, name := range []string{"redis", "mongo"} {
		h.RegisterCheck(NewPingCheck(name, func(ctx context.Context) error {
			gate.Done()
			done := make(chan struct{})
			go func() { gate.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}
	h.timeout = time.Second

	code, status := serveReady(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pass", status.Checks["redis"].Status)
	assert.Equal(t, "pass", status.Checks["mongo"].Status)
}

func TestHealthHandler_ReadyTimeout(t *testing.T) {
	h := NewHealthHandler(nil)
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(NewPingCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	code, status := serveReady(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail", status.Checks["slow"].Status)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestHealthHandler_Version(t *testing.T) {
	h := NewHealthHandler(nil)

	w := httptest.NewRecorder()
	h.HandleVersion("0.3.1", "2026-10-01T08:00:00Z", "9f1c2ab")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0.3.1", data["version"])
	assert.Equal(t, "2026-10-01T08:00:00Z", data["build_time"])
	assert.Equal(t, "9f1c2ab", data["git_commit"])
}

func TestPingCheck(t *testing.T) {
	calls := 0
	check := NewPingCheck("database", func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	assert.Equal(t, "database", check.Name())
	assert.NoError(t, check.Check(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, check.Check(ctx), context.Canceled)
	assert.Equal(t, 2, calls)
}
