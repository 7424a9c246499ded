package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestNewServer_CreatesServerWithAddress(t *testing.T) {
	server := NewServer(":9999")

	require.NotNil(t, server.server)
	assert.Equal(t, ":9999", server.server.Addr)
}

func TestServer_MetricsEndpointServesBufferMetrics(t *testing.T) {
	NewCollector("server-test").SetQueueLength(7)
	server := NewServer(":0")

	code, body := get(t, server, "/metrics")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `synthbuffer_queue_length{namespace="server-test"} 7`)
}

func TestServer_HealthWithoutChecks(t *testing.T) {
	code, body := get(t, NewServer(":0"), "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestServer_HealthReportsFailingChecks(t *testing.T) {
	var sawDeadline bool
	server := NewServer(":0",
		func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return nil
		},
		func(ctx context.Context) error { return errors.New("store unavailable") },
	)

	code, body := get(t, server, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "store unavailable", body)
	assert.True(t, sawDeadline, "checks run under a timeout")
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := NewServer("localhost:9998")
	server.Start()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:9998/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.NoError(t, server.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	_, err := http.Get("http://localhost:9998/health")
	assert.Error(t, err)
}

func TestServer_ErrReturnsStartupErrors(t *testing.T) {
	server1 := NewServer("localhost:9994")
	server1.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server1.Shutdown(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	server2 := NewServer("localhost:9994")
	server2.Start()

	assert.Eventually(t, func() bool { return server2.Err() != nil }, 2*time.Second, 20*time.Millisecond,
		"second server should fail to bind")
}
