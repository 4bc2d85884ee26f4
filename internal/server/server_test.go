package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/metrics"
	"github.com/orgoj/logrelay/internal/pipeline"
	"github.com/orgoj/logrelay/internal/record"
	"github.com/orgoj/logrelay/internal/security"
)

const testSecret = "test_secret_that_is_at_least_32_characters_long"

type fakePipeline struct {
	mu     sync.Mutex
	recs   []*record.Record
	resets []string
}

func (f *fakePipeline) Emit(r *record.Record) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, r)
	return true
}

func (f *fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{Snapshot: metrics.Snapshot{Emitted: uint64(len(f.recs))}, QueueCapacity: 8}
}

func (f *fakePipeline) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "logrelay_records_emitted_total 0\n")
	})
}

func (f *fakePipeline) ResetSink(name string) (bool, error) {
	if name != "file" {
		return false, fmt.Errorf("%w: %s", pipeline.ErrUnknownSink, name)
	}
	f.resets = append(f.resets, name)
	return true, nil
}

// Helper function to create minimal valid config for testing
func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Enabled = true
	cfg.Server.Port = 0
	cfg.Security.Token.Secret = ""
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakePipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := &fakePipeline{}
	s, err := NewServer(Dependencies{Config: cfg, Pipeline: p, AppLogger: logger.Nop()})
	require.NoError(t, err)
	return s, p
}

type request struct {
	method  string
	path    string
	body    string
	remote  string
	headers map[string]string
}

func do(s *Server, r request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.method, r.path, strings.NewReader(r.body))
	req.RemoteAddr = r.remote
	if req.RemoteAddr == "" {
		req.RemoteAddr = "127.0.0.1:40000"
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Panics with nil Config", func(t *testing.T) {
		assert.Panics(t, func() {
			_, _ = NewServer(Dependencies{Pipeline: &fakePipeline{}, AppLogger: logger.Nop()})
		})
	})

	t.Run("Panics with nil Pipeline", func(t *testing.T) {
		assert.Panics(t, func() {
			_, _ = NewServer(Dependencies{Config: createTestConfig(), AppLogger: logger.Nop()})
		})
	})

	t.Run("Invalid trusted proxies", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Server.TrustedProxies = []string{"not-a-cidr"}
		_, err := NewServer(Dependencies{Config: cfg, Pipeline: &fakePipeline{}, AppLogger: logger.Nop()})
		assert.ErrorContains(t, err, "trusted_proxies")
	})

	t.Run("Invalid admin allowlist", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Server.AdminAllowedIPs = []string{"10.0.0.0/99"}
		_, err := NewServer(Dependencies{Config: cfg, Pipeline: &fakePipeline{}, AppLogger: logger.Nop()})
		assert.ErrorContains(t, err, "admin_allowed_ips")
	})

	t.Run("Rate limiting enabled when configured", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Server.RequestLimits.RateLimit = 60
		s, _ := newTestServer(t, cfg)
		assert.InDelta(t, 1.0, float64(s.rateLimit), 0.0001)
		assert.Equal(t, 60, s.burstLimit)
	})
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t, createTestConfig())

	w := do(s, request{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(s, request{method: http.MethodHead, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, request{method: http.MethodGet, path: "/version"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version"`)
}

func TestEmit_WithoutSecret(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.AddAttributes = []config.AddAttributeSpec{{Name: "client_ip", Source: "client_ip"}}
	s, p := newTestServer(t, cfg)

	w := do(s, request{method: http.MethodPost, path: "/emit", remote: "203.0.113.5:1234",
		body: `[{"logger":"web","message":"a"},{"logger":"web","message":"b"}]`})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, p.recs, 2)
	ip, _ := p.recs[0].Attr("client_ip")
	assert.Equal(t, "203.0.113.5", ip)
}

func TestEmit_Token(t *testing.T) {
	cfg := createTestConfig()
	cfg.Security.Token.Secret = testSecret
	s, p := newTestServer(t, cfg)

	token, err := security.GenerateToken(testSecret, "billing", time.Hour)
	require.NoError(t, err)
	body := `{"logger":"billing","message":"invoice sent"}`

	testCases := []struct {
		name    string
		headers map[string]string
		code    int
	}{
		{"missing token", nil, http.StatusUnauthorized},
		{"missing source", map[string]string{"Authorization": "Bearer " + token}, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic " + token, SourceHeader: "billing"}, http.StatusUnauthorized},
		{"other source", map[string]string{"Authorization": "Bearer " + token, SourceHeader: "auth"}, http.StatusUnauthorized},
		{"valid", map[string]string{"Authorization": "Bearer " + token, SourceHeader: "billing"}, http.StatusAccepted},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(s, request{method: http.MethodPost, path: "/emit", body: body, headers: tc.headers})
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
	assert.Len(t, p.recs, 1)
}

func TestEmit_RateLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.RequestLimits.RateLimit = 2
	s, _ := newTestServer(t, cfg)

	send := func(remote string) int {
		return do(s, request{method: http.MethodPost, path: "/emit", remote: remote, body: `{"message":"x"}`}).Code
	}
	assert.Equal(t, http.StatusAccepted, send("198.51.100.1:1"))
	assert.Equal(t, http.StatusAccepted, send("198.51.100.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1:3"))
	assert.Equal(t, http.StatusAccepted, send("198.51.100.2:1"), "limits are per client IP")

	// /health is never limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(s, request{method: http.MethodGet, path: "/health", remote: "198.51.100.1:9"}).Code)
	}
}

func TestLimiterPruning(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.RequestLimits.RateLimit = 60
	s, _ := newTestServer(t, cfg)

	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	for i := 0; i < limiterPruneThreshold; i++ {
		s.limiterFor(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	require.Len(t, s.limiters, limiterPruneThreshold)

	clock = clock.Add(limiterIdleTTL + time.Second)
	s.limiterFor("10.9.9.9")
	assert.Len(t, s.limiters, 1)
}

func TestAdminEndpoints(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.AdminAllowedIPs = []string{"127.0.0.1"}
	s, p := newTestServer(t, cfg)

	w := do(s, request{method: http.MethodGet, path: "/stats", remote: "203.0.113.5:1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(s, request{method: http.MethodGet, path: "/stats"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queue_capacity":8`)

	w = do(s, request{method: http.MethodPost, path: "/sinks/file/reset", remote: "203.0.113.5:1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, p.resets)

	w = do(s, request{method: http.MethodPost, path: "/sinks/file/reset"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"file"}, p.resets)

	w = do(s, request{method: http.MethodPost, path: "/sinks/missing/reset"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, request{method: http.MethodGet, path: "/metrics", remote: "203.0.113.5:1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(s, request{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "logrelay_records_emitted_total")
}

func TestAdminEndpoints_LoopbackOnlyByDefault(t *testing.T) {
	s, p := newTestServer(t, createTestConfig())

	for _, path := range []string{"/stats", "/metrics"} {
		w := do(s, request{method: http.MethodGet, path: path, remote: "10.1.2.3:5000"})
		assert.Equal(t, http.StatusForbidden, w.Code, path)

		w = do(s, request{method: http.MethodGet, path: path, remote: "127.0.0.1:5000"})
		assert.Equal(t, http.StatusOK, w.Code, path)

		w = do(s, request{method: http.MethodGet, path: path, remote: "[::1]:5000"})
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := do(s, request{method: http.MethodPost, path: "/sinks/file/reset", remote: "10.1.2.3:5000"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, p.resets)
}

func TestStartShutdown(t *testing.T) {
	s, _ := newTestServer(t, createTestConfig())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
