package gateway

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/circuitbreaker"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/config"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/dispatch"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/health"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit/store"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/stats"
)

func startHealthBackend(t *testing.T) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func deadAddr(t *testing.T) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

type serverOptions struct {
	rateLimit   int
	cbConfig    *circuitbreaker.Config
	skipMonitor bool
}

func newTestServer(t *testing.T, backendAddr string, opts serverOptions) *Server {
	t.Helper()

	const name = "vector-service"
	cfg := &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1:0"},
		Backends: []config.BackendConfig{{
			Name:        name,
			Address:     backendAddr,
			PoolSize:    2,
			CallTimeout: config.Duration(2 * time.Second),
			RoutePrefix: "/api/v1/vectors",
			MethodBase:  "/grpc.health.v1.Health/",
		}},
	}

	registry := circuitbreaker.NewRegistry([]string{name}, opts.cbConfig, nil)
	collector := stats.NewCollector([]string{name})

	d, err := dispatch.New(cfg.Backends, registry, collector, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	handle, err := d.GetHandle(name)
	require.NoError(t, err)

	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	monitor := health.NewMonitor(
		health.Config{ProbeInterval: 50 * time.Millisecond, ProbeTimeout: time.Second},
		[]health.Target{{Name: name, Pool: handle.Pool()}},
		bus, nil,
	)
	if !opts.skipMonitor {
		monitor.Start()
		t.Cleanup(monitor.Stop)
	}

	var limiter ratelimit.Limiter
	if opts.rateLimit > 0 {
		s := store.NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		limiter = ratelimit.NewFixedWindowLimiter(s, opts.rateLimit, time.Minute, nil)
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxRequests = opts.rateLimit
	}

	srv, err := New(cfg, Dependencies{
		Dispatcher: d,
		Monitor:    monitor,
		Collector:  collector,
		Breakers:   registry,
		Limiter:    limiter,
		Bus:        bus,
	})
	require.NoError(t, err)

	return srv
}

func checkPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := proto.Marshal(&healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	return payload
}

func do(srv *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "198.51.100.1:4000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_ProxyForwardsToBackend(t *testing.T) {
	srv := newTestServer(t, startHealthBackend(t), serverOptions{})

	w := do(srv, http.MethodPost, "/api/v1/vectors/Check", checkPayload(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeProto, w.Header().Get("Content-Type"))

	var resp healthpb.HealthCheckResponse
	require.NoError(t, proto.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServer_ProxyMapsBackendFailures(t *testing.T) {
	cbConfig := &circuitbreaker.Config{
		ErrorThresholdPercent: 50,
		VolumeThreshold:       1,
		BucketCount:           10,
		BucketDuration:        time.Second,
		ResetTimeout:          time.Minute,
	}
	srv := newTestServer(t, deadAddr(t), serverOptions{cbConfig: cbConfig, skipMonitor: true})

	// First call reaches the network and fails as a bad gateway.
	w := do(srv, http.MethodPost, "/api/v1/vectors/Check", checkPayload(t), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// The breaker is open now; the next call fails fast as unavailable.
	w = do(srv, http.MethodPost, "/api/v1/vectors/Check", checkPayload(t), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "circuit breaker is open")
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, startHealthBackend(t), serverOptions{skipMonitor: true})

	w := do(srv, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_StatusEndpoints(t *testing.T) {
	srv := newTestServer(t, startHealthBackend(t), serverOptions{})

	require.Eventually(t, func() bool {
		w := do(srv, http.MethodGet, "/api/v1/status/vector-service", nil, nil)
		return w.Code == http.StatusOK && bytes.Contains(w.Body.Bytes(), []byte("SERVING"))
	}, 3*time.Second, 20*time.Millisecond)

	w := do(srv, http.MethodGet, "/api/v1/status/vector-service", nil, nil)
	assert.Contains(t, w.Body.String(), `"state":"closed"`)

	w = do(srv, http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vector-service")

	w = do(srv, http.MethodGet, "/api/v1/status/unknown-service", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StatsEndpoint(t *testing.T) {
	srv := newTestServer(t, startHealthBackend(t), serverOptions{skipMonitor: true})

	w := do(srv, http.MethodPost, "/api/v1/vectors/Check", checkPayload(t), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(srv, http.MethodGet, "/api/v1/stats/vector-service", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"requestCount":1`)
	assert.Contains(t, w.Body.String(), `"errorCount":0`)

	w = do(srv, http.MethodGet, "/api/v1/stats/unknown-service", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_OperationalRoutesExemptFromRateLimit(t *testing.T) {
	srv := newTestServer(t, startHealthBackend(t), serverOptions{rateLimit: 1, skipMonitor: true})

	payload := checkPayload(t)
	require.Equal(t, http.StatusOK,
		do(srv, http.MethodPost, "/api/v1/vectors/Check", payload, nil).Code)
	require.Equal(t, http.StatusTooManyRequests,
		do(srv, http.MethodPost, "/api/v1/vectors/Check", payload, nil).Code)

	// Operational endpoints never consume quota.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/healthz", nil, nil).Code)
		assert.Equal(t, http.StatusOK,
			do(srv, http.MethodGet, "/api/v1/stats/vector-service", nil, nil).Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := newTestServer(t, startHealthBackend(t), serverOptions{skipMonitor: true})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
