package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/config"
)

const testConfig = `
server:
  address: "127.0.0.1:0"
metrics:
  enabled: false
backends:
  - name: vector-service
    address: 127.0.0.1:1
    poolSize: 2
    callTimeout: 1s
    routePrefix: /api/v1/vectors
    methodBase: /vector.VectorService/
rateLimit:
  enabled: false
`

func writeTestConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func TestBuildApplication_WiresComponents(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	app, err := buildApplication(cfg, path, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, app.dispatcher)
	assert.NotNil(t, app.monitor)
	assert.NotNil(t, app.server)
	assert.NotNil(t, app.watcher)
	assert.Nil(t, app.limiter)

	_, err = app.dispatcher.GetHandle("vector-service")
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	app.shutdown(ctx)
}

func TestBuildApplication_StartAndShutdown(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	app, err := buildApplication(cfg, path, zap.NewNop())
	require.NoError(t, err)

	app.start()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	app.shutdown(ctx)

	select {
	case err := <-app.serverErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("GATEWAY_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", getEnvOrDefault("GATEWAY_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("GATEWAY_TEST_KEY_MISSING", "fallback"))
}
