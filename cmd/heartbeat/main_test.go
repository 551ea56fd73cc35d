package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatewayStub answers the management API, reporting the ids in gone as 410.
type gatewayStub struct {
	mu     sync.Mutex
	posted []string
	gone   map[string]bool
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connectionId, ok := strings.CutPrefix(r.URL.Path, "/prod/@connections/")
	if !ok || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	g.mu.Lock()
	g.posted = append(g.posted, connectionId)
	g.mu.Unlock()

	if g.gone[connectionId] {
		w.WriteHeader(http.StatusGone)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (g *gatewayStub) postedIds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.posted...)
}

func testSettings() Settings {
	return Settings{
		BasePath:        "/heartbeat",
		JWTSecret:       "secret",
		RegistryBackend: RegistryBackendMemory,
		Transport:       TransportLocal,
		PingMarker:      "PING?",
		SendBufferSize:  4,
		TriggerBurst:    1,
	}
}

func TestApp_RunOnce(t *testing.T) {
	ctx := context.Background()

	gateway := &gatewayStub{gone: map[string]bool{"A": true}}
	server := httptest.NewServer(gateway)
	t.Cleanup(server.Close)

	settings := testSettings()
	settings.Transport = TransportHTTP
	settings.TransportEndpoint = server.URL + "/prod"
	require.NoError(t, settings.Validate())
	require.NoError(t, settings.ValidateOnce())

	app, err := NewApp(ctx, zap.NewNop(), settings)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, app.registry.Add(ctx, id))
	}

	app.RunOnce(ctx, "C")

	assert.Equal(t, []string{"A", "B"}, gateway.postedIds())

	connectionIds, err := app.registry.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, connectionIds)
}

func TestApp_BuildTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("local transport is the hub", func(t *testing.T) {
		app, err := NewApp(ctx, zap.NewNop(), testSettings())
		require.NoError(t, err)

		deliveryTransport, err := app.buildTransport(app.hub)

		require.NoError(t, err)
		assert.IsType(t, &hub.Hub{}, deliveryTransport)
	})

	t.Run("http transport reads the endpoint file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "api_url")
		require.NoError(t, os.WriteFile(path, []byte("https://gateway.example.com/prod\n"), 0o600))

		settings := testSettings()
		settings.Transport = TransportHTTP
		settings.TransportEndpointFile = path

		app, err := NewApp(ctx, zap.NewNop(), settings)
		require.NoError(t, err)

		deliveryTransport, err := app.buildTransport(app.hub)

		require.NoError(t, err)
		assert.IsType(t, &transport.HTTPTransport{}, deliveryTransport)
	})

	t.Run("missing endpoint file fails setup", func(t *testing.T) {
		settings := testSettings()
		settings.Transport = TransportHTTP
		settings.TransportEndpointFile = filepath.Join(t.TempDir(), "missing")

		_, err := NewApp(ctx, zap.NewNop(), settings)

		assert.Error(t, err)
	})
}

func TestApp_LocalTransportKeepsLiveSessions(t *testing.T) {
	ctx := context.Background()

	app, err := NewApp(ctx, zap.NewNop(), testSettings())
	require.NoError(t, err)

	live, err := app.hub.Attach("live")
	require.NoError(t, err)
	require.NoError(t, app.registry.Add(ctx, "live"))
	require.NoError(t, app.registry.Add(ctx, "stale"))

	app.RunOnce(ctx, "")

	assert.Len(t, live.Send, 1)

	connectionIds, err := app.registry.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, connectionIds)
}
