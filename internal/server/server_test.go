package server

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goevery/heartbeat/internal/auth"
	"github.com/goevery/heartbeat/internal/handler"
	"github.com/goevery/heartbeat/internal/heartbeat"
	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/metrics"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	testSecret = "test-secret"
	testAPIKey = "test-api-key"
)

type testStack struct {
	server   *httptest.Server
	registry *registry.InMemoryRegistry
	hub      *hub.Hub
	wsURL    string
}

// newTestStack wires the real components the way main does, with an
// in-process registry and the local hub as transport.
func newTestStack(t *testing.T, runner heartbeat.Runner) *testStack {
	t.Helper()

	logger := zap.NewNop()
	clock := clockwork.NewRealClock()
	m := metrics.New(prometheus.NewRegistry())

	reg := registry.NewInMemoryRegistry(logger)
	h := hub.NewHub(logger, clock, m, hub.Settings{
		SendBufferSize: 8,
		TriggerLimit:   rate.Inf,
		TriggerBurst:   1,
	})

	broadcaster := heartbeat.NewBroadcaster(logger, clock, m, reg, h, heartbeat.NewComposer(clock, ""))
	if runner == nil {
		runner = broadcaster
	}

	authenticator := auth.NewAuthenticator(testSecret, []string{testAPIKey})
	authHandler := handler.NewAuthHandler(authenticator)
	heartbeatHandler := handler.NewHeartbeatHandler(clock, runner)
	sendMessageHandler := handler.NewSendMessageHandler(clock, broadcaster)
	connectionHandler := handler.NewConnectionHandler(logger, reg, h)

	router := NewRouter(logger, authHandler, heartbeatHandler, sendMessageHandler, connectionHandler)
	wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, connectionHandler, router)
	restServer := NewRESTServer(logger, heartbeatHandler, sendMessageHandler, connectionHandler, authenticator)

	mainRouter := mux.NewRouter()
	wsServer.Register(mainRouter)
	restServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/websocket"

	return &testStack{
		server:   server,
		registry: reg,
		hub:      h,
		wsURL:    u.String(),
	}
}

func signTestToken(t *testing.T, scope []string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"aud":   "heartbeat",
		"scope": scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return tokenString
}
