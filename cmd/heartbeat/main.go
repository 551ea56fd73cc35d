package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/heartbeat/internal/auth"
	"github.com/goevery/heartbeat/internal/handler"
	"github.com/goevery/heartbeat/internal/heartbeat"
	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/metrics"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/goevery/heartbeat/internal/registry/mongodb"
	"github.com/goevery/heartbeat/internal/registry/redis"
	"github.com/goevery/heartbeat/internal/scheduler"
	"github.com/goevery/heartbeat/internal/server"
	"github.com/goevery/heartbeat/internal/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings
	promReg  *prometheus.Registry

	registry        registry.Registry
	hub             *hub.Hub
	broadcaster     *heartbeat.Broadcaster
	scheduler       *scheduler.Scheduler
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer

	closers []func(context.Context) error
}

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) (*App, error) {
	app := &App{
		logger:   logger,
		settings: settings,
		promReg:  metrics.NewRegistry(),
	}

	clock := clockwork.NewRealClock()
	m := metrics.New(app.promReg)

	connectionRegistry, err := app.buildRegistry(ctx, clock)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.registry = connectionRegistry

	localHub := hub.NewHub(logger, clock, m, hub.Settings{
		SendBufferSize: settings.SendBufferSize,
		TriggerLimit:   settings.TriggerLimit(),
		TriggerBurst:   settings.TriggerBurst,
	})
	app.hub = localHub

	deliveryTransport, err := app.buildTransport(localHub)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.broadcaster = heartbeat.NewBroadcaster(
		logger.Named("heartbeat"),
		clock,
		m,
		connectionRegistry,
		deliveryTransport,
		heartbeat.NewComposer(clock, settings.PingMarker),
	)
	app.scheduler = scheduler.NewScheduler(logger.Named("scheduler"), clock, app.broadcaster, settings.HeartbeatInterval())

	originChecker := server.NewOriginChecker(logger, settings.AllowedOriginList())
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeyList())

	authHandler := handler.NewAuthHandler(authenticator)
	heartbeatHandler := handler.NewHeartbeatHandler(clock, app.broadcaster)
	sendMessageHandler := handler.NewSendMessageHandler(clock, app.broadcaster)
	connectionHandler := handler.NewConnectionHandler(logger, connectionRegistry, localHub)

	router := server.NewRouter(
		logger,
		authHandler,
		heartbeatHandler,
		sendMessageHandler,
		connectionHandler,
	)

	app.websocketServer = server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		connectionHandler,
		router,
	)
	app.restServer = server.NewRESTServer(
		logger,
		heartbeatHandler,
		sendMessageHandler,
		connectionHandler,
		authenticator,
	)

	return app, nil
}

func (a *App) buildRegistry(ctx context.Context, clock clockwork.Clock) (registry.Registry, error) {
	switch a.settings.RegistryBackend {
	case RegistryBackendMongoDB:
		client, err := mongo.Connect(options.Client().ApplyURI(a.settings.MongoDBURI))
		if err != nil {
			return nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)

		mongoRegistry := mongodb.NewRegistry(client, clock, a.settings.RegistryTTL())
		if err := mongoRegistry.Setup(ctx); err != nil {
			return nil, fmt.Errorf("setup mongodb registry: %w", err)
		}

		return mongoRegistry, nil
	case RegistryBackendRedis:
		client, err := redis.NewClient(ctx, a.settings.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })

		return redis.NewRegistry(client, clock, a.settings.RedisKey), nil
	default:
		return registry.NewInMemoryRegistry(a.logger), nil
	}
}

func (a *App) buildTransport(localHub *hub.Hub) (transport.Transport, error) {
	if a.settings.Transport != TransportHTTP {
		return localHub, nil
	}

	endpoint, err := a.settings.ResolveTransportEndpoint()
	if err != nil {
		return nil, err
	}

	a.logger.Info("delivering through management api",
		zap.String("endpoint", endpoint))

	return transport.NewHTTPTransport(endpoint, a.settings.TransportAPIKey, a.settings.TransportTimeout()), nil
}

func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
}

// RunOnce runs a single tick, the way a scheduled invocation would.
func (a *App) RunOnce(ctx context.Context, triggerConnectionId string) {
	a.broadcaster.Run(ctx, heartbeat.Trigger{
		ConnectionId: triggerConnectionId,
		Source:       heartbeat.SourceAPI,
	})
}

func (a *App) Serve(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(notifyCtx)
	}()

	a.startHttpServer(notifyCtx)

	wg.Wait()
}

func (a *App) startHttpServer(ctx context.Context) {
	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	rootRouter := mux.NewRouter()
	rootRouter.Handle("/metrics", metrics.Handler(a.promReg)).Methods(http.MethodGet)
	rootRouter.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	router := rootRouter.
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:              address,
		Handler:           rootRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("starting http server",
		zap.String("address", address),
		zap.String("basePath", a.settings.BasePath))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-ctx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	once := flag.Bool("once", false, "run a single heartbeat tick and exit")
	trigger := flag.String("trigger", "", "connection id excluded from a -once tick")
	flag.Parse()

	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse settings from environment: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := settings.Validate(); err != nil {
		logger.Fatal("invalid settings", zap.Error(err))
	}

	if *once {
		if err := settings.ValidateOnce(); err != nil {
			logger.Fatal("invalid settings", zap.Error(err))
		}
	}

	app, err := NewApp(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
	defer app.Close(context.Background())

	if *once {
		app.RunOnce(ctx, *trigger)
		return
	}

	app.Serve(ctx)
}
