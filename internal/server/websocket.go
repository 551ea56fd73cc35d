package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goevery/heartbeat/internal/handler"
	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

const (
	readLimit    = 4096
	writeTimeout = 10 * time.Second
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	connectionHandler *handler.ConnectionHandler
	router            *Router
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	connectionHandler *handler.ConnectionHandler,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		connectionHandler,
		router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.serve).Methods(http.MethodGet)
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadLimit(readLimit)

	connectionId, err := registry.GenerateConnectionId()
	if err != nil {
		s.logger.Error("failed to generate connection id", zap.Error(err))
		closeWithReason(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	logger := s.logger.With(
		zap.String("connectionId", connectionId),
		clientAddress(r))

	// The request context ends when the handler returns, which is what we
	// want for the lifetime of this connection.
	ctx := r.Context()

	session, err := s.connectionHandler.Connect(ctx, connectionId)
	if err != nil {
		logger.Error("failed to register connection", zap.Error(err))
		closeWithReason(conn, websocket.CloseTryAgainLater, "failed to connect")
		return
	}

	logger.Info("websocket connection established")

	defer func() {
		// The request context may already be cancelled here.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()

		s.connectionHandler.Disconnect(cleanupCtx, connectionId)
		logger.Info("websocket connection closed")
	}()

	rpcConn := jsonrpc2.NewConn(
		hub.WithSession(ctx, session),
		NewWebSocketObjectStream(conn),
		s.router.Handler(),
		jsonrpc2.SetLogger(NewRPCLogger(logger)),
	)
	defer rpcConn.Close()

	for {
		select {
		case <-rpcConn.DisconnectNotify():
			return
		case <-session.Done():
			logger.Info("websocket connection closed by server")
			return
		case payload := <-session.Send:
			notifyCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := rpcConn.Notify(notifyCtx, MethodMessage, string(payload))
			cancel()

			if err != nil {
				logger.Warn("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// clientAddress logs the first X-Forwarded-For hop as forwardedFor, since
// the client controls that header, and the socket peer otherwise.
func clientAddress(r *http.Request) zap.Field {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		firstHop, _, _ := strings.Cut(forwarded, ",")
		if firstHop = strings.TrimSpace(firstHop); firstHop != "" {
			return zap.String("forwardedFor", firstHop)
		}
	}

	return zap.String("remoteAddr", r.RemoteAddr)
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}

// WebSocketObjectStream frames one JSON value per WebSocket text message.
type WebSocketObjectStream struct {
	connection *websocket.Conn
}

func NewWebSocketObjectStream(connection *websocket.Conn) *WebSocketObjectStream {
	return &WebSocketObjectStream{
		connection,
	}
}

func (s *WebSocketObjectStream) WriteObject(obj any) error {
	_ = s.connection.SetWriteDeadline(time.Now().Add(writeTimeout))

	return s.connection.WriteJSON(obj)
}

func (s *WebSocketObjectStream) ReadObject(v any) error {
	return s.connection.ReadJSON(v)
}

func (s *WebSocketObjectStream) Close() error {
	return s.connection.Close()
}
