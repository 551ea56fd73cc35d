package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/goevery/heartbeat/internal/transport"
	"go.uber.org/zap"
)

type ConnectionInfo struct {
	ConnectionId string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// ConnectionHandler keeps the registry and the local hub in step with the
// WebSocket lifecycle and serves the per-connection management operations.
type ConnectionHandler struct {
	logger   *zap.Logger
	registry registry.Registry
	hub      *hub.Hub
}

func NewConnectionHandler(
	logger *zap.Logger,
	registry registry.Registry,
	hub *hub.Hub,
) *ConnectionHandler {
	return &ConnectionHandler{
		logger,
		registry,
		hub,
	}
}

// Connect attaches a new session and records it. A connection that cannot be
// recorded is refused, since no heartbeat would ever reach it.
func (h *ConnectionHandler) Connect(ctx context.Context, connectionId string) (*hub.Session, error) {
	session, err := h.hub.Attach(connectionId)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInternal, err)
	}

	if err := h.registry.Add(ctx, connectionId); err != nil {
		h.hub.Detach(connectionId)

		return nil, ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("failed to connect: %w", err))
	}

	return session, nil
}

// Disconnect detaches the session and forgets it. A registry failure is only
// logged: the next heartbeat prunes the record.
func (h *ConnectionHandler) Disconnect(ctx context.Context, connectionId string) {
	h.hub.Detach(connectionId)

	if err := h.registry.Remove(ctx, connectionId); err != nil {
		h.logger.Warn("failed to disconnect, record left for pruning",
			zap.String("connectionId", connectionId),
			zap.Error(err))
	}
}

func (h *ConnectionHandler) Identify(ctx context.Context) (ConnectionInfo, error) {
	session, ok := hub.SessionFromContext(ctx)
	if !ok {
		return ConnectionInfo{}, errors.New("session not found in context")
	}

	return sessionInfo(session), nil
}

func (h *ConnectionHandler) Post(ctx context.Context, connectionId string, payload []byte) error {
	if err := registry.ValidateConnectionId(connectionId); err != nil {
		return err
	}

	err := h.hub.Deliver(ctx, connectionId, payload)
	switch {
	case errors.Is(err, transport.ErrPeerGone):
		return ierr.New(ierr.ErrorCodeGone, err)
	case errors.Is(err, hub.ErrSendBufferFull):
		return ierr.New(ierr.ErrorCodeResourceExhausted, err)
	}

	return err
}

func (h *ConnectionHandler) Get(connectionId string) (ConnectionInfo, error) {
	if err := registry.ValidateConnectionId(connectionId); err != nil {
		return ConnectionInfo{}, err
	}

	session, ok := h.hub.Lookup(connectionId)
	if !ok {
		return ConnectionInfo{}, ierr.New(ierr.ErrorCodeGone, transport.ErrPeerGone)
	}

	return sessionInfo(session), nil
}

func (h *ConnectionHandler) Delete(connectionId string) error {
	if err := registry.ValidateConnectionId(connectionId); err != nil {
		return err
	}

	if err := h.hub.Disconnect(connectionId); err != nil {
		return ierr.New(ierr.ErrorCodeGone, err)
	}

	return nil
}

func sessionInfo(session *hub.Session) ConnectionInfo {
	return ConnectionInfo{
		ConnectionId: session.Id,
		ConnectedAt:  session.ConnectedAt,
	}
}
