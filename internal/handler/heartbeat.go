package handler

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/heartbeat/internal/auth"
	"github.com/goevery/heartbeat/internal/heartbeat"
	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/jonboulle/clockwork"
)

// tickTimeout bounds a tick started on behalf of a caller. The tick is not
// cancelled when the caller goes away.
const tickTimeout = 30 * time.Second

func detachTick(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), tickTimeout)
}

type HeartbeatRequest struct {
	ConnectionId string `json:"connectionId,omitempty"`
}

type HeartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type HeartbeatHandlerInterface interface {
	Handle(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
}

// HeartbeatHandler runs a tick on behalf of a WebSocket peer or an API
// client. A peer is always the trigger of its own tick; an API client may
// name one.
type HeartbeatHandler struct {
	clock  clockwork.Clock
	runner heartbeat.Runner
}

func NewHeartbeatHandler(clock clockwork.Clock, runner heartbeat.Runner) *HeartbeatHandler {
	return &HeartbeatHandler{
		clock,
		runner,
	}
}

func (h *HeartbeatHandler) Handle(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	trigger, err := h.resolveTrigger(ctx, req)
	if err != nil {
		return HeartbeatResponse{}, err
	}

	tickCtx, cancel := detachTick(ctx)
	defer cancel()

	h.runner.Run(tickCtx, trigger)

	return HeartbeatResponse{
		Timestamp: h.clock.Now().UTC(),
	}, nil
}

func (h *HeartbeatHandler) resolveTrigger(ctx context.Context, req HeartbeatRequest) (heartbeat.Trigger, error) {
	session, ok := hub.SessionFromContext(ctx)
	if ok {
		authentication := session.GetAuthentication()
		if authentication == nil {
			return heartbeat.Trigger{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
		}

		if !authentication.CanTriggerHeartbeat() {
			return heartbeat.Trigger{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("heartbeat scope required to trigger a heartbeat"))
		}

		if !session.AllowTrigger() {
			return heartbeat.Trigger{},
				ierr.New(ierr.ErrorCodeResourceExhausted, errors.New("heartbeat triggered too often"))
		}

		return heartbeat.Trigger{
			ConnectionId: session.Id,
			Source:       heartbeat.SourceConnection,
		}, nil
	}

	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return heartbeat.Trigger{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	if !authentication.CanTriggerHeartbeat() {
		return heartbeat.Trigger{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("heartbeat scope required to trigger a heartbeat"))
	}

	if req.ConnectionId != "" {
		if err := registry.ValidateConnectionId(req.ConnectionId); err != nil {
			return heartbeat.Trigger{}, err
		}
	}

	return heartbeat.Trigger{
		ConnectionId: req.ConnectionId,
		Source:       heartbeat.SourceAPI,
	}, nil
}
