package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/goevery/heartbeat/internal/auth"
	"github.com/goevery/heartbeat/internal/heartbeat"
	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/jonboulle/clockwork"
)

type SendMessageRequest struct {
	ConnectionId string          `json:"connectionId,omitempty"`
	Data         json.RawMessage `json:"data"`
}

type SendMessageResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type SendMessageHandlerInterface interface {
	Handle(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error)
}

// SendMessageHandler broadcasts caller data to every registered connection
// with the same pruning as a heartbeat. A WebSocket peer never receives its
// own message.
type SendMessageHandler struct {
	clock  clockwork.Clock
	sender heartbeat.Sender
}

func NewSendMessageHandler(clock clockwork.Clock, sender heartbeat.Sender) *SendMessageHandler {
	return &SendMessageHandler{
		clock,
		sender,
	}
}

func (h *SendMessageHandler) Handle(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error) {
	payload, err := messagePayload(req.Data)
	if err != nil {
		return SendMessageResponse{}, err
	}

	trigger, err := h.resolveTrigger(ctx, req)
	if err != nil {
		return SendMessageResponse{}, err
	}

	tickCtx, cancel := detachTick(ctx)
	defer cancel()

	h.sender.Broadcast(tickCtx, trigger, payload)

	return SendMessageResponse{
		Timestamp: h.clock.Now().UTC(),
	}, nil
}

// messagePayload sends a JSON string as its text and anything else as raw
// JSON.
func messagePayload(data json.RawMessage) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("data is required"))
	}

	if data[0] != '"' {
		return data, nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid data"))
	}

	if text == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("data is required"))
	}

	return []byte(text), nil
}

func (h *SendMessageHandler) resolveTrigger(ctx context.Context, req SendMessageRequest) (heartbeat.Trigger, error) {
	session, ok := hub.SessionFromContext(ctx)
	if ok {
		authentication := session.GetAuthentication()
		if authentication == nil {
			return heartbeat.Trigger{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
		}

		if !authentication.CanSendMessage() {
			return heartbeat.Trigger{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("message scope required to send a message"))
		}

		if !session.AllowTrigger() {
			return heartbeat.Trigger{},
				ierr.New(ierr.ErrorCodeResourceExhausted, errors.New("messages sent too often"))
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

	if !authentication.CanSendMessage() {
		return heartbeat.Trigger{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("message scope required to send a message"))
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
