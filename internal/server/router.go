package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/goevery/heartbeat/internal/handler"
	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

const (
	MethodAuth      = "auth"
	MethodHeartbeat = "heartbeat"
	MethodIdentify  = "identify"

	MethodSendMessage = "sendMessage"

	// MethodMessage is the notification carrying a delivered payload.
	MethodMessage = "message"
)

type Router struct {
	logger *zap.Logger

	authHandler       handler.AuthHandlerInterface
	heartbeatHandler   handler.HeartbeatHandlerInterface
	sendMessageHandler handler.SendMessageHandlerInterface
	connectionHandler  *handler.ConnectionHandler
}

func NewRouter(
	logger *zap.Logger,
	authHandler handler.AuthHandlerInterface,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	sendMessageHandler handler.SendMessageHandlerInterface,
	connectionHandler *handler.ConnectionHandler,
) *Router {
	return &Router{
		logger,
		authHandler,
		heartbeatHandler,
		sendMessageHandler,
		connectionHandler,
	}
}

// Handler returns the jsonrpc2 handler serving one WebSocket connection.
func (r *Router) Handler() jsonrpc2.Handler {
	return jsonrpc2.HandlerWithError(r.handle).SuppressErrClosed()
}

func (r *Router) handle(ctx context.Context, _ *jsonrpc2.Conn, request *jsonrpc2.Request) (any, error) {
	result, err := r.Route(ctx, request.Method, request.Params)
	if err != nil {
		return nil, r.mapError(request.Method, err)
	}

	return result, nil
}

func (r *Router) Route(ctx context.Context, method string, params *json.RawMessage) (any, error) {
	switch method {
	case MethodAuth:
		var authReq handler.AuthRequest
		if err := decodeParams(params, &authReq); err != nil {
			return nil, err
		}

		return r.authHandler.Handle(ctx, authReq)
	case MethodHeartbeat:
		var heartbeatReq handler.HeartbeatRequest
		if params != nil {
			if err := decodeParams(params, &heartbeatReq); err != nil {
				return nil, err
			}
		}

		return r.heartbeatHandler.Handle(ctx, heartbeatReq)
	case MethodSendMessage:
		var sendMessageReq handler.SendMessageRequest
		if err := decodeParams(params, &sendMessageReq); err != nil {
			return nil, err
		}

		return r.sendMessageHandler.Handle(ctx, sendMessageReq)
	case MethodIdentify:
		return r.connectionHandler.Identify(ctx)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+method))
	}
}

func (r *Router) mapError(method string, err error) *jsonrpc2.Error {
	var handlerErr ierr.Error
	if !errors.As(err, &handlerErr) {
		r.logger.Error("error in rpc handler",
			zap.String("method", method),
			zap.Error(err))

		handlerErr = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	var code int64
	switch handlerErr.Code {
	case ierr.ErrorCodeNotFound:
		code = jsonrpc2.CodeMethodNotFound
	case ierr.ErrorCodeInvalidArgument:
		code = jsonrpc2.CodeInvalidParams
	case ierr.ErrorCodeInternal:
		code = jsonrpc2.CodeInternalError
	default:
		code = jsonrpc2.CodeInvalidRequest
	}

	rpcErr := &jsonrpc2.Error{
		Code:    code,
		Message: handlerErr.Message,
	}
	rpcErr.SetError(map[string]ierr.ErrorCode{"code": handlerErr.Code})

	return rpcErr
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}
