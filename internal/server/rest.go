package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goevery/heartbeat/internal/auth"
	"github.com/goevery/heartbeat/internal/handler"
	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxPayloadSize = 128 * 1024

type RESTServer struct {
	logger *zap.Logger

	heartbeatHandler   handler.HeartbeatHandlerInterface
	sendMessageHandler handler.SendMessageHandlerInterface
	connectionHandler  *handler.ConnectionHandler
	authenticator      *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	sendMessageHandler handler.SendMessageHandlerInterface,
	connectionHandler *handler.ConnectionHandler,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		heartbeatHandler,
		sendMessageHandler,
		connectionHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	api := router.NewRoute().Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/heartbeat", s.heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.sendMessage).Methods(http.MethodPost)
	api.HandleFunc("/@connections/{connectionId}", s.postToConnection).Methods(http.MethodPost)
	api.HandleFunc("/@connections/{connectionId}", s.getConnection).Methods(http.MethodGet)
	api.HandleFunc("/@connections/{connectionId}", s.deleteConnection).Methods(http.MethodDelete)
}

func (s *RESTServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.writeError(w, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing bearer token")))
			return
		}

		authentication, err := s.authenticator.AuthenticateAPIKey(apiKey)
		if err != nil {
			s.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuthentication(r.Context(), authentication)))
	})
}

func (s *RESTServer) heartbeat(w http.ResponseWriter, r *http.Request) {
	var heartbeatRequest handler.HeartbeatRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadSize)).Decode(&heartbeatRequest)
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	response, err := s.heartbeatHandler.Handle(r.Context(), heartbeatRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *RESTServer) sendMessage(w http.ResponseWriter, r *http.Request) {
	var sendMessageRequest handler.SendMessageRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadSize)).Decode(&sendMessageRequest)
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	response, err := s.sendMessageHandler.Handle(r.Context(), sendMessageRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *RESTServer) postToConnection(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize+1))
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	if len(payload) > maxPayloadSize {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("payload too large")))
		return
	}

	err = s.connectionHandler.Post(r.Context(), mux.Vars(r)["connectionId"], payload)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *RESTServer) getConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.connectionHandler.Get(mux.Vars(r)["connectionId"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *RESTServer) deleteConnection(w http.ResponseWriter, r *http.Request) {
	err := s.connectionHandler.Delete(mux.Vars(r)["connectionId"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	var handlerErr ierr.Error
	if !errors.As(err, &handlerErr) {
		s.logger.Error("error in rest handler", zap.Error(err))

		handlerErr = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	s.writeJSON(w, httpStatus(handlerErr.Code), handlerErr)
}

func httpStatus(code ierr.ErrorCode) int {
	switch code {
	case ierr.ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ierr.ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ierr.ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ierr.ErrorCodeNotFound:
		return http.StatusNotFound
	case ierr.ErrorCodeGone:
		return http.StatusGone
	case ierr.ErrorCodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case ierr.ErrorCodeResourceExhausted:
		return http.StatusTooManyRequests
	case ierr.ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
