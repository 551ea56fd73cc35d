package handler

import (
	"context"
	"errors"

	"github.com/goevery/heartbeat/internal/auth"
	"github.com/goevery/heartbeat/internal/hub"
	"github.com/goevery/heartbeat/internal/ierr"
)

type AuthRequest struct {
	Token string `json:"token"`
}

type AuthResponse struct {
	Success bool `json:"success"`
}

type AuthHandlerInterface interface {
	Handle(ctx context.Context, req AuthRequest) (AuthResponse, error)
}

type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{
		authenticator,
	}
}

func (h *AuthHandler) Handle(ctx context.Context, req AuthRequest) (AuthResponse, error) {
	if req.Token == "" {
		return AuthResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("token is required"))
	}

	session, ok := hub.SessionFromContext(ctx)
	if !ok {
		return AuthResponse{}, errors.New("session not found in context")
	}

	if session.GetAuthentication() != nil {
		return AuthResponse{}, ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("connection is already authenticated"))
	}

	authentication, err := h.authenticator.AuthenticateJWT(req.Token)
	if err != nil {
		return AuthResponse{}, err
	}

	session.SetAuthentication(authentication)

	return AuthResponse{
		Success: true,
	}, nil
}
