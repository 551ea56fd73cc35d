package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeHeartbeat = "heartbeat"
	ScopeMessage   = "message"
)

type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope,omitempty"`
}

type Authentication struct {
	Subject string
	Scope   []string
	IsAdmin bool
}

// CanTriggerHeartbeat reports whether the holder may start a heartbeat tick.
func (a *Authentication) CanTriggerHeartbeat() bool {
	if a.Subject == "" {
		return false
	}

	return a.IsAdmin || slices.Contains(a.Scope, ScopeHeartbeat)
}

// CanSendMessage reports whether the holder may broadcast its own payload.
func (a *Authentication) CanSendMessage() bool {
	if a.Subject == "" {
		return false
	}

	return a.IsAdmin || slices.Contains(a.Scope, ScopeMessage)
}

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, auth)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	auth, ok := ctx.Value(authenticationKey).(*Authentication)
	return auth, ok
}

type Authenticator struct {
	secret    []byte
	apiKeys   []string
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience("heartbeat"),
	)

	keys := make([]string, 0, len(apiKeys))
	for _, key := range apiKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	return &Authenticator{
		secret:    []byte(secret),
		apiKeys:   keys,
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	return &Authentication{
		Subject: subject,
		Scope:   claims.Scope,
		IsAdmin: false,
	}, nil
}

func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				Subject: "api",
				Scope:   []string{ScopeHeartbeat, ScopeMessage},
				IsAdmin: true,
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}
