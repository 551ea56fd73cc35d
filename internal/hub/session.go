package hub

import (
	"context"
	"sync"
	"time"

	"github.com/goevery/heartbeat/internal/auth"
	"golang.org/x/time/rate"
)

// Session is one WebSocket peer attached to this instance.
type Session struct {
	Id          string
	ConnectedAt time.Time
	Send        chan []byte

	mu             sync.RWMutex
	authentication *auth.Authentication
	limiter        *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Session) SetAuthentication(auth *auth.Authentication) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authentication = auth
}

func (s *Session) GetAuthentication() *auth.Authentication {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.authentication
}

// AllowTrigger reports whether the peer may start another heartbeat now.
func (s *Session) AllowTrigger() bool {
	return s.limiter.Allow()
}

// Done is closed once the session has been closed from the server side.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

type contextKey string

const sessionKey contextKey = "session"

func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)

	return session, ok
}
