package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/goevery/heartbeat/internal/metrics"
	"github.com/goevery/heartbeat/internal/transport"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrSendBufferFull = errors.New("send buffer full")

type Settings struct {
	SendBufferSize int
	TriggerLimit   rate.Limit
	TriggerBurst   int
}

// Hub tracks the sessions attached to this instance and delivers payloads to
// them. It satisfies transport.Transport.
type Hub struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	settings Settings

	sessions *xsync.Map[string, *Session]
}

func NewHub(
	logger *zap.Logger,
	clock clockwork.Clock,
	metrics *metrics.Metrics,
	settings Settings,
) *Hub {
	if settings.SendBufferSize <= 0 {
		settings.SendBufferSize = 16
	}

	return &Hub{
		logger:   logger,
		clock:    clock,
		metrics:  metrics,
		settings: settings,
		sessions: xsync.NewMap[string, *Session](),
	}
}

func (h *Hub) Attach(connectionId string) (*Session, error) {
	session := &Session{
		Id:          connectionId,
		ConnectedAt: h.clock.Now().UTC(),
		Send:        make(chan []byte, h.settings.SendBufferSize),
		limiter:     rate.NewLimiter(h.settings.TriggerLimit, h.settings.TriggerBurst),
		done:        make(chan struct{}),
	}

	if _, loaded := h.sessions.LoadOrStore(connectionId, session); loaded {
		return nil, fmt.Errorf("session %s already attached", connectionId)
	}

	h.metrics.ActiveSessions.Inc()

	return session, nil
}

func (h *Hub) Detach(connectionId string) {
	session, ok := h.sessions.LoadAndDelete(connectionId)
	if !ok {
		return
	}

	session.close()
	h.metrics.ActiveSessions.Dec()
}

// Disconnect closes a session from the server side. The owning connection
// loop observes Done and tears the socket down.
func (h *Hub) Disconnect(connectionId string) error {
	session, ok := h.sessions.Load(connectionId)
	if !ok {
		return transport.ErrPeerGone
	}

	session.close()

	return nil
}

func (h *Hub) Lookup(connectionId string) (*Session, bool) {
	return h.sessions.Load(connectionId)
}

func (h *Hub) Size() int {
	return h.sessions.Size()
}

func (h *Hub) Deliver(_ context.Context, connectionId string, payload []byte) error {
	session, ok := h.sessions.Load(connectionId)
	if !ok {
		return transport.ErrPeerGone
	}

	select {
	case <-session.done:
		return transport.ErrPeerGone
	default:
	}

	select {
	case session.Send <- payload:
		return nil
	default:
		h.logger.Warn("session send buffer is full",
			zap.String("connectionId", connectionId))

		return ErrSendBufferFull
	}
}
