package heartbeat

import (
	"context"
	"errors"

	"github.com/goevery/heartbeat/internal/metrics"
	"github.com/goevery/heartbeat/internal/registry"
	"github.com/goevery/heartbeat/internal/transport"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// FailureKind classifies the locally recovered failures of a tick.
type FailureKind string

const (
	EnumerationFailure FailureKind = "EnumerationFailure"
	DeliveryFailure    FailureKind = "DeliveryFailure"
	PeerGone           FailureKind = "PeerGone"
	CleanupFailure     FailureKind = "CleanupFailure"
)

const (
	SourceSchedule   = "schedule"
	SourceConnection = "connection"
	SourceAPI        = "api"
)

// Trigger describes what started a tick. ConnectionId, when set, is
// excluded from the broadcast.
type Trigger struct {
	ConnectionId string
	Source       string
}

type Runner interface {
	Run(ctx context.Context, trigger Trigger)
}

// Sender fans a caller supplied payload out to every connection.
type Sender interface {
	Broadcast(ctx context.Context, trigger Trigger, payload []byte)
}

type Broadcaster struct {
	logger    *zap.Logger
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	registry  registry.Registry
	transport transport.Transport
	composer  *Composer
}

func NewBroadcaster(
	logger *zap.Logger,
	clock clockwork.Clock,
	metrics *metrics.Metrics,
	registry registry.Registry,
	transport transport.Transport,
	composer *Composer,
) *Broadcaster {
	return &Broadcaster{
		logger,
		clock,
		metrics,
		registry,
		transport,
		composer,
	}
}

// Run enumerates the registry, pings every connection except the trigger and
// prunes the ones the transport reports as gone. Every failure is logged and
// recovered; Run always completes.
func (b *Broadcaster) Run(ctx context.Context, trigger Trigger) {
	b.fanout(ctx, trigger, b.composer.Compose)
}

// Broadcast is Run with payload in place of the ping.
func (b *Broadcaster) Broadcast(ctx context.Context, trigger Trigger, payload []byte) {
	b.fanout(ctx, trigger, func() []byte { return payload })
}

func (b *Broadcaster) fanout(ctx context.Context, trigger Trigger, compose func() []byte) {
	startTime := b.clock.Now()

	source := trigger.Source
	if source == "" {
		source = SourceSchedule
	}

	logger := b.logger.With(
		zap.String("tickId", uuid.NewString()),
		zap.String("source", source),
		zap.String("triggerConnectionId", trigger.ConnectionId))

	b.metrics.TicksTotal.WithLabelValues(source).Inc()
	defer func() {
		b.metrics.TickDuration.Observe(b.clock.Since(startTime).Seconds())
	}()

	connectionIds, err := b.registry.List(ctx)
	if err != nil {
		logger.Error("couldn't get connections",
			zap.String("kind", string(EnumerationFailure)),
			zap.Error(err))

		connectionIds = nil
	}

	b.metrics.EnumeratedConnections.Set(float64(len(connectionIds)))
	logger.Info("found active connections", zap.Int("count", len(connectionIds)))

	payload := compose()
	logger.Debug("composed message", zap.ByteString("message", payload))

	seen := make(map[string]struct{}, len(connectionIds))

	for _, connectionId := range connectionIds {
		if connectionId == trigger.ConnectionId {
			continue
		}

		if _, ok := seen[connectionId]; ok {
			continue
		}
		seen[connectionId] = struct{}{}

		b.deliver(ctx, logger, connectionId, payload)
	}
}

func (b *Broadcaster) deliver(ctx context.Context, logger *zap.Logger, connectionId string, payload []byte) {
	err := b.transport.Deliver(ctx, connectionId, payload)

	switch {
	case err == nil:
		b.metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeDelivered).Inc()

		logger.Debug("posted message to connection",
			zap.String("connectionId", connectionId))
	case errors.Is(err, transport.ErrPeerGone):
		b.metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeGone).Inc()

		logger.Info("connection is gone, removing",
			zap.String("connectionId", connectionId),
			zap.String("kind", string(PeerGone)))

		b.prune(ctx, logger, connectionId)
	default:
		b.metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()

		logger.Warn("couldn't post to connection",
			zap.String("connectionId", connectionId),
			zap.String("kind", string(DeliveryFailure)),
			zap.Error(err))
	}
}

func (b *Broadcaster) prune(ctx context.Context, logger *zap.Logger, connectionId string) {
	err := b.registry.Remove(ctx, connectionId)
	if err != nil {
		b.metrics.PrunesTotal.WithLabelValues(metrics.ResultFailed).Inc()

		logger.Error("couldn't remove connection",
			zap.String("connectionId", connectionId),
			zap.String("kind", string(CleanupFailure)),
			zap.Error(err))

		return
	}

	b.metrics.PrunesTotal.WithLabelValues(metrics.ResultRemoved).Inc()
}
