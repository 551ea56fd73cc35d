package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InMemoryRegistry keeps connection ids in insertion order. It is only
// suitable for a single process.
type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	order []string
	index map[string]int
}

func NewInMemoryRegistry(
	logger *zap.Logger,
) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger: logger,
		index:  make(map[string]int),
	}
}

func (r *InMemoryRegistry) Add(_ context.Context, connectionId string) error {
	if err := ValidateConnectionId(connectionId); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[connectionId]; ok {
		return nil
	}

	r.index[connectionId] = len(r.order)
	r.order = append(r.order, connectionId)

	return nil
}

func (r *InMemoryRegistry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectionIds := make([]string, len(r.order))
	copy(connectionIds, r.order)

	return connectionIds, nil
}

func (r *InMemoryRegistry) Remove(_ context.Context, connectionId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	position, ok := r.index[connectionId]
	if !ok {
		return nil
	}

	r.order = append(r.order[:position], r.order[position+1:]...)
	delete(r.index, connectionId)

	for i := position; i < len(r.order); i++ {
		r.index[r.order[i]] = i
	}

	r.logger.Debug("connection removed from registry",
		zap.String("connectionId", connectionId))

	return nil
}
