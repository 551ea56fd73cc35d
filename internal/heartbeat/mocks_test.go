package heartbeat

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Add(ctx context.Context, connectionId string) error {
	args := m.Called(ctx, connectionId)
	return args.Error(0)
}

func (m *MockRegistry) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)

	connectionIds, _ := args.Get(0).([]string)
	return connectionIds, args.Error(1)
}

func (m *MockRegistry) Remove(ctx context.Context, connectionId string) error {
	args := m.Called(ctx, connectionId)
	return args.Error(0)
}

type MockTransport struct {
	mock.Mock

	delivered []string
}

func (m *MockTransport) Deliver(ctx context.Context, connectionId string, payload []byte) error {
	m.delivered = append(m.delivered, connectionId)

	args := m.Called(ctx, connectionId, payload)
	return args.Error(0)
}
