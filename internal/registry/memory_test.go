package registry

import (
	"context"
	"testing"

	"github.com/goevery/heartbeat/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("lists in insertion order", func(t *testing.T) {
		registry := NewInMemoryRegistry(zap.NewNop())

		require.NoError(t, registry.Add(ctx, "C"))
		require.NoError(t, registry.Add(ctx, "A"))
		require.NoError(t, registry.Add(ctx, "B"))

		connectionIds, err := registry.List(ctx)

		assert.NoError(t, err)
		assert.Equal(t, []string{"C", "A", "B"}, connectionIds)
	})

	t.Run("add is idempotent", func(t *testing.T) {
		registry := NewInMemoryRegistry(zap.NewNop())

		require.NoError(t, registry.Add(ctx, "A"))
		require.NoError(t, registry.Add(ctx, "A"))

		connectionIds, _ := registry.List(ctx)
		assert.Equal(t, []string{"A"}, connectionIds)
	})

	t.Run("remove keeps order of the rest", func(t *testing.T) {
		registry := NewInMemoryRegistry(zap.NewNop())
		for _, id := range []string{"A", "B", "C", "D"} {
			require.NoError(t, registry.Add(ctx, id))
		}

		require.NoError(t, registry.Remove(ctx, "B"))
		require.NoError(t, registry.Remove(ctx, "D"))
		require.NoError(t, registry.Add(ctx, "E"))

		connectionIds, _ := registry.List(ctx)
		assert.Equal(t, []string{"A", "C", "E"}, connectionIds)
	})

	t.Run("remove of unknown id is a no-op", func(t *testing.T) {
		registry := NewInMemoryRegistry(zap.NewNop())
		require.NoError(t, registry.Add(ctx, "A"))

		assert.NoError(t, registry.Remove(ctx, "missing"))
		assert.NoError(t, registry.Remove(ctx, "A"))
		assert.NoError(t, registry.Remove(ctx, "A"))

		connectionIds, _ := registry.List(ctx)
		assert.Empty(t, connectionIds)
	})

	t.Run("list returns a snapshot", func(t *testing.T) {
		registry := NewInMemoryRegistry(zap.NewNop())
		require.NoError(t, registry.Add(ctx, "A"))

		snapshot, _ := registry.List(ctx)
		require.NoError(t, registry.Add(ctx, "B"))

		assert.Equal(t, []string{"A"}, snapshot)
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		registry := NewInMemoryRegistry(zap.NewNop())

		err := registry.Add(ctx, "not a valid/id")

		assert.Equal(t, ierr.ErrorCodeInvalidArgument, ierr.CodeOf(err))
	})
}

func TestGenerateConnectionId(t *testing.T) {
	first, err := GenerateConnectionId()
	require.NoError(t, err)
	second, err := GenerateConnectionId()
	require.NoError(t, err)

	assert.Len(t, first, connectionIdLength)
	assert.NotEqual(t, first, second)
	assert.NoError(t, ValidateConnectionId(first))
}
