package mongodb

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var testMongoURI string

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongodb container: %v\n", err)
		os.Exit(1)
	}

	testMongoURI, err = container.ConnectionString(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get mongodb connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate mongodb container: %v\n", err)
	}

	os.Exit(code)
}

func connectTestClient(t *testing.T) *mongo.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	require.NoError(t, client.Database(DatabaseName).Collection(CollectionName).Drop(context.Background()))

	return client
}

func setupTestRegistry(t *testing.T, clock clockwork.Clock) *Registry {
	t.Helper()

	registry := NewRegistry(connectTestClient(t), clock, 0)
	require.NoError(t, registry.Setup(context.Background()))

	return registry
}

func connectedAtExpiry(t *testing.T, client *mongo.Client) (int32, bool) {
	t.Helper()

	specifications, err := client.Database(DatabaseName).Collection(CollectionName).
		Indexes().ListSpecifications(context.Background())
	require.NoError(t, err)

	for _, specification := range specifications {
		if specification.Name == connectedAtIndexName {
			if specification.ExpireAfterSeconds == nil {
				return 0, true
			}
			return *specification.ExpireAfterSeconds, true
		}
	}

	return 0, false
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("lists oldest first", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		registry := setupTestRegistry(t, clock)

		for _, id := range []string{"C", "A", "B"} {
			require.NoError(t, registry.Add(ctx, id))
			clock.Advance(time.Second)
		}

		connectionIds, err := registry.List(ctx)

		assert.NoError(t, err)
		assert.Equal(t, []string{"C", "A", "B"}, connectionIds)
	})

	t.Run("add keeps the original connect time", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		registry := setupTestRegistry(t, clock)

		require.NoError(t, registry.Add(ctx, "A"))
		clock.Advance(time.Second)
		require.NoError(t, registry.Add(ctx, "B"))
		clock.Advance(time.Second)
		require.NoError(t, registry.Add(ctx, "A"))

		connectionIds, err := registry.List(ctx)

		assert.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, connectionIds)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		registry := setupTestRegistry(t, clockwork.NewFakeClock())

		require.NoError(t, registry.Add(ctx, "A"))
		assert.NoError(t, registry.Remove(ctx, "A"))
		assert.NoError(t, registry.Remove(ctx, "A"))
		assert.NoError(t, registry.Remove(ctx, "never-added"))

		connectionIds, err := registry.List(ctx)
		assert.NoError(t, err)
		assert.Empty(t, connectionIds)
	})
}

func TestRegistry_Setup(t *testing.T) {
	ctx := context.Background()

	t.Run("without ttl an old record of an open connection is kept", func(t *testing.T) {
		client := connectTestClient(t)
		clock := clockwork.NewFakeClockAt(time.Now().Add(-3 * time.Hour))
		registry := NewRegistry(client, clock, 0)
		require.NoError(t, registry.Setup(ctx))

		require.NoError(t, registry.Add(ctx, "long-lived"))

		expiry, ok := connectedAtExpiry(t, client)
		require.True(t, ok)
		assert.Equal(t, int32(0), expiry)

		connectionIds, err := registry.List(ctx)
		assert.NoError(t, err)
		assert.Equal(t, []string{"long-lived"}, connectionIds)
	})

	t.Run("changed ttl replaces the index", func(t *testing.T) {
		client := connectTestClient(t)
		clock := clockwork.NewFakeClock()

		require.NoError(t, NewRegistry(client, clock, time.Hour).Setup(ctx))
		expiry, _ := connectedAtExpiry(t, client)
		assert.Equal(t, int32(3600), expiry)

		require.NoError(t, NewRegistry(client, clock, 2*time.Hour).Setup(ctx))
		expiry, _ = connectedAtExpiry(t, client)
		assert.Equal(t, int32(7200), expiry)

		require.NoError(t, NewRegistry(client, clock, 0).Setup(ctx))
		expiry, ok := connectedAtExpiry(t, client)
		assert.True(t, ok)
		assert.Equal(t, int32(0), expiry)
	})

	t.Run("unchanged ttl is a no-op", func(t *testing.T) {
		client := connectTestClient(t)
		registry := NewRegistry(client, clockwork.NewFakeClock(), time.Hour)

		require.NoError(t, registry.Setup(ctx))
		require.NoError(t, registry.Setup(ctx))
	})
}
