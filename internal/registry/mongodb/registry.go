package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	DatabaseName   = "heartbeat"
	CollectionName = "connections"

	connectedAtIndexName = "connectedAt"
)

type connectionDocument struct {
	Id          string    `bson:"_id"`
	ConnectedAt time.Time `bson:"connectedAt"`
}

// Registry stores one document per live connection.
type Registry struct {
	collection *mongo.Collection
	clock      clockwork.Clock
	ttl        time.Duration
}

// NewRegistry binds to the connections collection of client. A positive ttl
// caps the age of a record: MongoDB expires it ttl after connect even if the
// connection is still open, so it only suits deployments whose gateway also
// caps connection lifetime. Zero keeps records until disconnect or pruning.
func NewRegistry(client *mongo.Client, clock clockwork.Clock, ttl time.Duration) *Registry {
	database := client.Database(DatabaseName)
	collection := database.Collection(CollectionName)

	return &Registry{
		collection,
		clock,
		ttl,
	}
}

// Setup creates the connectedAt index, replacing an existing one whose
// expiry no longer matches the configured ttl.
func (r *Registry) Setup(ctx context.Context) error {
	indexes := r.collection.Indexes()

	specifications, err := indexes.ListSpecifications(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}

	for _, specification := range specifications {
		if specification.Name != connectedAtIndexName {
			continue
		}

		if expireAfterSeconds(specification) == r.ttlSeconds() {
			return nil
		}

		if err := indexes.DropOne(ctx, connectedAtIndexName); err != nil {
			return fmt.Errorf("drop stale connectedAt index: %w", err)
		}
	}

	connectedAtIndex := options.Index().SetName(connectedAtIndexName)
	if ttlSeconds := r.ttlSeconds(); ttlSeconds > 0 {
		connectedAtIndex.SetExpireAfterSeconds(ttlSeconds)
	}

	_, err = indexes.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "connectedAt", Value: 1}},
		Options: connectedAtIndex,
	})
	if err != nil {
		return fmt.Errorf("create connectedAt index: %w", err)
	}

	return nil
}

func (r *Registry) ttlSeconds() int32 {
	if r.ttl <= 0 {
		return 0
	}

	return int32(r.ttl / time.Second)
}

func expireAfterSeconds(specification mongo.IndexSpecification) int32 {
	if specification.ExpireAfterSeconds == nil {
		return 0
	}

	return *specification.ExpireAfterSeconds
}

func (r *Registry) Add(ctx context.Context, connectionId string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": connectionId},
		bson.M{"$setOnInsert": bson.M{"connectedAt": r.clock.Now().UTC()}},
		options.UpdateOne().SetUpsert(true),
	)

	return err
}

func (r *Registry) List(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "connectedAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1, "connectedAt": 1})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	var documents []connectionDocument
	err = cursor.All(ctx, &documents)
	if err != nil {
		return nil, err
	}

	connectionIds := make([]string, len(documents))
	for i, document := range documents {
		connectionIds[i] = document.Id
	}

	return connectionIds, nil
}

func (r *Registry) Remove(ctx context.Context, connectionId string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": connectionId})

	return err
}
