package machine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is a MongoDB-backed Store for deployments that prefer a
// document store for (machine_kind, aggregate_key) -> snapshot over the
// relational outbox/proposal tables (§2 domain stack). Grounded on
// registry/store/mongo's Store shape: a single collection, upsert-via-Replace
// writes, and (nil, nil) on a miss.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore wraps an existing, already-connected collection.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// snapshotDocument is the MongoDB document representation of a Snapshot.
// _id is the composite (machine_kind, aggregate_key) key so Replace-based
// upserts are a single indexed point write.
type snapshotDocument struct {
	ID           string `bson:"_id"`
	MachineKind  string `bson:"machine_kind"`
	AggregateKey string `bson:"aggregate_key"`
	Revision     int    `bson:"revision"`
	State        []byte `bson:"state"`
	UpdatedAt    int64  `bson:"updated_at"`
}

func (s *MongoStore) Load(ctx context.Context, machineKind, aggregateKey string) (*Snapshot, error) {
	var doc snapshotDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key(machineKind, aggregateKey)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongodb load snapshot %s/%s: %w", machineKind, aggregateKey, err)
	}
	return &Snapshot{
		MachineKind:  doc.MachineKind,
		AggregateKey: doc.AggregateKey,
		Revision:     doc.Revision,
		State:        doc.State,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, snap Snapshot) error {
	doc := snapshotDocument{
		ID:           key(snap.MachineKind, snap.AggregateKey),
		MachineKind:  snap.MachineKind,
		AggregateKey: snap.AggregateKey,
		Revision:     snap.Revision,
		State:        snap.State,
		UpdatedAt:    time.Now().UTC().Unix(),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save snapshot %s: %w", doc.ID, err)
	}
	return nil
}
