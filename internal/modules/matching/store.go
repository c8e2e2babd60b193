// README: Snapshot store backed by MongoDB; whole-snapshot commits plus an
// append-only audit log.
package matching

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	snapshotCollection = "rides_and_drivers"
	auditCollection    = "operation_logs"
)

// Snapshot is the full engine state as persisted: every commit supersedes the
// previous snapshot wholesale.
type Snapshot struct {
	Rides    []*Ride
	Drivers  []*Driver
	Rejected []RejectedPair
}

type snapshotDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Rides      []*Ride            `bson:"rides"`
	Drivers    []*Driver          `bson:"drivers"`
	Rejected   []RejectedPair     `bson:"rejected_pairs"`
	LastEdited time.Time          `bson:"_last_edited"`
}

type auditDoc struct {
	Actor      string    `bson:"actor"`
	Message    string    `bson:"message"`
	LastEdited time.Time `bson:"_last_edited"`
}

type Store struct {
	db *mongo.Database
}

func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// LoadLatest returns the newest snapshot, or nil when none has ever been
// committed. Older snapshot documents are dropped so the collection holds at
// most the current state.
func (s *Store) LoadLatest(ctx context.Context) (*Snapshot, error) {
	coll := s.db.Collection(snapshotCollection)

	var doc snapshotDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	err := coll.FindOne(ctx, bson.D{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$ne": doc.ID}}); err != nil {
		return nil, err
	}
	return &Snapshot{Rides: doc.Rides, Drivers: doc.Drivers, Rejected: doc.Rejected}, nil
}

// Commit appends the snapshot as the new latest state. Last writer wins; the
// stale documents are cleaned up on the next LoadLatest.
func (s *Store) Commit(ctx context.Context, snap *Snapshot) error {
	doc := snapshotDoc{
		Rides:      snap.Rides,
		Drivers:    snap.Drivers,
		Rejected:   snap.Rejected,
		LastEdited: time.Now(),
	}
	_, err := s.db.Collection(snapshotCollection).InsertOne(ctx, doc)
	return err
}

// AppendAudit records one operation outcome in the append-only log.
func (s *Store) AppendAudit(ctx context.Context, actor, message string) error {
	doc := auditDoc{Actor: actor, Message: message, LastEdited: time.Now()}
	_, err := s.db.Collection(auditCollection).InsertOne(ctx, doc)
	return err
}
