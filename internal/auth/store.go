// README: Mongo-backed key source: keys live in the newest access_keys document.
package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	keysCollection     = "access_keys"
	attemptsCollection = "access_logs"
)

type keysDoc struct {
	Keys       []string  `bson:"keys"`
	LastEdited time.Time `bson:"_last_edited"`
}

type attemptDoc struct {
	Message    string    `bson:"message"`
	LastEdited time.Time `bson:"_last_edited"`
}

type Store struct {
	db *mongo.Database
}

func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Keys returns the key set from the newest access_keys document; an empty
// collection means no key is valid.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var doc keysDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	err := s.db.Collection(keysCollection).FindOne(ctx, bson.D{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Keys, nil
}

// SetKeys supersedes the valid key set.
func (s *Store) SetKeys(ctx context.Context, keys []string) error {
	doc := keysDoc{Keys: keys, LastEdited: time.Now()}
	_, err := s.db.Collection(keysCollection).InsertOne(ctx, doc)
	return err
}

// Record appends one authentication attempt to the access log.
func (s *Store) Record(ctx context.Context, message string) error {
	doc := attemptDoc{Message: message, LastEdited: time.Now()}
	_, err := s.db.Collection(attemptsCollection).InsertOne(ctx, doc)
	return err
}
