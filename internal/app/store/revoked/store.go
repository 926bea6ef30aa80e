// internal/app/store/revoked/store.go
package revoked

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry is a blacklisted refresh token. Entries disappear through the TTL
// index once the token would have expired anyway.
type Entry struct {
	JTI       string              `bson:"jti"`
	UserID    *primitive.ObjectID `bson:"user_id,omitempty"`
	ExpiresAt time.Time           `bson:"expires_at"`
	CreatedAt time.Time           `bson:"created_at"`
}

// MongoStore keeps the refresh token blacklist in the token_blacklist collection.
type MongoStore struct {
	c *mongo.Collection
}

// NewMongo creates a blacklist backed by db.
func NewMongo(db *mongo.Database) *MongoStore {
	return &MongoStore{c: db.Collection("token_blacklist")}
}

// EnsureIndexes creates the unique jti index and the TTL index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "jti", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_blacklist_jti"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_blacklist_ttl"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Revoke blacklists jti until expiresAt. Revoking twice is not an error.
func (s *MongoStore) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	e := Entry{
		JTI:       jti,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if oid, err := primitive.ObjectIDFromHex(userID); err == nil {
		e.UserID = &oid
	}
	_, err := s.c.UpdateOne(ctx,
		bson.M{"jti": jti},
		bson.M{"$setOnInsert": e},
		options.Update().SetUpsert(true),
	)
	return err
}

// IsRevoked reports whether jti is blacklisted and not yet expired.
func (s *MongoStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{
		"jti":        jti,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return false, err
}

// CleanupExpired removes expired entries when the TTL monitor lags.
func (s *MongoStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
