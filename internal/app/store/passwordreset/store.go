// internal/app/store/passwordreset/store.go
package passwordreset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// TokenLength is the number of random bytes in a reset token.
	TokenLength = 32
	// DefaultExpiry is how long a reset link stays valid.
	DefaultExpiry = time.Hour
)

// ErrInvalidToken is returned when a token is unknown, expired, already used
// or issued to a different user.
var ErrInvalidToken = errors.New("invalid or expired reset token")

// Reset is a pending password reset. Only the sha256 of the token is stored.
type Reset struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"user_id"`
	TokenHash string             `bson:"token_hash"`
	ExpiresAt time.Time          `bson:"expires_at"`
	CreatedAt time.Time          `bson:"created_at"`
}

// Store manages password reset tokens in MongoDB.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

// New creates a reset Store. A non-positive expiry means DefaultExpiry.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{c: db.Collection("password_resets"), expiry: expiry}
}

// Expiry returns how long new tokens are valid.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// EnsureIndexes creates the lookup and TTL indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_pwreset_user"),
		},
		// TTL index for automatic cleanup
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_pwreset_ttl"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create issues a new token for userID, replacing any outstanding one, and
// returns the plaintext token for the reset link.
func (s *Store) Create(ctx context.Context, userID primitive.ObjectID) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.expiry)

	_, err = s.c.ReplaceOne(ctx,
		bson.M{"user_id": userID},
		Reset{
			UserID:    userID,
			TokenHash: hashToken(token),
			ExpiresAt: expiresAt,
			CreatedAt: now,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("save reset token: %w", err)
	}
	return token, expiresAt, nil
}

// Check reports whether token is the live token for userID without using it.
func (s *Store) Check(ctx context.Context, userID primitive.ObjectID, token string) error {
	var r Reset
	err := s.c.FindOne(ctx, bson.M{
		"user_id":    userID,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if !tokenMatches(r.TokenHash, token) {
		return ErrInvalidToken
	}
	return nil
}

// Consume validates token for userID and deletes it, so a token works once.
func (s *Store) Consume(ctx context.Context, userID primitive.ObjectID, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	var r Reset
	err := s.c.FindOneAndDelete(ctx, bson.M{
		"user_id":    userID,
		"token_hash": hashToken(token),
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrInvalidToken
	}
	return err
}

// DeleteByUser removes any outstanding token for userID.
func (s *Store) DeleteByUser(ctx context.Context, userID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

func generateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(storedHash, token string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashToken(token))) == 1
}
