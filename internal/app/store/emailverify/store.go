// internal/app/store/emailverify/store.go
package emailverify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
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
	// KeyLength is the length of the confirmation key in bytes (32 bytes = 64 hex chars).
	KeyLength = 32
	// DefaultExpiry is how long a confirmation key is valid.
	DefaultExpiry = 72 * time.Hour
	// MaxResends is the maximum number of resends within the rate limit window.
	MaxResends = 3
	// ResendWindow is the time window for tracking resend rate limiting.
	ResendWindow = 10 * time.Minute
)

// legacyKeyIndex was the unique index on the clear-text key.
const legacyKeyIndex = "idx_emailverify_key"

var (
	// ErrNotFound is returned when a verification record is not found or expired.
	ErrNotFound = errors.New("verification not found or expired")
	// ErrTooManyResends is returned when too many resend requests have been made.
	ErrTooManyResends = errors.New("too many resend requests")
)

// Verification represents a pending email confirmation.
type Verification struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      primitive.ObjectID `bson:"user_id"`
	Email       string             `bson:"email"`
	KeyHash     string             `bson:"key_hash"`   // sha256 of the key sent in the link
	ExpiresAt   time.Time          `bson:"expires_at"` // TTL index field
	CreatedAt   time.Time          `bson:"created_at"`
	ResendCount int                `bson:"resend_count"` // Number of times the email was resent
	WindowStart time.Time          `bson:"window_start"` // Start of rate limit window for resends
}

// Store manages email verification records.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

// New creates a new Store with the specified expiry duration.
// If expiry is 0 or negative, DefaultExpiry (3 days) is used.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		c:      db.Collection("email_verifications"),
		expiry: expiry,
	}
}

// Expiry returns the expiry duration for confirmation keys.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// EnsureIndexes creates necessary indexes including TTL index for auto-cleanup.
// The legacy clear-text key index is dropped first: documents without a
// "key" field would collide on it.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.c.Indexes().DropOne(ctx, legacyKeyIndex); err != nil && !indexMissing(err) {
		return fmt.Errorf("drop %s: %w", legacyKeyIndex, err)
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_emailverify_expires_ttl").SetExpireAfterSeconds(0), // TTL index
		},
		{
			Keys:    bson.D{{Key: "key_hash", Value: 1}},
			Options: options.Index().SetName("idx_emailverify_key_hash").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_emailverify_user"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// CreateResult contains the generated key for a verification.
type CreateResult struct {
	Key         string // Key to put in the confirmation link
	ExpiresAt   time.Time
	ResendCount int // Number of resends for this verification (for audit logging)
}

// Create replaces any pending verification for the user with a new key.
// If isResend is true, this counts against the resend rate limit.
func (s *Store) Create(ctx context.Context, userID primitive.ObjectID, email string, isResend bool) (*CreateResult, error) {
	now := time.Now()

	// Check for existing verification record
	var existing Verification
	err := s.c.FindOne(ctx, bson.M{"user_id": userID}).Decode(&existing)
	existingFound := err == nil

	// Rate limit resends
	if isResend && existingFound {
		if now.Before(existing.WindowStart.Add(ResendWindow)) {
			if existing.ResendCount >= MaxResends {
				return nil, ErrTooManyResends
			}
		}
	}

	key := generateKey()

	// Calculate resend count and window start
	resendCount := 0
	windowStart := now
	if existingFound {
		// If within the window, carry over the count
		if now.Before(existing.WindowStart.Add(ResendWindow)) {
			windowStart = existing.WindowStart
			if isResend {
				resendCount = existing.ResendCount + 1
			} else {
				resendCount = existing.ResendCount
			}
		}
		// Otherwise, start fresh (window expired)
	}

	// Delete any existing verifications for this user
	_, _ = s.c.DeleteMany(ctx, bson.M{"user_id": userID})

	v := Verification{
		ID:          primitive.NewObjectID(),
		UserID:      userID,
		Email:       email,
		KeyHash:     hashKey(key),
		ExpiresAt:   now.Add(s.expiry),
		CreatedAt:   now,
		ResendCount: resendCount,
		WindowStart: windowStart,
	}

	if _, err := s.c.InsertOne(ctx, v); err != nil {
		return nil, fmt.Errorf("insert verification: %w", err)
	}

	return &CreateResult{
		Key:         key,
		ExpiresAt:   v.ExpiresAt,
		ResendCount: resendCount,
	}, nil
}

// VerifyKey consumes a confirmation key and returns the verification
// record if it is known and unexpired. Keys are single use.
func (s *Store) VerifyKey(ctx context.Context, key string) (*Verification, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	var v Verification
	err := s.c.FindOneAndDelete(ctx, bson.M{
		"key_hash":   hashKey(key),
		"expires_at": bson.M{"$gt": time.Now()},
	}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// DeleteByUser deletes all verification records for a user.
func (s *Store) DeleteByUser(ctx context.Context, userID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

// generateKey generates a random confirmation key.
// Panics if the system's cryptographic random number generator fails.
func generateKey() string {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand.Read failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// hashKey is what the store keeps; the clear key only travels in the email.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// indexMissing reports whether err is IndexNotFound (27) or
// NamespaceNotFound (26) from dropping an index.
func indexMissing(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 26 || ce.Code == 27
	}
	return false
}
