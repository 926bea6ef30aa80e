package userstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/userauth/internal/app/system/normalize"
	"github.com/dalemusser/userauth/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Index names; duplicate-key errors are told apart by these.
const (
	idxUsername = "uniq_username_ci"
	idxEmail    = "uniq_email"
	idxGoogleID = "uniq_google_id"
)

// Login lookup modes.
const (
	LoginUsernameEmail = "username_email"
	LoginUsername      = "username"
	LoginEmail         = "email"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound          = errors.New("user not found")
	// ErrDuplicateUsername is returned when the folded username is taken.
	ErrDuplicateUsername = errors.New("a user with this username already exists")
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail    = errors.New("a user with this email already exists")
	// ErrDuplicateGoogleID is returned when the Google account is linked to another user.
	ErrDuplicateGoogleID = errors.New("a user with this google account already exists")
	errUsernameNeeded    = errors.New("username is required")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// EnsureIndexes creates the unique username, email and Google ID indexes.
// Email and google_id are omitted from the document when empty, and the
// partial filters keep those accounts out of the unique indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username_ci", Value: 1}},
			Options: options.Index().SetName(idxUsername).SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().
				SetName(idxEmail).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "google_id", Value: 1}},
			Options: options.Index().
				SetName(idxGoogleID).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"google_id": bson.M{"$type": "string"}}),
		},
	})
	return err
}

// Create inserts a new user after normalizing fields. PasswordHash must
// already be hashed (or empty for social-only accounts).
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.Username = normalize.Username(u.Username)
	if u.Username == "" {
		return models.User{}, errUsernameNeeded
	}
	u.UsernameCI = text.Fold(u.Username)
	u.Email = normalize.Email(u.Email)
	u.FirstName = normalize.Name(u.FirstName)
	u.LastName = normalize.Name(u.LastName)

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		return models.User{}, dupError(err)
	}
	return u, nil
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByUsername looks up a user by case-insensitive username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"username_ci": text.Fold(normalize.Username(username))})
}

// GetByEmail looks up a user by case-insensitive email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	e := normalize.Email(email)
	if e == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"email": e})
}

// GetByGoogleID looks up the user linked to a Google subject.
func (s *Store) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	if googleID == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"google_id": googleID})
}

// GetByLogin resolves the identifier a user typed at login. With
// username_email, an identifier containing "@" is tried as an email first
// and then as a username.
func (s *Store) GetByLogin(ctx context.Context, method, username, email string) (*models.User, error) {
	switch method {
	case LoginUsername:
		return s.GetByUsername(ctx, username)
	case LoginEmail:
		return s.GetByEmail(ctx, email)
	}

	if email != "" {
		u, err := s.GetByEmail(ctx, email)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return u, err
		}
	}
	if username == "" {
		return nil, ErrNotFound
	}
	if strings.Contains(username, "@") {
		u, err := s.GetByEmail(ctx, username)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return u, err
		}
	}
	return s.GetByUsername(ctx, username)
}

// ProfileUpdate holds the user-editable fields.
type ProfileUpdate struct {
	Username  string
	FirstName string
	LastName  string
}

// UpdateProfile writes username and names. Returns ErrDuplicateUsername if
// another account already has the folded username.
func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd ProfileUpdate) (*models.User, error) {
	username := normalize.Username(upd.Username)
	if username == "" {
		return nil, errUsernameNeeded
	}
	set := bson.M{
		"username":    username,
		"username_ci": text.Fold(username),
		"first_name":  normalize.Name(upd.FirstName),
		"last_name":   normalize.Name(upd.LastName),
		"updated_at":  time.Now().UTC(),
	}

	var out models.User
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, dupError(err)
	}
	return &out, nil
}

// SetPassword replaces the password hash.
func (s *Store) SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	return s.updateOne(ctx, id, bson.M{"password_hash": hash})
}

// MarkEmailVerified flags the address as confirmed. The email must still
// match, so a key issued before an address change can't verify the new one.
func (s *Store) MarkEmailVerified(ctx context.Context, id primitive.ObjectID, email string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "email": normalize.Email(email)},
		bson.M{"$set": bson.M{"email_verified": true, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkGoogle records the Google subject on an account that has none yet.
// The provider has confirmed the address, so it is marked verified too.
func (s *Store) LinkGoogle(ctx context.Context, id primitive.ObjectID, googleID string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "google_id": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{
			"google_id":      googleID,
			"email_verified": true,
			"updated_at":     time.Now().UTC(),
		}})
	if err != nil {
		return dupError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin stamps last_login.
func (s *Store) TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_login": at.UTC()}})
	return err
}

// UsernameExists reports whether the folded username is taken.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, bson.M{"username_ci": text.Fold(normalize.Username(username))})
}

// EmailExists reports whether email belongs to any account.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, bson.M{"email": normalize.Email(email)})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) updateOne(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) exists(ctx context.Context, filter bson.M) (bool, error) {
	err := s.c.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return false, err
}

func dupError(err error) error {
	if !wafflemongo.IsDup(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxEmail):
		return ErrDuplicateEmail
	case strings.Contains(msg, idxUsername):
		return ErrDuplicateUsername
	case strings.Contains(msg, idxGoogleID):
		return ErrDuplicateGoogleID
	}
	return ErrDuplicateUsername
}
