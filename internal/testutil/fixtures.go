package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/userauth/internal/app/system/authutil"
	"github.com/dalemusser/userauth/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// UserOpts tweaks a fixture user. The zero value is an active account with
// a verified email.
type UserOpts struct {
	Unverified bool
	Inactive   bool
}

// CreateUser creates an active, verified user with a bcrypt hash of
// password. An empty password leaves the account without a usable password.
func (f *Fixtures) CreateUser(ctx context.Context, username, email, password string) models.User {
	f.t.Helper()
	return f.CreateUserWith(ctx, username, email, password, UserOpts{})
}

// CreateUserWith is CreateUser with options.
func (f *Fixtures) CreateUserWith(ctx context.Context, username, email, password string, opts UserOpts) models.User {
	f.t.Helper()

	hash := ""
	if password != "" {
		var err error
		hash, err = authutil.HashPassword(password)
		if err != nil {
			f.t.Fatalf("failed to hash password: %v", err)
		}
	}

	now := time.Now().UTC()
	user := models.User{
		ID:            primitive.NewObjectID(),
		Username:      username,
		UsernameCI:    text.Fold(username),
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: !opts.Unverified,
		IsActive:      !opts.Inactive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}
