// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is an account that can log in through the auth router and is
// created through the registration router.
//
// NOTE:
//   - UsernameCI is the folded form of Username and carries the unique index.
//   - Email is stored normalized (trimmed, lowercased); it is unique when non-empty.
//   - GoogleID is unique when set; a Google sign-in resolves by it before email.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"pk"`
	Username   string             `bson:"username" json:"username"`
	UsernameCI string             `bson:"username_ci" json:"-"`
	Email      string             `bson:"email,omitempty" json:"email"`
	FirstName  string             `bson:"first_name" json:"first_name"`
	LastName   string             `bson:"last_name" json:"last_name"`

	PasswordHash  string `bson:"password_hash,omitempty" json:"-"` // empty for social-only accounts
	GoogleID      string `bson:"google_id,omitempty" json:"-"`     // Google subject, set once linked
	EmailVerified bool   `bson:"email_verified" json:"-"`
	IsActive      bool   `bson:"is_active" json:"-"`

	LastLogin *time.Time `bson:"last_login,omitempty" json:"-"`
	CreatedAt time.Time  `bson:"created_at" json:"-"`
	UpdatedAt time.Time  `bson:"updated_at" json:"-"`
}

// HasUsablePassword reports whether the account can log in with a password.
func (u User) HasUsablePassword() bool {
	return u.PasswordHash != ""
}
