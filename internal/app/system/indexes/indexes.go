// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"strings"

	auditstore "github.com/dalemusser/userauth/internal/app/store/audit"
	"github.com/dalemusser/userauth/internal/app/store/emailverify"
	loginstore "github.com/dalemusser/userauth/internal/app/store/logins"
	"github.com/dalemusser/userauth/internal/app/store/passwordreset"
	"github.com/dalemusser/userauth/internal/app/store/revoked"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"go.mongodb.org/mongo-driver/mongo"
)

// ensurer is any store that can create its own indexes.
type ensurer interface {
	EnsureIndexes(ctx context.Context) error
}

/*
EnsureAll is called at startup. Each store's EnsureIndexes is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	stores := []struct {
		name string
		s    ensurer
	}{
		{"users", userstore.New(db)},
		{"email_verifications", emailverify.New(db, 0)},
		{"password_resets", passwordreset.New(db, 0)},
		{"token_blacklist", revoked.NewMongo(db)},
		{"login_records", loginstore.New(db)},
		{"audit_events", auditstore.New(db)},
	}

	var problems []string
	for _, st := range stores {
		if err := st.s.EnsureIndexes(ctx); err != nil {
			problems = append(problems, st.name+": "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
