// Package authflow finishes a successful sign-in the same way for every
// entry point: password login, registration without verification, and
// social login.
package authflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	loginstore "github.com/dalemusser/userauth/internal/app/store/logins"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/auditlog"
	"github.com/dalemusser/userauth/internal/app/system/auth"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"github.com/dalemusser/userauth/internal/domain/models"
	"go.uber.org/zap"
)

// Email verification modes.
const (
	VerifyMandatory = "mandatory"
	VerifyOptional  = "optional"
	VerifyNone      = "none"
)

// ValidVerificationMode reports whether s is a known verification mode.
func ValidVerificationMode(s string) bool {
	switch s {
	case VerifyMandatory, VerifyOptional, VerifyNone:
		return true
	}
	return false
}

// UserDetails is the public view of a user.
type UserDetails struct {
	PK        string `json:"pk"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Details converts a stored user to its public view.
func Details(u *models.User) UserDetails {
	return UserDetails{
		PK:        u.ID.Hex(),
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// LoginResponse is the body returned after any successful sign-in.
type LoginResponse struct {
	Access            string      `json:"access"`
	Refresh           string      `json:"refresh"`
	AccessExpiration  time.Time   `json:"access_expiration"`
	RefreshExpiration time.Time   `json:"refresh_expiration"`
	User              UserDetails `json:"user"`
}

// Completer issues credentials for an authenticated user and records the login.
type Completer struct {
	Users        *userstore.Store
	Logins       *loginstore.Store
	Tokens       *tokens.Manager
	SessionMgr   *auth.SessionManager
	AuditLog     *auditlog.Logger
	Metrics      *metrics.Registry
	Log          *zap.Logger
	SessionLogin bool // also set the session cookie
}

// Complete issues a JWT pair, optionally logs the user into the session
// cookie, stamps last_login and writes the login record. Bookkeeping
// failures are logged and do not fail the sign-in.
func (c *Completer) Complete(w http.ResponseWriter, r *http.Request, u *models.User, provider, identifier string) (LoginResponse, error) {
	pair, err := c.Tokens.Issue(u.ID.Hex())
	if err != nil {
		return LoginResponse{}, fmt.Errorf("issue tokens: %w", err)
	}

	if c.SessionLogin && c.SessionMgr != nil {
		if err := c.SessionMgr.Login(w, r, u.ID.Hex()); err != nil {
			c.Log.Error("save session failed", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	now := time.Now().UTC()
	if err := c.Users.TouchLastLogin(ctx, u.ID, now); err != nil {
		c.Log.Warn("failed to update last_login", zap.Error(err), zap.String("user_id", u.ID.Hex()))
	}
	u.LastLogin = &now
	if c.Logins != nil {
		if err := c.Logins.CreateFrom(ctx, r, u.ID, provider); err != nil {
			c.Log.Warn("failed to record login", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		}
	}

	c.AuditLog.LoginSuccess(ctx, r, u.ID, provider, identifier)
	c.Metrics.RecordAuthEvent("login", metrics.OutcomeSuccess)

	return LoginResponse{
		Access:            pair.Access,
		Refresh:           pair.Refresh,
		AccessExpiration:  pair.AccessExpiration,
		RefreshExpiration: pair.RefreshExpiration,
		User:              Details(u),
	}, nil
}
