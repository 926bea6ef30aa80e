// internal/app/features/authapi/login.go
package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/userauth/internal/app/store/audit"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/authutil"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// HandleLogin handles POST /login/.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	username := strings.TrimSpace(in["username"])
	email := strings.TrimSpace(in["email"])
	password := in["password"]

	if msg := h.missingCredentials(username, email, password); msg != "" {
		respond.NonField(w, msg)
		return
	}

	identifier := username
	if identifier == "" {
		identifier = email
	}

	if ok, reason := h.Limiter.Check(r, identifier); !ok {
		h.AuditLog.LoginFailed(r.Context(), r, audit.EventLoginFailedRateLimit, primitive.NilObjectID, identifier, reason)
		h.Metrics.RecordAuthEvent("login", metrics.OutcomeBlocked)
		respond.Detail(w, http.StatusTooManyRequests, reason)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.GetByLogin(ctx, h.Opts.LoginMethod, username, email)
	if errors.Is(err, userstore.ErrNotFound) {
		h.loginFailed(ctx, w, r, audit.EventLoginFailedUserNotFound, primitive.NilObjectID, identifier, "user not found", msgBadCredentials)
		return
	}
	if err != nil {
		h.Log.Error("database error loading user for login", zap.Error(err), zap.String("identifier", identifier))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return
	}

	if !authutil.CheckPassword(password, u.PasswordHash) {
		h.loginFailed(ctx, w, r, audit.EventLoginFailedWrongPassword, u.ID, identifier, "wrong password", msgBadCredentials)
		return
	}
	if !u.IsActive {
		h.loginFailed(ctx, w, r, audit.EventLoginFailedUserDisabled, u.ID, identifier, "user disabled", msgBadCredentials)
		return
	}
	if h.Opts.EmailVerification == authflow.VerifyMandatory && !u.EmailVerified {
		h.loginFailed(ctx, w, r, audit.EventLoginFailedUnverified, u.ID, identifier, "email not verified", msgEmailNotVerified)
		return
	}

	h.Limiter.ResetAccount(ctx, identifier)
	h.writeLogin(w, r, u, models.ProviderPassword, identifier)
}

// writeLogin completes the sign-in and writes the token payload.
func (h *Handler) writeLogin(w http.ResponseWriter, r *http.Request, u *models.User, provider, identifier string) {
	resp, err := h.Completer.Complete(w, r, u, provider, identifier)
	if err != nil {
		h.Log.Error("complete login", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return
	}
	h.Log.Info("user logged in", zap.String("user_id", u.ID.Hex()), zap.String("provider", provider))
	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) loginFailed(ctx context.Context, w http.ResponseWriter, r *http.Request, eventType string, userID primitive.ObjectID, identifier, reason, msg string) {
	h.AuditLog.LoginFailed(ctx, r, eventType, userID, identifier, reason)
	h.Metrics.RecordAuthEvent("login", metrics.OutcomeFailure)
	respond.NonField(w, msg)
}

// missingCredentials returns the error for an incomplete login body, or "".
func (h *Handler) missingCredentials(username, email, password string) string {
	switch h.Opts.LoginMethod {
	case userstore.LoginUsername:
		if username == "" || password == "" {
			return `Must include "username" and "password".`
		}
	case userstore.LoginEmail:
		if email == "" || password == "" {
			return `Must include "email" and "password".`
		}
	default:
		if (username == "" && email == "") || password == "" {
			return `Must include either "username" or "email" and "password".`
		}
	}
	return ""
}
