// internal/app/features/authapi/password.go
package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/userauth/internal/app/store/passwordreset"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/authutil"
	"github.com/dalemusser/userauth/internal/app/system/mailer"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/normalize"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// HandlePasswordChange handles POST /password/change/ for the signed-in user.
func (h *Handler) HandlePasswordChange(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, ok := h.loadCurrentUser(ctx, w, r)
	if !ok {
		return
	}

	errs := respond.FieldErrors{}
	if h.Opts.OldPasswordFieldEnabled {
		switch old := in["old_password"]; {
		case old == "":
			errs.Add("old_password", msgRequired)
		case !authutil.CheckPassword(old, u.PasswordHash):
			errs.Add("old_password", msgWrongOldPassword)
		}
	}
	addNewPasswordErrors(errs, in["new_password1"], in["new_password2"], u.Username, u.Email)
	if !errs.Empty() {
		respond.Invalid(w, errs)
		return
	}

	if !h.setPassword(ctx, w, u.ID, in["new_password1"]) {
		return
	}

	h.AuditLog.PasswordChanged(ctx, r, u.ID)
	h.Metrics.RecordAuthEvent("password_change", metrics.OutcomeSuccess)

	if h.Opts.LogoutOnPasswordChange {
		if err := h.SessionMgr.Logout(w, r); err != nil {
			h.Log.Warn("logout after password change", zap.Error(err))
		}
	}
	respond.Detail(w, http.StatusOK, msgPasswordSaved)
}

// HandlePasswordReset handles POST /password/reset/. The response is the
// same whether or not the address belongs to an account.
func (h *Handler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	email := normalize.Email(in["email"])
	if email == "" {
		respond.Invalid(w, respond.FieldErrors{"email": {msgRequired}})
		return
	}
	if !authutil.IsValidEmail(email) {
		respond.Invalid(w, respond.FieldErrors{"email": {msgInvalidEmail}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		h.Log.Info("password reset for unknown email")
	case err != nil:
		h.Log.Error("load user for password reset", zap.Error(err))
	case !u.IsActive || !u.HasUsablePassword():
		h.Log.Info("password reset for inactive or passwordless account", zap.String("user_id", u.ID.Hex()))
	default:
		token, _, err := h.Resets.Create(ctx, u.ID)
		if err != nil {
			h.Log.Error("create password reset token", zap.Error(err), zap.String("user_id", u.ID.Hex()))
			break
		}
		msg := mailer.BuildPasswordResetEmail(mailer.PasswordResetEmailData{
			SiteName:  h.Opts.SiteName,
			Username:  u.Username,
			Link:      h.resetLink(u.ID.Hex(), token),
			ExpiresIn: mailer.FormatExpiry(h.Resets.Expiry()),
		})
		msg.To = u.Email
		sendCtx, sendCancel := timeouts.WithTimeout(ctx, timeouts.Medium(), h.Log, "send password reset mail")
		err = h.Mailer.Send(sendCtx, msg)
		sendCancel()
		h.Metrics.RecordEmail("password_reset", err)
		if err != nil {
			h.Log.Error("send password reset email", zap.Error(err), zap.String("user_id", u.ID.Hex()))
			break
		}
		h.AuditLog.PasswordResetRequested(ctx, r, u.ID)
	}

	respond.Detail(w, http.StatusOK, msgResetSent)
}

// HandlePasswordResetConfirm handles POST /password/reset/confirm/.
func (h *Handler) HandlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	uid := strings.TrimSpace(in["uid"])
	token := strings.TrimSpace(in["token"])

	errs := respond.FieldErrors{}
	for _, f := range []string{"uid", "token", "new_password1", "new_password2"} {
		if strings.TrimSpace(in[f]) == "" {
			errs.Add(f, msgRequired)
		}
	}
	if !errs.Empty() {
		respond.Invalid(w, errs)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	oid, err := primitive.ObjectIDFromHex(uid)
	if err != nil {
		h.resetFailed(ctx, w, r, uid, "bad uid", "uid")
		return
	}
	u, err := h.Users.GetByID(ctx, oid)
	if errors.Is(err, userstore.ErrNotFound) {
		h.resetFailed(ctx, w, r, uid, "unknown user", "uid")
		return
	}
	if err != nil {
		h.Log.Error("load user for reset confirm", zap.Error(err), zap.String("uid", uid))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return
	}

	// Check first so a rejected new password does not burn the token.
	if err := h.Resets.Check(ctx, u.ID, token); err != nil {
		if errors.Is(err, passwordreset.ErrInvalidToken) {
			h.resetFailed(ctx, w, r, uid, "invalid token", "token")
			return
		}
		h.Log.Error("check reset token", zap.Error(err), zap.String("uid", uid))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return
	}

	addNewPasswordErrors(errs, in["new_password1"], in["new_password2"], u.Username, u.Email)
	if !errs.Empty() {
		respond.Invalid(w, errs)
		return
	}

	if err := h.Resets.Consume(ctx, u.ID, token); err != nil {
		if errors.Is(err, passwordreset.ErrInvalidToken) {
			h.resetFailed(ctx, w, r, uid, "token already used", "token")
			return
		}
		h.Log.Error("consume reset token", zap.Error(err), zap.String("uid", uid))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return
	}
	if !h.setPassword(ctx, w, u.ID, in["new_password1"]) {
		return
	}

	h.AuditLog.PasswordResetCompleted(ctx, r, u.ID)
	h.Metrics.RecordAuthEvent("password_reset", metrics.OutcomeSuccess)
	respond.Detail(w, http.StatusOK, msgResetDone)
}

func (h *Handler) resetFailed(ctx context.Context, w http.ResponseWriter, r *http.Request, uid, reason, field string) {
	h.AuditLog.PasswordResetFailed(ctx, r, uid, reason)
	h.Metrics.RecordAuthEvent("password_reset", metrics.OutcomeFailure)
	respond.Invalid(w, respond.FieldErrors{field: {msgInvalidValue}})
}

func (h *Handler) setPassword(ctx context.Context, w http.ResponseWriter, id primitive.ObjectID, password string) bool {
	hash, err := authutil.HashPassword(password)
	if err != nil {
		h.Log.Error("hash password", zap.Error(err))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return false
	}
	if err := h.Users.SetPassword(ctx, id, hash); err != nil {
		h.Log.Error("save password", zap.Error(err), zap.String("user_id", id.Hex()))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return false
	}
	return true
}

// addNewPasswordErrors validates the new_password1/new_password2 pair.
// Rule violations are reported on new_password2.
func addNewPasswordErrors(errs respond.FieldErrors, p1, p2, username, email string) {
	if p1 == "" {
		errs.Add("new_password1", msgRequired)
	}
	if p2 == "" {
		errs.Add("new_password2", msgRequired)
	}
	if p1 == "" || p2 == "" {
		return
	}
	for _, err := range authutil.ValidatePasswordPair(p1, p2, username, email) {
		errs.Add("new_password2", err.Error())
	}
}
