// internal/app/features/registration/verify.go
package registration

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/userauth/internal/app/store/emailverify"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/authutil"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HandleVerifyEmail handles POST /registration/verify-email/.
func (h *Handler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	key := strings.TrimSpace(in["key"])
	if key == "" {
		respond.Invalid(w, respond.FieldErrors{"key": {msgRequired}})
		return
	}
	h.confirm(w, r, key)
}

// ServeConfirmEmail handles GET /registration/account-confirm-email/{key}/,
// the link mailed to the user.
func (h *Handler) ServeConfirmEmail(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, chi.URLParam(r, "key"))
}

// ServeVerificationSent handles GET /registration/account-email-verification-sent/.
func (h *Handler) ServeVerificationSent(w http.ResponseWriter, r *http.Request) {
	respond.Detail(w, http.StatusOK, msgVerificationSent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, key string) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	v, err := h.Verify.VerifyKey(ctx, key)
	if errors.Is(err, emailverify.ErrNotFound) {
		h.AuditLog.EmailVerifyFailed(ctx, r, "unknown or expired key")
		h.Metrics.RecordAuthEvent("verify_email", metrics.OutcomeFailure)
		respond.Detail(w, http.StatusNotFound, msgNotFound)
		return
	}
	if err != nil {
		h.serverError(w, "verify email key", err)
		return
	}

	// The key is bound to the address it was sent to.
	if err := h.Users.MarkEmailVerified(ctx, v.UserID, v.Email); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			h.AuditLog.EmailVerifyFailed(ctx, r, "address changed since key was issued")
			h.Metrics.RecordAuthEvent("verify_email", metrics.OutcomeFailure)
			respond.Detail(w, http.StatusNotFound, msgNotFound)
			return
		}
		h.serverError(w, "mark email verified", err)
		return
	}

	h.AuditLog.EmailVerified(ctx, r, v.UserID, v.Email)
	h.Metrics.RecordAuthEvent("verify_email", metrics.OutcomeSuccess)
	h.Log.Info("email verified", zap.String("user_id", v.UserID.Hex()))
	respond.Detail(w, http.StatusOK, msgOK)
}

// HandleResendEmail handles POST /registration/resend-email/. The response
// never reveals whether the address belongs to an account.
func (h *Handler) HandleResendEmail(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	email := strings.TrimSpace(in["email"])
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
	case err != nil:
		h.Log.Error("resend: load user", zap.Error(err))
	case u.EmailVerified || !u.IsActive:
	default:
		err := h.sendVerification(ctx, r, u, true)
		if errors.Is(err, emailverify.ErrTooManyResends) {
			h.Log.Info("resend limit reached", zap.String("user_id", u.ID.Hex()))
		} else if err != nil {
			h.Log.Error("resend verification email", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		}
	}
	respond.Detail(w, http.StatusOK, msgOK)
}
