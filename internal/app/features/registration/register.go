// internal/app/features/registration/register.go
package registration

import (
	"context"
	"errors"
	"net/http"
	"strings"

	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/authutil"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/domain/models"
	"go.uber.org/zap"
)

// HandleRegister handles POST /registration/.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	username := strings.TrimSpace(in["username"])
	email := strings.TrimSpace(in["email"])
	p1, p2 := in["password1"], in["password2"]

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	errs := respond.FieldErrors{}
	for field, v := range map[string]string{"username": username, "email": email, "password1": p1, "password2": p2} {
		if v == "" {
			errs.Add(field, msgRequired)
		}
	}
	if username != "" {
		if err := authutil.ValidateUsername(username); err != nil {
			errs.Add("username", err.Error())
		} else if taken, err := h.Users.UsernameExists(ctx, username); err != nil {
			h.serverError(w, "check username", err)
			return
		} else if taken {
			errs.Add("username", msgUsernameTaken)
		}
	}
	if email != "" {
		if !authutil.IsValidEmail(email) {
			errs.Add("email", msgInvalidEmail)
		} else if taken, err := h.Users.EmailExists(ctx, email); err != nil {
			h.serverError(w, "check email", err)
			return
		} else if taken {
			errs.Add("email", msgEmailTaken)
		}
	}
	if p1 != "" && p2 != "" {
		if p1 != p2 {
			errs.Add(respond.NonFieldErrors, authutil.ErrPasswordMismatch.Error())
		} else {
			for _, err := range authutil.ValidatePassword(p1, username, email) {
				errs.Add("password1", err.Error())
			}
		}
	}
	if !errs.Empty() {
		h.Metrics.RecordAuthEvent("register", metrics.OutcomeFailure)
		respond.Invalid(w, errs)
		return
	}

	hash, err := authutil.HashPassword(p1)
	if err != nil {
		h.serverError(w, "hash password", err)
		return
	}

	u, err := h.Users.Create(ctx, models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	})
	switch {
	case errors.Is(err, userstore.ErrDuplicateUsername):
		respond.Invalid(w, respond.FieldErrors{"username": {msgUsernameTaken}})
		return
	case errors.Is(err, userstore.ErrDuplicateEmail):
		respond.Invalid(w, respond.FieldErrors{"email": {msgEmailTaken}})
		return
	case err != nil:
		h.serverError(w, "create user", err)
		return
	}

	h.AuditLog.UserRegistered(ctx, r, u.ID, u.Username, models.ProviderPassword)
	h.Metrics.RecordAuthEvent("register", metrics.OutcomeSuccess)
	h.Log.Info("user registered", zap.String("user_id", u.ID.Hex()), zap.String("username", u.Username))

	if h.Opts.EmailVerification == authflow.VerifyNone {
		resp, err := h.Completer.Complete(w, r, &u, models.ProviderSignup, u.Username)
		if err != nil {
			h.serverError(w, "complete signup login", err)
			return
		}
		respond.JSON(w, http.StatusCreated, resp)
		return
	}

	// The account exists either way; a failed send can be retried through
	// resend-email.
	if err := h.sendVerification(ctx, r, &u, false); err != nil {
		h.Log.Error("send verification email", zap.Error(err), zap.String("user_id", u.ID.Hex()))
	}
	respond.Detail(w, http.StatusCreated, msgVerificationSent)
}

func (h *Handler) serverError(w http.ResponseWriter, what string, err error) {
	h.Log.Error(what, zap.Error(err))
	respond.Detail(w, http.StatusInternalServerError, msgServerError)
}
