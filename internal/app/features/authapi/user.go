// internal/app/features/authapi/user.go
package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/auth"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/authutil"
	"github.com/dalemusser/userauth/internal/app/system/htmlsanitize"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ServeUser handles GET /user/.
func (h *Handler) ServeUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, ok := h.loadCurrentUser(ctx, w, r)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, authflow.Details(u))
}

// HandleUserPut handles PUT /user/. username is required.
func (h *Handler) HandleUserPut(w http.ResponseWriter, r *http.Request) {
	h.updateUser(w, r, false)
}

// HandleUserPatch handles PATCH /user/. Omitted fields keep their values.
func (h *Handler) HandleUserPatch(w http.ResponseWriter, r *http.Request) {
	h.updateUser(w, r, true)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request, partial bool) {
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

	upd := userstore.ProfileUpdate{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
	var changed []string
	set := func(field string, dst *string) {
		v, present := in[field]
		if !present {
			return
		}
		if field != "username" {
			v = htmlsanitize.PlainText(v)
		}
		if v != *dst {
			changed = append(changed, field)
		}
		*dst = v
	}
	set("username", &upd.Username)
	set("first_name", &upd.FirstName)
	set("last_name", &upd.LastName)

	errs := respond.FieldErrors{}
	if _, present := in["username"]; !present && !partial {
		errs.Add("username", msgRequired)
	} else if strings.TrimSpace(upd.Username) == "" {
		errs.Add("username", "This field may not be blank.")
	} else if err := authutil.ValidateUsername(strings.TrimSpace(upd.Username)); err != nil {
		errs.Add("username", err.Error())
	}
	if !errs.Empty() {
		respond.Invalid(w, errs)
		return
	}

	updated, err := h.Users.UpdateProfile(ctx, u.ID, upd)
	switch {
	case errors.Is(err, userstore.ErrDuplicateUsername):
		respond.Invalid(w, respond.FieldErrors{"username": {"A user with that username already exists."}})
		return
	case errors.Is(err, userstore.ErrNotFound):
		respond.Detail(w, http.StatusNotFound, "Not found.")
		return
	case err != nil:
		h.Log.Error("update profile", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return
	}

	if len(changed) > 0 {
		h.AuditLog.ProfileUpdated(ctx, r, u.ID, strings.Join(changed, ","))
	}
	respond.JSON(w, http.StatusOK, authflow.Details(updated))
}

// loadCurrentUser fetches the full record of the signed-in user. It writes
// the error response itself and returns false on failure.
func (h *Handler) loadCurrentUser(ctx context.Context, w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		respond.Detail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
		return nil, false
	}
	oid, err := primitive.ObjectIDFromHex(su.ID)
	if err != nil {
		respond.Detail(w, http.StatusUnauthorized, "User not found")
		return nil, false
	}
	u, err := h.Users.GetByID(ctx, oid)
	if errors.Is(err, userstore.ErrNotFound) {
		respond.Detail(w, http.StatusUnauthorized, "User not found")
		return nil, false
	}
	if err != nil {
		h.Log.Error("load current user", zap.Error(err), zap.String("user_id", su.ID))
		respond.Detail(w, http.StatusInternalServerError, msgServerError)
		return nil, false
	}
	return u, true
}
