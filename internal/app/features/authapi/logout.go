// internal/app/features/authapi/logout.go
package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/userauth/internal/app/system/auth"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"go.uber.org/zap"
)

// HandleLogout handles POST /logout/. A refresh token in the body is
// blacklisted; the session cookie is always cleared.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	h.logout(w, r, strings.TrimSpace(in["refresh"]))
}

// HandleLogoutGet handles GET /logout/, which is only allowed when
// logout_on_get is set.
func (h *Handler) HandleLogoutGet(w http.ResponseWriter, r *http.Request) {
	if !h.Opts.LogoutOnGet {
		w.Header().Set("Allow", http.MethodPost)
		respond.Detail(w, http.StatusMethodNotAllowed, `Method "GET" not allowed.`)
		return
	}
	h.logout(w, r, "")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, refresh string) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	userID := ""
	if u, ok := auth.CurrentUser(r); ok {
		userID = u.ID
	}

	revoked := false
	if refresh != "" {
		if err := h.Tokens.Revoke(ctx, refresh); err != nil {
			if errors.Is(err, tokens.ErrInvalidToken) || errors.Is(err, tokens.ErrWrongType) {
				respond.Detail(w, http.StatusUnauthorized, "Token is invalid or expired")
				return
			}
			h.Log.Error("blacklist refresh token", zap.Error(err))
			respond.Detail(w, http.StatusInternalServerError, "An error has occurred.")
			return
		}
		revoked = true
	}

	if err := h.SessionMgr.Logout(w, r); err != nil {
		// The cookie could not be rewritten; tokens are already handled.
		h.Log.Warn("logout: clear session", zap.Error(err))
	}

	h.AuditLog.Logout(ctx, r, userID, revoked)
	respond.Detail(w, http.StatusOK, msgLoggedOut)
}
