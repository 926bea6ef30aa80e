// internal/app/features/authapi/token.go
package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/userauth/internal/app/system/auth"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"go.uber.org/zap"
)

type refreshResponse struct {
	Access           string    `json:"access"`
	AccessExpiration time.Time `json:"access_expiration"`
}

// HandleTokenVerify handles POST /token/verify/.
func (h *Handler) HandleTokenVerify(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	raw := strings.TrimSpace(in["token"])
	if raw == "" {
		respond.Invalid(w, respond.FieldErrors{"token": {msgRequired}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if _, err := h.Tokens.Verify(ctx, raw); err != nil {
		if !isTokenRejection(err) {
			h.Log.Error("verify token", zap.Error(err))
			respond.Detail(w, http.StatusInternalServerError, msgServerError)
			return
		}
		auth.TokenNotValid(w)
		return
	}
	respond.JSON(w, http.StatusOK, struct{}{})
}

// HandleTokenRefresh handles POST /token/refresh/. The refresh token is
// not rotated.
func (h *Handler) HandleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	raw := strings.TrimSpace(in["refresh"])
	if raw == "" {
		respond.Invalid(w, respond.FieldErrors{"refresh": {msgRequired}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	access, exp, claims, err := h.Tokens.Refresh(ctx, raw)
	if err != nil {
		if !isTokenRejection(err) {
			h.Log.Error("refresh token", zap.Error(err))
			respond.Detail(w, http.StatusInternalServerError, msgServerError)
			return
		}
		h.Metrics.RecordAuthEvent("token_refresh", metrics.OutcomeFailure)
		auth.TokenNotValid(w)
		return
	}

	// A user disabled after login must not keep minting access tokens.
	if h.SessionMgr.Fetcher() != nil && h.SessionMgr.Fetcher().FetchUser(ctx, claims.Subject) == nil {
		h.Metrics.RecordAuthEvent("token_refresh", metrics.OutcomeFailure)
		auth.TokenNotValid(w)
		return
	}

	h.AuditLog.TokenRefreshed(ctx, r, claims.Subject)
	h.Metrics.RecordAuthEvent("token_refresh", metrics.OutcomeSuccess)
	respond.JSON(w, http.StatusOK, refreshResponse{Access: access, AccessExpiration: exp})
}

func isTokenRejection(err error) bool {
	return errors.Is(err, tokens.ErrInvalidToken) ||
		errors.Is(err, tokens.ErrWrongType) ||
		errors.Is(err, tokens.ErrRevoked)
}
