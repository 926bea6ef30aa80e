// internal/app/features/authapi/routes.go
package authapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes is the auth router: login, logout, user details, password
// management and token endpoints. Trailing slashes are optional.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Post("/login", h.HandleLogin)
	r.Post("/logout", h.HandleLogout)
	r.Get("/logout", h.HandleLogoutGet)

	r.Post("/password/reset", h.HandlePasswordReset)
	r.Post("/password/reset/confirm", h.HandlePasswordResetConfirm)

	r.Post("/token/verify", h.HandleTokenVerify)
	r.Post("/token/refresh", h.HandleTokenRefresh)

	r.Group(func(pr chi.Router) {
		pr.Use(h.SessionMgr.RequireSignedIn)
		pr.Get("/user", h.ServeUser)
		pr.Put("/user", h.HandleUserPut)
		pr.Patch("/user", h.HandleUserPatch)
		pr.Post("/password/change", h.HandlePasswordChange)
	})
	return r
}
