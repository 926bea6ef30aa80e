// internal/app/features/registration/routes.go
package registration

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes is the registration router: sign-up, email verification and
// social login. Trailing slashes are optional.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Post("/", h.HandleRegister)
	r.Post("/verify-email", h.HandleVerifyEmail)
	r.Post("/resend-email", h.HandleResendEmail)
	r.Get("/account-confirm-email/{key}", h.ServeConfirmEmail)
	r.Get("/account-email-verification-sent", h.ServeVerificationSent)
	r.Post("/google", h.HandleGoogle)
	return r
}
