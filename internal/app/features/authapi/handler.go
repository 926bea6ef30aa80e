// internal/app/features/authapi/handler.go
package authapi

import (
	"strings"

	"github.com/dalemusser/userauth/internal/app/store/passwordreset"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/auditlog"
	"github.com/dalemusser/userauth/internal/app/system/auth"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/mailer"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/ratelimit"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"go.uber.org/zap"
)

// Response messages.
const (
	msgBadCredentials   = "Unable to log in with provided credentials."
	msgEmailNotVerified = "E-mail is not verified."
	msgLoggedOut        = "Successfully logged out."
	msgPasswordSaved    = "New password has been saved."
	msgResetSent        = "Password reset e-mail has been sent."
	msgResetDone        = "Password has been reset with the new password."
	msgRequired         = "This field is required."
	msgInvalidValue     = "Invalid value"
	msgInvalidEmail     = "Enter a valid email address."
	msgWrongOldPassword = "Your old password was entered incorrectly. Please enter it again."
	msgServerError      = "A server error occurred."
)

// Options are the behaviour switches of the auth router.
type Options struct {
	LoginMethod             string // userstore.Login*
	EmailVerification       string // authflow.Verify*
	OldPasswordFieldEnabled bool
	LogoutOnGet             bool
	LogoutOnPasswordChange  bool
	SiteName                string
	// PasswordResetURL is the link mailed for a reset, with {uid} and {token}
	// placeholders.
	PasswordResetURL string
}

type Handler struct {
	Users      *userstore.Store
	Resets     *passwordreset.Store
	Tokens     *tokens.Manager
	SessionMgr *auth.SessionManager
	Limiter    *ratelimit.LoginLimiter
	Mailer     mailer.Sender
	AuditLog   *auditlog.Logger
	Metrics    *metrics.Registry
	Completer  *authflow.Completer
	Log        *zap.Logger
	Opts       Options
}

func NewHandler(
	users *userstore.Store,
	resets *passwordreset.Store,
	tok *tokens.Manager,
	sessionMgr *auth.SessionManager,
	limiter *ratelimit.LoginLimiter,
	mail mailer.Sender,
	audit *auditlog.Logger,
	met *metrics.Registry,
	completer *authflow.Completer,
	opts Options,
	logger *zap.Logger,
) *Handler {
	if opts.LoginMethod == "" {
		opts.LoginMethod = userstore.LoginUsernameEmail
	}
	if opts.EmailVerification == "" {
		opts.EmailVerification = authflow.VerifyOptional
	}
	if opts.SiteName == "" {
		opts.SiteName = "userauth"
	}
	return &Handler{
		Users:      users,
		Resets:     resets,
		Tokens:     tok,
		SessionMgr: sessionMgr,
		Limiter:    limiter,
		Mailer:     mail,
		AuditLog:   audit,
		Metrics:    met,
		Completer:  completer,
		Log:        logger,
		Opts:       opts,
	}
}

// resetLink fills the reset URL template.
func (h *Handler) resetLink(uid, token string) string {
	return strings.NewReplacer("{uid}", uid, "{token}", token).Replace(h.Opts.PasswordResetURL)
}
