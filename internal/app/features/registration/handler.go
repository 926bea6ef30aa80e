// internal/app/features/registration/handler.go
package registration

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dalemusser/userauth/internal/app/store/emailverify"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/auditlog"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/mailer"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/domain/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	msgVerificationSent = "Verification e-mail sent."
	msgOK               = "ok"
	msgNotFound         = "Not found."
	msgRequired         = "This field is required."
	msgInvalidEmail     = "Enter a valid email address."
	msgUsernameTaken    = "A user with that username already exists."
	msgEmailTaken       = "A user is already registered with this e-mail address."
	msgEmailNotVerified = "E-mail is not verified."
	msgServerError      = "A server error occurred."
)

// GoogleUserInfoURL is Google's OAuth2 userinfo endpoint.
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Options are the behaviour switches of the registration router.
type Options struct {
	EmailVerification string // authflow.Verify*
	SiteName          string
	// EmailConfirmURL is the link mailed for verification, with a {key}
	// placeholder.
	EmailConfirmURL string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

type Handler struct {
	Users     *userstore.Store
	Verify    *emailverify.Store
	Mailer    mailer.Sender
	AuditLog  *auditlog.Logger
	Metrics   *metrics.Registry
	Completer *authflow.Completer
	Log       *zap.Logger
	Opts      Options

	// GoogleEndpoint and UserInfoURL default to Google's; tests point them
	// at a local server.
	GoogleEndpoint oauth2.Endpoint
	UserInfoURL    string
}

func NewHandler(
	users *userstore.Store,
	verify *emailverify.Store,
	mail mailer.Sender,
	audit *auditlog.Logger,
	met *metrics.Registry,
	completer *authflow.Completer,
	opts Options,
	logger *zap.Logger,
) *Handler {
	if opts.EmailVerification == "" {
		opts.EmailVerification = authflow.VerifyOptional
	}
	if opts.SiteName == "" {
		opts.SiteName = "userauth"
	}
	if opts.EmailConfirmURL == "" {
		opts.EmailConfirmURL = "/registration/account-confirm-email/{key}/"
	}
	return &Handler{
		Users:          users,
		Verify:         verify,
		Mailer:         mail,
		AuditLog:       audit,
		Metrics:        met,
		Completer:      completer,
		Log:            logger,
		Opts:           opts,
		GoogleEndpoint: google.Endpoint,
		UserInfoURL:    GoogleUserInfoURL,
	}
}

// sendVerification issues a key for u and mails the confirmation link.
func (h *Handler) sendVerification(ctx context.Context, r *http.Request, u *models.User, isResend bool) error {
	res, err := h.Verify.Create(ctx, u.ID, u.Email, isResend)
	if err != nil {
		return err
	}

	msg := mailer.BuildVerificationEmail(mailer.VerificationEmailData{
		SiteName:  h.Opts.SiteName,
		Username:  u.Username,
		Link:      strings.ReplaceAll(h.Opts.EmailConfirmURL, "{key}", res.Key),
		Key:       res.Key,
		ExpiresIn: mailer.FormatExpiry(h.Verify.Expiry()),
	})
	msg.To = u.Email

	sendCtx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), h.Log, "send verification mail")
	defer cancel()
	err = h.Mailer.Send(sendCtx, msg)
	h.Metrics.RecordEmail("verification", err)
	if err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	h.AuditLog.VerificationEmailSent(ctx, r, u.ID, u.Email, res.ResendCount)
	return nil
}
