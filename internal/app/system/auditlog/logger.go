// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/userauth/internal/app/store/audit"
	"github.com/dalemusser/userauth/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destinations accepted by Config fields.
const (
	DestAll = "all" // MongoDB + zap
	DestDB  = "db"  // MongoDB only
	DestLog = "log" // zap only
	DestOff = "off" // disabled
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls login, logout, password and token events.
	Auth string
	// Registration controls sign-up, e-mail verification and social login events.
	// Empty means "same as Auth".
	Registration string
}

// ValidDestination reports whether s is one of all|db|log|off.
func ValidDestination(s string) bool {
	switch s {
	case DestAll, DestDB, DestLog, DestOff:
		return true
	}
	return false
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger. store may be nil when every category is
// configured "log" or "off".
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	if config.Registration == "" {
		config.Registration = config.Auth
	}
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}

	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryAuth:
		setting = l.config.Auth
	case audit.CategoryRegistration:
		setting = l.config.Registration
	default:
		setting = DestAll
	}

	if setting == DestOff {
		return
	}

	if setting == DestAll || setting == DestLog {
		l.logToZap(event)
	}

	if (setting == DestAll || setting == DestDB) && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func fromRequest(r *http.Request, category, eventType string, userID *primitive.ObjectID, success bool) audit.Event {
	return audit.Event{
		Category:  category,
		EventType: eventType,
		UserID:    userID,
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   success,
	}
}

func oidPtr(id primitive.ObjectID) *primitive.ObjectID {
	if id.IsZero() {
		return nil
	}
	return &id
}

func hexPtr(id string) *primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	return &oid
}

// --- Authentication Events ---

// LoginSuccess logs a successful login.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, userID primitive.ObjectID, provider, identifier string) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLoginSuccess, oidPtr(userID), true)
	e.Details = map[string]string{"provider": provider, "identifier": identifier}
	l.Log(ctx, e)
}

// LoginFailed logs a rejected login. eventType is one of the
// audit.EventLoginFailed* constants; userID is zero when no account matched.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, eventType string, userID primitive.ObjectID, identifier, reason string) {
	e := fromRequest(r, audit.CategoryAuth, eventType, oidPtr(userID), false)
	e.FailureReason = reason
	e.Details = map[string]string{"identifier": identifier}
	l.Log(ctx, e)
}

// Logout logs a logout. userID may be empty for anonymous logouts.
func (l *Logger) Logout(ctx context.Context, r *http.Request, userID string, revokedRefresh bool) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLogout, hexPtr(userID), true)
	e.Details = map[string]string{"refresh_revoked": strconv.FormatBool(revokedRefresh)}
	l.Log(ctx, e)
}

// PasswordChanged logs a password change by the signed-in user.
func (l *Logger) PasswordChanged(ctx context.Context, r *http.Request, userID primitive.ObjectID) {
	l.Log(ctx, fromRequest(r, audit.CategoryAuth, audit.EventPasswordChanged, oidPtr(userID), true))
}

// PasswordResetRequested logs that a reset email went to an existing account.
func (l *Logger) PasswordResetRequested(ctx context.Context, r *http.Request, userID primitive.ObjectID) {
	l.Log(ctx, fromRequest(r, audit.CategoryAuth, audit.EventPasswordResetRequested, oidPtr(userID), true))
}

// PasswordResetCompleted logs a successful reset confirmation.
func (l *Logger) PasswordResetCompleted(ctx context.Context, r *http.Request, userID primitive.ObjectID) {
	l.Log(ctx, fromRequest(r, audit.CategoryAuth, audit.EventPasswordResetCompleted, oidPtr(userID), true))
}

// PasswordResetFailed logs a rejected reset confirmation.
func (l *Logger) PasswordResetFailed(ctx context.Context, r *http.Request, uid, reason string) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventPasswordResetFailed, hexPtr(uid), false)
	e.FailureReason = reason
	l.Log(ctx, e)
}

// TokenRefreshed logs a refresh-token exchange.
func (l *Logger) TokenRefreshed(ctx context.Context, r *http.Request, userID string) {
	l.Log(ctx, fromRequest(r, audit.CategoryAuth, audit.EventTokenRefreshed, hexPtr(userID), true))
}

// ProfileUpdated logs a change to the user's own details.
func (l *Logger) ProfileUpdated(ctx context.Context, r *http.Request, userID primitive.ObjectID, fieldsChanged string) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventProfileUpdated, oidPtr(userID), true)
	e.Details = map[string]string{"fields_changed": fieldsChanged}
	l.Log(ctx, e)
}

// --- Registration Events ---

// UserRegistered logs a new account.
func (l *Logger) UserRegistered(ctx context.Context, r *http.Request, userID primitive.ObjectID, username, provider string) {
	e := fromRequest(r, audit.CategoryRegistration, audit.EventUserRegistered, oidPtr(userID), true)
	e.Details = map[string]string{"username": username, "provider": provider}
	l.Log(ctx, e)
}

// VerificationEmailSent logs a confirmation email. resendCount is 0 for the
// first email.
func (l *Logger) VerificationEmailSent(ctx context.Context, r *http.Request, userID primitive.ObjectID, email string, resendCount int) {
	eventType := audit.EventVerificationEmailSent
	if resendCount > 0 {
		eventType = audit.EventVerificationEmailResent
	}
	e := fromRequest(r, audit.CategoryRegistration, eventType, oidPtr(userID), true)
	e.Details = map[string]string{"email": email, "resend_count": strconv.Itoa(resendCount)}
	l.Log(ctx, e)
}

// EmailVerified logs a confirmed address.
func (l *Logger) EmailVerified(ctx context.Context, r *http.Request, userID primitive.ObjectID, email string) {
	e := fromRequest(r, audit.CategoryRegistration, audit.EventEmailVerified, oidPtr(userID), true)
	e.Details = map[string]string{"email": email}
	l.Log(ctx, e)
}

// EmailVerifyFailed logs an unknown or expired confirmation key.
func (l *Logger) EmailVerifyFailed(ctx context.Context, r *http.Request, reason string) {
	e := fromRequest(r, audit.CategoryRegistration, audit.EventEmailVerifyFailed, nil, false)
	e.FailureReason = reason
	l.Log(ctx, e)
}

// SocialLogin logs a login through an external provider.
func (l *Logger) SocialLogin(ctx context.Context, r *http.Request, userID primitive.ObjectID, provider string, created bool) {
	e := fromRequest(r, audit.CategoryRegistration, audit.EventSocialLogin, oidPtr(userID), true)
	e.Details = map[string]string{"provider": provider, "created": strconv.FormatBool(created)}
	l.Log(ctx, e)
}
