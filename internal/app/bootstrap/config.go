// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/auditlog"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/normalize"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

const (
	devSessionKey = "dev-only-change-me-please-0123456789ABCDEF"
	devSigningKey = "dev-only-jwt-signing-key-change-me-0123456789"

	minSessionKeyLength = 32
)

// appConfigKeys defines the configuration keys for userauth.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: USERAUTH_MONGO_URI, USERAUTH_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "userauth", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Handler timeouts
	{Name: "timeout_ping", Default: "2s", Desc: "Timeout for health checks and startup pings"},
	{Name: "timeout_short", Default: "5s", Desc: "Timeout for single lookups"},
	{Name: "timeout_medium", Default: "10s", Desc: "Timeout for multi-step writes, outbound mail and OAuth calls"},

	// Redis (optional)
	{Name: "redis_addr", Default: "", Desc: "Redis address for rate limits and token blacklist (blank disables Redis)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},

	// Session cookie
	{Name: "session_key", Default: devSessionKey, Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "userauth-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_login", Default: true, Desc: "Also set a session cookie on login"},

	// JWT
	{Name: "jwt_signing_key", Default: devSigningKey, Desc: "HS256 signing key for access and refresh tokens"},
	{Name: "jwt_issuer", Default: "userauth", Desc: "JWT iss claim"},
	{Name: "jwt_access_lifetime", Default: "5m", Desc: "Access token lifetime"},
	{Name: "jwt_refresh_lifetime", Default: "24h", Desc: "Refresh token lifetime"},

	{Name: "mount_path", Default: "/api/auth", Desc: "Base path the users routes are mounted under"},

	// Auth and registration behaviour
	{Name: "login_method", Default: userstore.LoginUsernameEmail, Desc: "Login identifier: 'username_email', 'username' or 'email'"},
	{Name: "email_verification", Default: authflow.VerifyOptional, Desc: "E-mail verification: 'mandatory', 'optional' or 'none'"},
	{Name: "email_verify_expiry", Default: "72h", Desc: "E-mail confirmation link expiry (e.g., 72h, 30m)"},
	{Name: "password_reset_expiry", Default: "1h", Desc: "Password reset link expiry"},
	{Name: "old_password_field_enabled", Default: true, Desc: "Require old_password on password change"},
	{Name: "logout_on_get", Default: false, Desc: "Allow GET on the logout endpoint"},
	{Name: "logout_on_password_change", Default: false, Desc: "Clear the session cookie after a password change"},
	{Name: "login_ip_limit", Default: 10, Desc: "Login attempts allowed per IP per minute"},
	{Name: "login_account_limit", Default: 5, Desc: "Login attempts allowed per account per 5 minutes"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "", Desc: "SMTP server host (blank writes mail to the log)"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@example.com", Desc: "From email address"},
	{Name: "mail_from_name", Default: "userauth", Desc: "From display name"},

	// Links in outgoing mail
	{Name: "base_url", Default: "http://localhost:8080", Desc: "Public base URL of this service"},
	{Name: "email_confirm_url", Default: "", Desc: "E-mail confirmation link with {key} (blank derives it from base_url and mount_path)"},
	{Name: "password_reset_url", Default: "", Desc: "Password reset link with {uid} and {token} (blank derives it from base_url)"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Google OAuth configuration
	{Name: "google_client_id", Default: "", Desc: "Google OAuth2 client ID (blank disables Google login)"},
	{Name: "google_client_secret", Default: "", Desc: "Google OAuth2 client secret"},
	{Name: "google_redirect_url", Default: "", Desc: "Redirect URL registered with Google for the code flow"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, USERAUTH_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "USERAUTH", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		TimeoutPing:   appValues.Duration("timeout_ping", timeouts.DefaultPing),
		TimeoutShort:  appValues.Duration("timeout_short", timeouts.DefaultShort),
		TimeoutMedium: appValues.Duration("timeout_medium", timeouts.DefaultMedium),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionLogin:  appValues.Bool("session_login"),

		JWTSigningKey:      appValues.String("jwt_signing_key"),
		JWTIssuer:          appValues.String("jwt_issuer"),
		JWTAccessLifetime:  appValues.Duration("jwt_access_lifetime", tokens.DefaultAccessLifetime),
		JWTRefreshLifetime: appValues.Duration("jwt_refresh_lifetime", tokens.DefaultRefreshLifetime),

		MountPath: normalizeMountPath(appValues.String("mount_path")),

		LoginMethod:             normalize.Setting(appValues.String("login_method")),
		EmailVerification:       normalize.Setting(appValues.String("email_verification")),
		EmailVerifyExpiry:       appValues.Duration("email_verify_expiry", 72*time.Hour),
		PasswordResetExpiry:     appValues.Duration("password_reset_expiry", time.Hour),
		OldPasswordFieldEnabled: appValues.Bool("old_password_field_enabled"),
		LogoutOnGet:             appValues.Bool("logout_on_get"),
		LogoutOnPasswordChange:  appValues.Bool("logout_on_password_change"),
		LoginIPLimit:            appValues.Int("login_ip_limit"),
		LoginAccountLimit:       appValues.Int("login_account_limit"),

		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		BaseURL:          strings.TrimRight(appValues.String("base_url"), "/"),
		EmailConfirmURL:  appValues.String("email_confirm_url"),
		PasswordResetURL: appValues.String("password_reset_url"),

		AuditLogAuth: normalize.Setting(appValues.String("audit_log_auth")),

		GoogleClientID:     appValues.String("google_client_id"),
		GoogleClientSecret: appValues.String("google_client_secret"),
		GoogleRedirectURL:  appValues.String("google_redirect_url"),
	}
	deriveLinks(&appCfg)

	return coreCfg, appCfg, nil
}

// normalizeMountPath returns "" for the root and "/x/y" otherwise.
func normalizeMountPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// deriveLinks fills the mailed link templates that were left blank.
func deriveLinks(cfg *AppConfig) {
	if cfg.EmailConfirmURL == "" {
		cfg.EmailConfirmURL = cfg.BaseURL + cfg.MountPath + "/registration/account-confirm-email/{key}/"
	}
	if cfg.PasswordResetURL == "" {
		cfg.PasswordResetURL = cfg.BaseURL + "/password-reset/{uid}/{token}/"
	}
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// All problems are reported together.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	var problems []string

	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		problems = append(problems, fmt.Sprintf("invalid MongoDB URI: %v", err))
	}
	if len(appCfg.SessionKey) < minSessionKeyLength {
		problems = append(problems, fmt.Sprintf("session_key must be at least %d characters", minSessionKeyLength))
	}
	if len(appCfg.JWTSigningKey) < tokens.MinSigningKeyLength {
		problems = append(problems, fmt.Sprintf("jwt_signing_key must be at least %d characters", tokens.MinSigningKeyLength))
	}
	if coreCfg != nil && coreCfg.Env == "prod" {
		if appCfg.SessionKey == devSessionKey {
			problems = append(problems, "session_key must be changed from the development default in prod")
		}
		if appCfg.JWTSigningKey == devSigningKey {
			problems = append(problems, "jwt_signing_key must be changed from the development default in prod")
		}
	}
	switch appCfg.LoginMethod {
	case userstore.LoginUsernameEmail, userstore.LoginUsername, userstore.LoginEmail:
	default:
		problems = append(problems, fmt.Sprintf("login_method %q must be 'username_email', 'username' or 'email'", appCfg.LoginMethod))
	}
	if !authflow.ValidVerificationMode(appCfg.EmailVerification) {
		problems = append(problems, fmt.Sprintf("email_verification %q must be 'mandatory', 'optional' or 'none'", appCfg.EmailVerification))
	}
	if !auditlog.ValidDestination(appCfg.AuditLogAuth) {
		problems = append(problems, fmt.Sprintf("audit_log_auth %q must be 'all', 'db', 'log' or 'off'", appCfg.AuditLogAuth))
	}
	if appCfg.LoginIPLimit <= 0 || appCfg.LoginAccountLimit <= 0 {
		problems = append(problems, "login_ip_limit and login_account_limit must be positive")
	}
	if (appCfg.GoogleClientID == "") != (appCfg.GoogleClientSecret == "") {
		problems = append(problems, "google_client_id and google_client_secret must be set together")
	}
	if !strings.Contains(appCfg.PasswordResetURL, "{uid}") || !strings.Contains(appCfg.PasswordResetURL, "{token}") {
		problems = append(problems, "password_reset_url must contain {uid} and {token}")
	}
	if !strings.Contains(appCfg.EmailConfirmURL, "{key}") {
		problems = append(problems, "email_confirm_url must contain {key}")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
