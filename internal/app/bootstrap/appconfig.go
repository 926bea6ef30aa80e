// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//
// AppConfig carries everything the users app needs: backends, session and
// token secrets, the behaviour switches of the auth and registration
// routers, mail delivery and the Google client.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Timeouts applied around database, cache and mail I/O
	TimeoutPing   time.Duration
	TimeoutShort  time.Duration
	TimeoutMedium time.Duration

	// Redis (optional). When RedisAddr is blank, rate limits are kept in
	// memory and the token blacklist lives in Mongo.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session cookie configuration
	SessionKey    string // Secret key for signing session cookies (must be strong in production)
	SessionName   string // Cookie name for sessions (default: userauth-session)
	SessionDomain string // Cookie domain (blank means current host)
	SessionLogin  bool   // Also sign the user into the session cookie on login

	// JWT configuration
	JWTSigningKey      string
	JWTIssuer          string
	JWTAccessLifetime  time.Duration
	JWTRefreshLifetime time.Duration

	// MountPath is where the users route table is mounted (default /api/auth).
	MountPath string

	// Auth and registration behaviour
	LoginMethod             string // username_email | username | email
	EmailVerification       string // mandatory | optional | none
	EmailVerifyExpiry       time.Duration
	PasswordResetExpiry     time.Duration
	OldPasswordFieldEnabled bool
	LogoutOnGet             bool
	LogoutOnPasswordChange  bool
	LoginIPLimit            int // attempts per IP per minute
	LoginAccountLimit       int // attempts per account per 5 minutes

	// Email/SMTP configuration
	MailSMTPHost string // SMTP server host (blank logs mail instead of sending)
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	// Links placed in outgoing mail
	BaseURL          string // e.g., "https://accounts.example.com"
	EmailConfirmURL  string // {key} placeholder
	PasswordResetURL string // {uid} and {token} placeholders

	// Audit logging: all | db | log | off
	AuditLogAuth string

	// Google OAuth configuration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}
