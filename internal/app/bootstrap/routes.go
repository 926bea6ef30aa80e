// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	authapifeature "github.com/dalemusser/userauth/internal/app/features/authapi"
	healthfeature "github.com/dalemusser/userauth/internal/app/features/health"
	registrationfeature "github.com/dalemusser/userauth/internal/app/features/registration"
	usersfeature "github.com/dalemusser/userauth/internal/app/features/users"
	auditstore "github.com/dalemusser/userauth/internal/app/store/audit"
	"github.com/dalemusser/userauth/internal/app/store/emailverify"
	loginstore "github.com/dalemusser/userauth/internal/app/store/logins"
	"github.com/dalemusser/userauth/internal/app/store/passwordreset"
	"github.com/dalemusser/userauth/internal/app/store/revoked"
	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/auditlog"
	"github.com/dalemusser/userauth/internal/app/system/auth"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/mailer"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/ratelimit"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed.
//
// The users route table (auth router at the root, registration router under
// registration/) is mounted at appCfg.MountPath. /health and /metrics sit
// beside it at the server root.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	db := deps.MongoDatabase

	// Secure cookies are enabled in production mode.
	secure := coreCfg != nil && coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain,
		appCfg.JWTRefreshLifetime, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	// Revoked refresh tokens go to Redis when it is configured; otherwise to
	// the Mongo blacklist swept by the Startup worker.
	var revocations tokens.Revocations
	if deps.Redis != nil {
		revocations = revoked.NewRedis(deps.Redis, revoked.DefaultRedisPrefix)
	} else {
		revocations = revoked.NewMongo(db)
	}
	tok, err := tokens.NewManager(tokens.Config{
		SigningKey:      appCfg.JWTSigningKey,
		Issuer:          appCfg.JWTIssuer,
		AccessLifetime:  appCfg.JWTAccessLifetime,
		RefreshLifetime: appCfg.JWTRefreshLifetime,
	}, revocations)
	if err != nil {
		logger.Error("token manager init failed", zap.Error(err))
		return nil, err
	}

	// Fresh user data on every request, from the session cookie or a bearer token.
	sessionMgr.SetUserFetcher(userstore.NewFetcher(db))
	sessionMgr.SetAccessParser(tok)

	var limiter *ratelimit.LoginLimiter
	if deps.Redis != nil {
		limiter = ratelimit.NewRedisLoginLimiter(deps.Redis, logger,
			appCfg.LoginIPLimit, ratelimit.DefaultIPWindow,
			appCfg.LoginAccountLimit, ratelimit.DefaultAccountWindow)
	} else {
		limiter = ratelimit.NewLoginLimiterWithConfig(logger,
			appCfg.LoginIPLimit, ratelimit.DefaultIPWindow,
			appCfg.LoginAccountLimit, ratelimit.DefaultAccountWindow)
	}
	if deps.Workers != nil {
		deps.Workers.LoginLimiter = limiter
	}

	mail, err := mailer.New(mailer.Config{
		Host:     appCfg.MailSMTPHost,
		Port:     appCfg.MailSMTPPort,
		Username: appCfg.MailSMTPUser,
		Password: appCfg.MailSMTPPass,
		From:     appCfg.MailFrom,
		FromName: appCfg.MailFromName,
	}, logger)
	if err != nil {
		logger.Error("mailer init failed", zap.Error(err))
		return nil, err
	}
	if mail.LogOnly() {
		logger.Warn("mail_smtp_host is blank; outgoing mail is written to the log")
	}

	audit := auditlog.New(auditstore.New(db), logger, auditlog.Config{Auth: appCfg.AuditLogAuth})
	met := metrics.New()

	users := userstore.New(db)
	completer := &authflow.Completer{
		Users:        users,
		Logins:       loginstore.New(db),
		Tokens:       tok,
		SessionMgr:   sessionMgr,
		AuditLog:     audit,
		Metrics:      met,
		Log:          logger,
		SessionLogin: appCfg.SessionLogin,
	}

	authHandler := authapifeature.NewHandler(
		users,
		passwordreset.New(db, appCfg.PasswordResetExpiry),
		tok,
		sessionMgr,
		limiter,
		mail,
		audit,
		met,
		completer,
		authapifeature.Options{
			LoginMethod:             appCfg.LoginMethod,
			EmailVerification:       appCfg.EmailVerification,
			OldPasswordFieldEnabled: appCfg.OldPasswordFieldEnabled,
			LogoutOnGet:             appCfg.LogoutOnGet,
			LogoutOnPasswordChange:  appCfg.LogoutOnPasswordChange,
			SiteName:                appCfg.MailFromName,
			PasswordResetURL:        appCfg.PasswordResetURL,
		},
		logger,
	)

	regHandler := registrationfeature.NewHandler(
		users,
		emailverify.New(db, appCfg.EmailVerifyExpiry),
		mail,
		audit,
		met,
		completer,
		registrationfeature.Options{
			EmailVerification:  appCfg.EmailVerification,
			SiteName:           appCfg.MailFromName,
			EmailConfirmURL:    appCfg.EmailConfirmURL,
			GoogleClientID:     appCfg.GoogleClientID,
			GoogleClientSecret: appCfg.GoogleClientSecret,
			GoogleRedirectURL:  appCfg.GoogleRedirectURL,
		},
		logger,
	)

	table := usersfeature.URLs(
		authapifeature.Routes(authHandler),
		registrationfeature.Routes(regHandler),
	)

	r := chi.NewRouter()
	r.Use(met.Middleware(appCfg.MountPath, func(path string) (string, bool) {
		e, ok := table.Resolve(path)
		return e.Name, ok
	}))

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Redis, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Handle("/metrics", met.Handler())

	// Global auth middleware for the users routes: loads the SessionUser
	// from the session cookie or an access token.
	mount := appCfg.MountPath
	if mount == "" {
		mount = "/"
	}
	r.Mount(mount, sessionMgr.LoadUser(table.Router()))

	logger.Info("users routes mounted",
		zap.String("mount_path", mount),
		zap.Strings("namespaces", table.Names()),
		zap.Bool("google", regHandler.GoogleConfigured()))

	return r, nil
}
