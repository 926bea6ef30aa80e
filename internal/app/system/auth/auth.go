package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/tokens"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                           |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	DefaultSessionName = "userauth-session"

	isAuthKey = "is_authenticated"
	userIDKey = "user_id"
)

// How the current request was authenticated.
const (
	MethodSession = "session"
	MethodJWT     = "jwt"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Current-User helper                                                         |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionUser is what we inject into r.Context() for an authenticated request.
type SessionUser struct {
	ID       string
	Username string
	Email    string
	Method   string
}

// UserFetcher loads fresh user data for an id taken from a cookie or token.
// It returns nil when the user does not exist or is inactive.
type UserFetcher interface {
	FetchUser(ctx context.Context, userID string) *SessionUser
}

// AccessParser validates a bearer access token.
type AccessParser interface {
	Parse(token, want string) (*tokens.Claims, error)
}

type ctxKey string

const (
	currentUserKey ctxKey = "currentUser"
	badTokenKey    ctxKey = "badToken"
)

// CurrentUser returns the user & "found?" flag.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	u, ok := r.Context().Value(currentUserKey).(*SessionUser)
	return u, ok
}

// WithTestUser injects u into the request context. Tests use it to skip the
// cookie and token machinery.
func WithTestUser(r *http.Request, u *SessionUser) *http.Request {
	return withUser(r, u)
}

/*─────────────────────────────────────────────────────────────────────────────*
| SessionManager                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionManager owns the cookie store and the middleware that turns a
// cookie or an Authorization header into a SessionUser.
type SessionManager struct {
	store   *sessions.CookieStore
	name    string
	log     *zap.Logger
	fetcher UserFetcher
	access  AccessParser
}

// NewSessionManager creates the cookie store. The `secure` flag controls
// whether cookies are marked Secure and which SameSite mode is used.
//
// In production (secure=true), cookies are Secure + SameSite=None.
// In local dev over http://localhost, use secure=false so cookies are accepted.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, errors.New("session key is empty; provide 32+ random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}
	if name == "" {
		name = DefaultSessionName
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	opts := &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
	}
	if secure {
		opts.SameSite = http.SameSiteNoneMode
	} else {
		opts.SameSite = http.SameSiteLaxMode
	}
	store.Options = opts
	store.MaxAge(opts.MaxAge)

	logger.Info("session store initialized",
		zap.String("name", name),
		zap.Bool("secure", secure),
		zap.String("domain", domain),
		zap.Duration("max_age", maxAge))

	return &SessionManager{store: store, name: name, log: logger}, nil
}

// SetUserFetcher installs the loader used by LoadUser.
func (m *SessionManager) SetUserFetcher(f UserFetcher) { m.fetcher = f }

// Fetcher returns the installed UserFetcher, or nil.
func (m *SessionManager) Fetcher() UserFetcher { return m.fetcher }

// SetAccessParser enables Authorization: Bearer <access token>.
func (m *SessionManager) SetAccessParser(p AccessParser) { m.access = p }

// Store exposes the underlying cookie store.
func (m *SessionManager) Store() *sessions.CookieStore { return m.store }

// Name is the session cookie name.
func (m *SessionManager) Name() string { return m.name }

// GetSession returns the request's session. A cookie that no longer
// decodes (rotated key, tampering) yields a fresh session, not an error.
func (m *SessionManager) GetSession(r *http.Request) (*sessions.Session, error) {
	sess, err := m.store.Get(r, m.name)
	if err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			m.log.Debug("discarding undecodable session cookie", zap.Error(err))
			return sess, nil
		}
		return sess, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// Login records userID in the session cookie.
func (m *SessionManager) Login(w http.ResponseWriter, r *http.Request, userID string) error {
	sess, err := m.GetSession(r)
	if err != nil {
		return err
	}
	sess.Values[isAuthKey] = true
	sess.Values[userIDKey] = userID
	return sess.Save(r, w)
}

// Logout expires the session cookie.
func (m *SessionManager) Logout(w http.ResponseWriter, r *http.Request) error {
	sess, err := m.GetSession(r)
	if err != nil {
		return err
	}
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// LoadUser injects the user into context if the request carries a valid
// bearer access token or session cookie. A bearer token that fails to
// validate leaves the request anonymous and marked, so public endpoints
// still run and RequireSignedIn answers token_not_valid.
func (m *SessionManager) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.fetcher == nil {
			next.ServeHTTP(w, r)
			return
		}

		if raw, ok := bearerToken(r); ok && m.access != nil {
			claims, err := m.access.Parse(raw, tokens.TypeAccess)
			if err != nil {
				m.log.Debug("ignoring invalid bearer token", zap.Error(err))
				next.ServeHTTP(w, withBadToken(r))
				return
			}
			u := m.fetcher.FetchUser(r.Context(), claims.Subject)
			if u == nil {
				next.ServeHTTP(w, withBadToken(r))
				return
			}
			u.Method = MethodJWT
			next.ServeHTTP(w, withUser(r, u))
			return
		}

		sess, err := m.GetSession(r)
		if err == nil {
			if isAuth, _ := sess.Values[isAuthKey].(bool); isAuth {
				if id, _ := sess.Values[userIDKey].(string); id != "" {
					if u := m.fetcher.FetchUser(r.Context(), id); u != nil {
						u.Method = MethodSession
						r = withUser(r, u)
					}
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSignedIn answers 401 when LoadUser found nobody. A rejected bearer
// token gets the token_not_valid body.
func (m *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		if HadInvalidToken(r) {
			TokenNotValid(w)
			return
		}
		respond.Detail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
	})
}

// HadInvalidToken reports whether the request carried a bearer token that
// LoadUser rejected.
func HadInvalidToken(r *http.Request) bool {
	bad, _ := r.Context().Value(badTokenKey).(bool)
	return bad
}

// TokenNotValid writes the 401 body used for every rejected JWT.
func TokenNotValid(w http.ResponseWriter) {
	respond.JSON(w, http.StatusUnauthorized, map[string]string{
		"detail": "Token is invalid or expired",
		"code":   "token_not_valid",
	})
}

// helpers

func withUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}

func withBadToken(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), badTokenKey, true))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
