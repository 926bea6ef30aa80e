package authapi_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/userauth/internal/app/features/authapi"
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
	"github.com/dalemusser/userauth/internal/testutil"
	"go.uber.org/zap"
)

const testPassword = "v3ry-Uncommon-Phrase"

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m mailer.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailer) last() (mailer.Email, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return mailer.Email{}, false
	}
	return f.sent[len(f.sent)-1], true
}

type harness struct {
	h        *authapi.Handler
	router   http.Handler
	fixtures *testutil.Fixtures
	users    *userstore.Store
	mail     *fakeMailer
}

func newHarness(t *testing.T, mutate func(*authapi.Options), ipLimit int) *harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := userstore.New(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	tok, err := tokens.NewManager(tokens.Config{
		SigningKey: "test-signing-key-with-at-least-32-chars",
		Issuer:     "userauth-test",
	}, revoked.NewMongo(db))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sessionMgr, err := auth.NewSessionManager("test-session-key-for-testing-only", "test-session", "", time.Hour, false, logger)
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	sessionMgr.SetUserFetcher(userstore.NewFetcher(db))
	sessionMgr.SetAccessParser(tok)

	audit := auditlog.New(nil, logger, auditlog.Config{Auth: auditlog.DestLog})
	met := metrics.New()

	completer := &authflow.Completer{
		Users:        users,
		Logins:       loginstore.New(db),
		Tokens:       tok,
		SessionMgr:   sessionMgr,
		AuditLog:     audit,
		Metrics:      met,
		Log:          logger,
		SessionLogin: true,
	}

	opts := authapi.Options{
		LoginMethod:             userstore.LoginUsernameEmail,
		EmailVerification:       authflow.VerifyOptional,
		OldPasswordFieldEnabled: true,
		SiteName:                "Test",
		PasswordResetURL:        "http://frontend.test/reset/{uid}/{token}/",
	}
	if mutate != nil {
		mutate(&opts)
	}
	if ipLimit <= 0 {
		ipLimit = 100
	}

	mail := &fakeMailer{}
	h := authapi.NewHandler(
		users,
		passwordreset.New(db, time.Hour),
		tok,
		sessionMgr,
		ratelimit.NewLoginLimiterWithConfig(logger, ipLimit, time.Minute, 100, time.Minute),
		mail,
		audit,
		met,
		completer,
		opts,
		logger,
	)

	return &harness{
		h:        h,
		router:   sessionMgr.LoadUser(authapi.Routes(h)),
		fixtures: testutil.NewFixtures(t, db),
		users:    users,
		mail:     mail,
	}
}

func (hs *harness) do(req *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	hs.router.ServeHTTP(rec, req)
	return rec
}

func (hs *harness) post(path string, body any) *testutil.ResponseRecorder {
	return hs.do(testutil.NewJSONRequest(http.MethodPost, path, body))
}

func (hs *harness) login(t *testing.T, username string) map[string]any {
	t.Helper()
	rec := hs.post("/login/", map[string]string{"username": username, "password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return rec.DecodeJSON(t)
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

/*─────────────────────────────────────────────────────────────────────────────*
| Login                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

func TestLogin_ByUsername(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "alice", "alice@example.com", testPassword)

	rec := hs.post("/login/", map[string]string{"username": "ALICE", "password": testPassword})
	rec.AssertStatus(t, http.StatusOK)

	body := rec.DecodeJSON(t)
	for _, k := range []string{"access", "refresh", "access_expiration", "refresh_expiration"} {
		if s, _ := body[k].(string); s == "" {
			t.Errorf("expected %s in response", k)
		}
	}
	user, _ := body["user"].(map[string]any)
	if user["pk"] != u.ID.Hex() || user["username"] != "alice" || user["email"] != "alice@example.com" {
		t.Errorf("unexpected user payload: %v", user)
	}

	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "test-session" {
			found = true
		}
	}
	if !found {
		t.Error("expected session cookie to be set")
	}

	got, _ := hs.users.GetByID(ctx, u.ID)
	if got.LastLogin == nil {
		t.Error("expected last_login to be stamped")
	}
}

func TestLogin_ByEmail(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUser(ctx, "bob", "bob@example.com", testPassword)

	rec := hs.post("/login", map[string]string{"email": "Bob@Example.com", "password": testPassword})
	rec.AssertStatus(t, http.StatusOK)
}

func TestLogin_Rejections(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUser(ctx, "carol", "carol@example.com", testPassword)
	hs.fixtures.CreateUserWith(ctx, "dave", "dave@example.com", testPassword, testutil.UserOpts{Inactive: true})
	hs.fixtures.CreateUser(ctx, "social", "social@example.com", "")

	tests := []struct {
		name string
		body map[string]string
	}{
		{"wrong password", map[string]string{"username": "carol", "password": "nope-nope-nope"}},
		{"unknown user", map[string]string{"username": "nobody", "password": testPassword}},
		{"inactive user", map[string]string{"username": "dave", "password": testPassword}},
		{"no usable password", map[string]string{"username": "social", "password": testPassword}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := hs.post("/login/", tt.body)
			rec.AssertStatus(t, http.StatusBadRequest)
			rec.AssertContains(t, "non_field_errors")
		})
	}

	rec := hs.post("/login/", map[string]string{"username": "carol", "password": "nope-nope-nope"})
	rec.AssertContains(t, "Unable to log in with provided credentials.")
}

func TestLogin_MissingFields(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/login/", map[string]string{"password": testPassword})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `Must include either \"username\" or \"email\" and \"password\".`)
}

func TestLogin_NonStringField(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/login/", map[string]any{"username": "alice", "password": 12345678})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"password":["Not a valid string."]`)
}

func TestLogin_EmailVerificationMandatory(t *testing.T) {
	hs := newHarness(t, func(o *authapi.Options) { o.EmailVerification = authflow.VerifyMandatory }, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUserWith(ctx, "erin", "erin@example.com", testPassword, testutil.UserOpts{Unverified: true})

	rec := hs.post("/login/", map[string]string{"username": "erin", "password": testPassword})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "E-mail is not verified.")
}

func TestLogin_EmailVerificationOptional(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUserWith(ctx, "fay", "fay@example.com", testPassword, testutil.UserOpts{Unverified: true})

	rec := hs.post("/login/", map[string]string{"username": "fay", "password": testPassword})
	rec.AssertStatus(t, http.StatusOK)
}

func TestLogin_UsernameOnlyMode(t *testing.T) {
	hs := newHarness(t, func(o *authapi.Options) { o.LoginMethod = userstore.LoginUsername }, 0)

	rec := hs.post("/login/", map[string]string{"email": "x@example.com", "password": testPassword})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `Must include \"username\" and \"password\".`)
}

func TestLogin_RateLimitedByIP(t *testing.T) {
	hs := newHarness(t, nil, 2)

	for i := 0; i < 2; i++ {
		rec := hs.post("/login/", map[string]string{"username": "ghost", "password": "whatever-123"})
		rec.AssertStatus(t, http.StatusBadRequest)
	}
	rec := hs.post("/login/", map[string]string{"username": "ghost", "password": "whatever-123"})
	rec.AssertStatus(t, http.StatusTooManyRequests)
	rec.AssertContains(t, ratelimit.MsgTooManyFromIP)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Logout                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

func TestLogout_BlacklistsRefresh(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUser(ctx, "hank", "hank@example.com", testPassword)
	body := hs.login(t, "hank")
	refresh := body["refresh"].(string)

	rec := hs.post("/logout/", map[string]string{"refresh": refresh})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "Successfully logged out.")

	expired := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "test-session" && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Error("expected session cookie to be expired")
	}

	rec = hs.post("/token/refresh/", map[string]string{"refresh": refresh})
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "token_not_valid")
}

func TestLogout_InvalidRefresh(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/logout/", map[string]string{"refresh": "garbage"})
	rec.AssertStatus(t, http.StatusUnauthorized)
}

func TestLogout_WithoutBody(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/logout/", nil)
	rec.AssertStatus(t, http.StatusOK)
}

func TestLogout_GetDisallowed(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.do(testutil.NewRequest(http.MethodGet, "/logout/"))
	rec.AssertStatus(t, http.StatusMethodNotAllowed)
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow: got %q", rec.Header().Get("Allow"))
	}
}

func TestLogout_GetAllowed(t *testing.T) {
	hs := newHarness(t, func(o *authapi.Options) { o.LogoutOnGet = true }, 0)

	rec := hs.do(testutil.NewRequest(http.MethodGet, "/logout/"))
	rec.AssertStatus(t, http.StatusOK)
}

/*─────────────────────────────────────────────────────────────────────────────*
| User details                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

func TestUser_RequiresAuth(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.do(testutil.NewRequest(http.MethodGet, "/user/"))
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "Authentication credentials were not provided.")
}

func TestUser_GetWithBearer(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "ivy", "ivy@example.com", testPassword)
	access := hs.login(t, "ivy")["access"].(string)

	rec := hs.do(bearer(testutil.NewRequest(http.MethodGet, "/user/"), access))
	rec.AssertStatus(t, http.StatusOK)
	body := rec.DecodeJSON(t)
	if body["pk"] != u.ID.Hex() || body["username"] != "ivy" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestUser_GetWithBadBearer(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.do(bearer(testutil.NewRequest(http.MethodGet, "/user/"), "not.a.jwt"))
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "token_not_valid")
}

func TestUser_PatchSanitizesNames(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "jack", "jack@example.com", testPassword)

	req := testutil.NewJSONRequest(http.MethodPatch, "/user/", map[string]string{
		"first_name": "<b>Jack</b><script>alert(1)</script>",
		"email":      "changed@example.com",
	})
	rec := hs.do(testutil.WithUser(req, testutil.FromModel(u)))
	rec.AssertStatus(t, http.StatusOK)

	body := rec.DecodeJSON(t)
	if body["first_name"] != "Jack" {
		t.Errorf("first_name: got %v", body["first_name"])
	}
	if body["email"] != "jack@example.com" {
		t.Errorf("email must be read-only, got %v", body["email"])
	}
	if body["username"] != "jack" {
		t.Errorf("username should be unchanged, got %v", body["username"])
	}
}

func TestUser_PutRequiresUsername(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "kate", "kate@example.com", testPassword)

	req := testutil.NewJSONRequest(http.MethodPut, "/user/", map[string]string{"first_name": "Kate"})
	rec := hs.do(testutil.WithUser(req, testutil.FromModel(u)))
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "username")
}

func TestUser_DuplicateUsername(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUser(ctx, "leo", "leo@example.com", testPassword)
	u := hs.fixtures.CreateUser(ctx, "mia", "mia@example.com", testPassword)

	req := testutil.NewJSONRequest(http.MethodPut, "/user/", map[string]string{"username": "LEO"})
	rec := hs.do(testutil.WithUser(req, testutil.FromModel(u)))
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "A user with that username already exists.")
}

/*─────────────────────────────────────────────────────────────────────────────*
| Password change / reset                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

func TestPasswordChange(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "nina", "nina@example.com", testPassword)
	const newPassword = "another-Long-phrase-42"

	req := testutil.NewJSONRequest(http.MethodPost, "/password/change/", map[string]string{
		"old_password":  "wrong-old-password",
		"new_password1": newPassword,
		"new_password2": newPassword,
	})
	rec := hs.do(testutil.WithUser(req, testutil.FromModel(u)))
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "old_password")

	req = testutil.NewJSONRequest(http.MethodPost, "/password/change/", map[string]string{
		"old_password":  testPassword,
		"new_password1": newPassword,
		"new_password2": "different-Long-phrase-42",
	})
	rec = hs.do(testutil.WithUser(req, testutil.FromModel(u)))
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "new_password2")

	req = testutil.NewJSONRequest(http.MethodPost, "/password/change/", map[string]string{
		"old_password":  testPassword,
		"new_password1": newPassword,
		"new_password2": newPassword,
	})
	rec = hs.do(testutil.WithUser(req, testutil.FromModel(u)))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "New password has been saved.")

	rec = hs.post("/login/", map[string]string{"username": "nina", "password": newPassword})
	rec.AssertStatus(t, http.StatusOK)
}

func TestPasswordReset_UnknownEmail(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/password/reset/", map[string]string{"email": "nobody@example.com"})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "Password reset e-mail has been sent.")
	if _, ok := hs.mail.last(); ok {
		t.Error("no email should be sent for unknown address")
	}
}

func TestPasswordReset_InvalidEmail(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/password/reset/", map[string]string{"email": "not-an-email"})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "email")
}

func TestPasswordReset_FullFlow(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "olga", "olga@example.com", testPassword)
	const newPassword = "reset-Long-phrase-77"

	rec := hs.post("/password/reset/", map[string]string{"email": "OLGA@example.com"})
	rec.AssertStatus(t, http.StatusOK)

	msg, ok := hs.mail.last()
	if !ok {
		t.Fatal("expected reset email")
	}
	if msg.To != "olga@example.com" {
		t.Errorf("To: got %q", msg.To)
	}
	uid, token := parseResetLink(t, msg.TextBody)
	if uid != u.ID.Hex() {
		t.Errorf("uid: got %q, want %q", uid, u.ID.Hex())
	}

	// A weak password is rejected without using up the token.
	rec = hs.post("/password/reset/confirm/", map[string]string{
		"uid": uid, "token": token, "new_password1": "12345678", "new_password2": "12345678",
	})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "new_password2")

	rec = hs.post("/password/reset/confirm/", map[string]string{
		"uid": uid, "token": token, "new_password1": newPassword, "new_password2": newPassword,
	})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "Password has been reset with the new password.")

	rec = hs.post("/password/reset/confirm/", map[string]string{
		"uid": uid, "token": token, "new_password1": newPassword, "new_password2": newPassword,
	})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"token":["Invalid value"]`)

	rec = hs.post("/login/", map[string]string{"username": "olga", "password": newPassword})
	rec.AssertStatus(t, http.StatusOK)
}

func TestPasswordResetConfirm_BadUID(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/password/reset/confirm/", map[string]string{
		"uid": "zzz", "token": "abc", "new_password1": "x-Long-phrase-1", "new_password2": "x-Long-phrase-1",
	})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"uid":["Invalid value"]`)
}

func TestPasswordResetConfirm_MissingFields(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/password/reset/confirm/", map[string]string{})
	rec.AssertStatus(t, http.StatusBadRequest)
	body := rec.DecodeJSON(t)
	for _, f := range []string{"uid", "token", "new_password1", "new_password2"} {
		if _, ok := body[f]; !ok {
			t.Errorf("expected error for %s", f)
		}
	}
}

func parseResetLink(t *testing.T, text string) (uid, token string) {
	t.Helper()
	const prefix = "http://frontend.test/reset/"
	i := strings.Index(text, prefix)
	if i < 0 {
		t.Fatalf("reset link not found in %q", text)
	}
	rest := text[i+len(prefix):]
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		t.Fatalf("malformed reset link in %q", text)
	}
	return parts[0], parts[1]
}

/*─────────────────────────────────────────────────────────────────────────────*
| Tokens                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

func TestTokenVerify(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	hs.fixtures.CreateUser(ctx, "pete", "pete@example.com", testPassword)
	body := hs.login(t, "pete")

	for _, k := range []string{"access", "refresh"} {
		rec := hs.post("/token/verify/", map[string]string{"token": body[k].(string)})
		rec.AssertStatus(t, http.StatusOK)
		if strings.TrimSpace(rec.Body.String()) != "{}" {
			t.Errorf("%s: expected empty object, got %s", k, rec.Body.String())
		}
	}

	rec := hs.post("/token/verify/", map[string]string{"token": "garbage"})
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "Token is invalid or expired")
	rec.AssertContains(t, "token_not_valid")
}

func TestTokenRefresh(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "quinn", "quinn@example.com", testPassword)
	body := hs.login(t, "quinn")

	rec := hs.post("/token/refresh/", map[string]string{"refresh": body["refresh"].(string)})
	rec.AssertStatus(t, http.StatusOK)
	out := rec.DecodeJSON(t)
	access, _ := out["access"].(string)
	if access == "" || out["access_expiration"] == nil {
		t.Fatalf("unexpected refresh body: %v", out)
	}
	if _, ok := out["refresh"]; ok {
		t.Error("refresh token should not be rotated")
	}

	// The new access token works for /user/.
	rec = hs.do(bearer(testutil.NewRequest(http.MethodGet, "/user/"), access))
	rec.AssertStatus(t, http.StatusOK)

	// Access tokens cannot be used as refresh tokens.
	rec = hs.post("/token/refresh/", map[string]string{"refresh": body["access"].(string)})
	rec.AssertStatus(t, http.StatusUnauthorized)

	// Disabled users cannot refresh.
	_, err := hs.fixtures.DB().Collection("users").UpdateOne(ctx,
		map[string]any{"_id": u.ID},
		map[string]any{"$set": map[string]any{"is_active": false}})
	if err != nil {
		t.Fatalf("disable user failed: %v", err)
	}
	rec = hs.post("/token/refresh/", map[string]string{"refresh": body["refresh"].(string)})
	rec.AssertStatus(t, http.StatusUnauthorized)
}

func expiredAccess(t *testing.T, userID string) string {
	t.Helper()
	tm, err := tokens.NewManager(tokens.Config{
		SigningKey: "test-signing-key-with-at-least-32-chars",
		Issuer:     "userauth-test",
	}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	tm.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	pair, err := tm.Issue(userID)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return pair.Access
}

func TestTokenEndpoints_IgnoreStaleBearerHeader(t *testing.T) {
	hs := newHarness(t, nil, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u := hs.fixtures.CreateUser(ctx, "rory", "rory@example.com", testPassword)
	body := hs.login(t, "rory")
	stale := expiredAccess(t, u.ID.Hex())

	req := testutil.NewJSONRequest(http.MethodPost, "/token/refresh/", map[string]string{"refresh": body["refresh"].(string)})
	rec := hs.do(bearer(req, stale))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"access"`)

	req = testutil.NewJSONRequest(http.MethodPost, "/token/verify/", map[string]string{"token": body["refresh"].(string)})
	rec = hs.do(bearer(req, stale))
	rec.AssertStatus(t, http.StatusOK)

	req = testutil.NewJSONRequest(http.MethodPost, "/login/", map[string]string{"username": "rory", "password": testPassword})
	rec = hs.do(bearer(req, "not.a.jwt"))
	rec.AssertStatus(t, http.StatusOK)

	// Protected endpoints still reject the stale token.
	rec = hs.do(bearer(testutil.NewRequest(http.MethodGet, "/user/"), stale))
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "token_not_valid")
}

func TestTokenRefresh_MissingField(t *testing.T) {
	hs := newHarness(t, nil, 0)

	rec := hs.post("/token/refresh/", map[string]string{})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "refresh")
}
