// internal/app/features/registration/google.go
package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/app/system/authflow"
	"github.com/dalemusser/userauth/internal/app/system/metrics"
	"github.com/dalemusser/userauth/internal/app/system/respond"
	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/dalemusser/userauth/internal/domain/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	msgSocialInput    = "Incorrect input. access_token or code is required."
	msgSocialExchange = "Failed to exchange code for access token."
	msgSocialProfile  = "Failed to load the Google account profile."
	msgSocialNoEmail  = "The Google account has no e-mail address."
	msgSocialDisabled = "User account is disabled."

	maxGeneratedUsername = 30
)

// googleUserInfo represents user info returned from Google.
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// GoogleConfigured reports whether client credentials are set.
func (h *Handler) GoogleConfigured() bool {
	return h.Opts.GoogleClientID != "" && h.Opts.GoogleClientSecret != ""
}

func (h *Handler) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.Opts.GoogleClientID,
		ClientSecret: h.Opts.GoogleClientSecret,
		RedirectURL:  h.Opts.GoogleRedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: h.GoogleEndpoint,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /registration/google/                                                   |
| Accepts an authorization code or an access token obtained by the client,     |
| loads the Google profile and signs the matching account in, creating it on   |
| first use.                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	if !h.GoogleConfigured() {
		respond.Detail(w, http.StatusNotFound, msgNotFound)
		return
	}

	in := map[string]string{}
	if err := respond.Decode(r, in); err != nil {
		respond.DecodeError(w, err)
		return
	}
	code := strings.TrimSpace(in["code"])
	accessToken := strings.TrimSpace(in["access_token"])
	if code == "" && accessToken == "" {
		respond.NonField(w, msgSocialInput)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	var token *oauth2.Token
	if code != "" {
		t, err := h.oauth2Config().Exchange(ctx, code)
		if err != nil {
			h.Log.Warn("google code exchange failed", zap.Error(err))
			h.Metrics.RecordAuthEvent("social_login", metrics.OutcomeFailure)
			respond.NonField(w, msgSocialExchange)
			return
		}
		token = t
	} else {
		token = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	}

	info, err := h.fetchUserInfo(ctx, token)
	if err != nil {
		h.Log.Warn("google userinfo failed", zap.Error(err))
		h.Metrics.RecordAuthEvent("social_login", metrics.OutcomeFailure)
		respond.NonField(w, msgSocialProfile)
		return
	}
	if strings.TrimSpace(info.Email) == "" {
		respond.NonField(w, msgSocialNoEmail)
		return
	}

	u, created, err := h.findOrCreateSocialUser(ctx, info)
	if errors.Is(err, errSocialEmailTaken) {
		h.Log.Info("google login refused for registered email",
			zap.String("google_id", info.ID))
		h.Metrics.RecordAuthEvent("social_login", metrics.OutcomeFailure)
		respond.NonField(w, msgEmailTaken)
		return
	}
	if err != nil {
		h.serverError(w, "social login: resolve user", err)
		return
	}
	if !u.IsActive {
		h.Metrics.RecordAuthEvent("social_login", metrics.OutcomeFailure)
		respond.NonField(w, msgSocialDisabled)
		return
	}
	if h.Opts.EmailVerification == authflow.VerifyMandatory && !u.EmailVerified {
		h.Metrics.RecordAuthEvent("social_login", metrics.OutcomeFailure)
		respond.NonField(w, msgEmailNotVerified)
		return
	}

	if created {
		h.AuditLog.UserRegistered(ctx, r, u.ID, u.Username, models.ProviderGoogle)
		h.Metrics.RecordAuthEvent("register", metrics.OutcomeSuccess)
	}
	h.AuditLog.SocialLogin(ctx, r, u.ID, models.ProviderGoogle, created)
	h.Metrics.RecordAuthEvent("social_login", metrics.OutcomeSuccess)

	resp, err := h.Completer.Complete(w, r, u, models.ProviderGoogle, u.Email)
	if err != nil {
		h.serverError(w, "complete social login", err)
		return
	}
	h.Log.Info("google login",
		zap.String("user_id", u.ID.Hex()),
		zap.String("google_id", info.ID),
		zap.Bool("created", created))
	respond.JSON(w, http.StatusOK, resp)
}

// fetchUserInfo retrieves the profile from the userinfo endpoint.
func (h *Handler) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	resp, err := client.Get(h.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("user info has no subject id")
	}
	return &info, nil
}

// errSocialEmailTaken means the profile's address belongs to an account the
// Google identity may not take over.
var errSocialEmailTaken = errors.New("email registered to another account")

// findOrCreateSocialUser resolves the Google profile to an account. The
// Google subject is matched first. An existing account is linked by email
// only when Google has verified the address and the account either has no
// password or has confirmed the same address itself.
func (h *Handler) findOrCreateSocialUser(ctx context.Context, info *googleUserInfo) (*models.User, bool, error) {
	u, err := h.Users.GetByGoogleID(ctx, info.ID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, userstore.ErrNotFound) {
		return nil, false, err
	}

	u, err = h.Users.GetByEmail(ctx, info.Email)
	if err == nil {
		if !canLinkGoogle(u, info) {
			return nil, false, errSocialEmailTaken
		}
		if err := h.Users.LinkGoogle(ctx, u.ID, info.ID); err != nil {
			if errors.Is(err, userstore.ErrNotFound) {
				// Linked to a different subject in the meantime.
				return nil, false, errSocialEmailTaken
			}
			return nil, false, err
		}
		u.GoogleID = info.ID
		u.EmailVerified = true
		return u, false, nil
	}
	if !errors.Is(err, userstore.ErrNotFound) {
		return nil, false, err
	}

	username, err := h.uniqueUsername(ctx, info)
	if err != nil {
		return nil, false, err
	}
	created, err := h.Users.Create(ctx, models.User{
		Username:      username,
		Email:         info.Email,
		GoogleID:      info.ID,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
		EmailVerified: info.EmailVerified,
		IsActive:      true,
	})
	switch {
	case errors.Is(err, userstore.ErrDuplicateGoogleID):
		// Lost a race with a concurrent sign-in for the same Google account.
		u, err := h.Users.GetByGoogleID(ctx, info.ID)
		return u, false, err
	case errors.Is(err, userstore.ErrDuplicateEmail):
		return nil, false, errSocialEmailTaken
	case err != nil:
		return nil, false, err
	}
	return &created, true, nil
}

// canLinkGoogle reports whether an account found by email may be claimed by
// the Google identity.
func canLinkGoogle(u *models.User, info *googleUserInfo) bool {
	if u.GoogleID != "" || !info.EmailVerified {
		return false
	}
	return !u.HasUsablePassword() || u.EmailVerified
}

// uniqueUsername derives a free username from the email local part.
func (h *Handler) uniqueUsername(ctx context.Context, info *googleUserInfo) (string, error) {
	local, _, _ := strings.Cut(info.Email, "@")
	base := usernameBase(local)
	if base == "" {
		base = usernameBase(info.GivenName)
	}
	if base == "" {
		base = "user"
	}

	for i := 0; i < 10; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i+1)
		}
		taken, err := h.Users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return base + strings.ReplaceAll(uuid.NewString(), "-", "")[:8], nil
}

// usernameBase keeps the characters allowed in a username, lowercased and
// truncated.
func usernameBase(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(".+-_", r) {
			b.WriteRune(r)
		}
	}
	out := []rune(b.String())
	if len(out) > maxGeneratedUsername {
		out = out[:maxGeneratedUsername]
	}
	return string(out)
}
