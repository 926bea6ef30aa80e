// Package tokens issues and validates the JWT access/refresh pairs handed
// out at login.
//
// Access tokens are short-lived and never stored. Refresh tokens carry a
// jti; logging out records that jti in a Revocations store so the refresh
// token cannot mint new access tokens for the rest of its lifetime.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Defaults used when Config leaves a lifetime unset.
const (
	DefaultAccessLifetime  = 5 * time.Minute
	DefaultRefreshLifetime = 24 * time.Hour
	MinSigningKeyLength    = 32
)

var (
	// ErrInvalidToken covers bad signatures, malformed tokens and expired tokens.
	ErrInvalidToken = errors.New("token is invalid or expired")
	// ErrWrongType is returned when an access token is used where a refresh token is required, or vice versa.
	ErrWrongType = errors.New("token has wrong type")
	// ErrRevoked is returned for a refresh token that was blacklisted at logout.
	ErrRevoked = errors.New("token is blacklisted")
)

// Revocations records refresh-token ids that must no longer be accepted.
// Entries only need to live until the token would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Claims is the JWT payload.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair is what a successful login returns.
type Pair struct {
	Access            string
	Refresh           string
	AccessExpiration  time.Time
	RefreshExpiration time.Time
}

// Config configures a Manager.
type Config struct {
	SigningKey      string
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
}

// Manager signs and checks tokens with HS256.
type Manager struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoked    Revocations
	now        func() time.Time
}

// NewManager validates cfg and returns a Manager. revoked may be nil, in
// which case logout cannot blacklist refresh tokens.
func NewManager(cfg Config, revoked Revocations) (*Manager, error) {
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("jwt signing key must be at least %d characters", MinSigningKeyLength)
	}
	m := &Manager{
		key:        []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessLifetime,
		refreshTTL: cfg.RefreshLifetime,
		revoked:    revoked,
		now:        time.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = DefaultAccessLifetime
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshLifetime
	}
	return m, nil
}

// SetClock replaces the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// AccessLifetime returns the configured access token lifetime.
func (m *Manager) AccessLifetime() time.Duration { return m.accessTTL }

// RefreshLifetime returns the configured refresh token lifetime.
func (m *Manager) RefreshLifetime() time.Duration { return m.refreshTTL }

// Issue creates a fresh access/refresh pair for userID.
func (m *Manager) Issue(userID string) (Pair, error) {
	now := m.now()

	access, accessExp, err := m.sign(userID, TypeAccess, now, m.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := m.sign(userID, TypeRefresh, now, m.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		Access:            access,
		Refresh:           refresh,
		AccessExpiration:  accessExp,
		RefreshExpiration: refreshExp,
	}, nil
}

// Parse validates signature, issuer and expiry and returns the claims.
// If want is non-empty the token_type must match it.
func (m *Manager) Parse(token, want string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if want != "" && claims.TokenType != want {
		return nil, ErrWrongType
	}
	return claims, nil
}

// Verify checks any token. Refresh tokens are also checked against the
// blacklist.
func (m *Manager) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := m.Parse(token, "")
	if err != nil {
		return nil, err
	}
	if claims.TokenType == TypeRefresh {
		if err := m.checkRevoked(ctx, claims.ID); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated.
func (m *Manager) Refresh(ctx context.Context, refresh string) (string, time.Time, *Claims, error) {
	claims, err := m.Parse(refresh, TypeRefresh)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if err := m.checkRevoked(ctx, claims.ID); err != nil {
		return "", time.Time{}, nil, err
	}
	access, exp, err := m.sign(claims.Subject, TypeAccess, m.now(), m.accessTTL)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return access, exp, claims, nil
}

// Revoke blacklists a refresh token until it expires.
func (m *Manager) Revoke(ctx context.Context, refresh string) error {
	claims, err := m.Parse(refresh, TypeRefresh)
	if err != nil {
		return err
	}
	if m.revoked == nil {
		return nil
	}
	return m.revoked.Revoke(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time)
}

func (m *Manager) checkRevoked(ctx context.Context, jti string) error {
	if m.revoked == nil {
		return nil
	}
	revoked, err := m.revoked.IsRevoked(ctx, jti)
	if err != nil {
		return fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return ErrRevoked
	}
	return nil
}

func (m *Manager) sign(userID, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, exp, nil
}
