package tokens_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/userauth/internal/app/system/tokens"
)

const testKey = "0123456789abcdef0123456789abcdef"

type memRevocations struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func newMemRevocations() *memRevocations {
	return &memRevocations{ids: make(map[string]time.Time)}
}

func (m *memRevocations) Revoke(_ context.Context, jti, _ string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[jti] = exp
	return nil
}

func (m *memRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[jti]
	return ok, nil
}

func newManager(t *testing.T, rev tokens.Revocations) *tokens.Manager {
	t.Helper()
	m, err := tokens.NewManager(tokens.Config{SigningKey: testKey, Issuer: "userauth"}, rev)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_RejectsShortKey(t *testing.T) {
	if _, err := tokens.NewManager(tokens.Config{SigningKey: "short"}, nil); err == nil {
		t.Fatal("expected error for short signing key")
	}
}

func TestNewManager_DefaultLifetimes(t *testing.T) {
	m := newManager(t, nil)
	if m.AccessLifetime() != tokens.DefaultAccessLifetime {
		t.Errorf("access lifetime: got %v", m.AccessLifetime())
	}
	if m.RefreshLifetime() != tokens.DefaultRefreshLifetime {
		t.Errorf("refresh lifetime: got %v", m.RefreshLifetime())
	}
}

func TestIssue_ParseRoundTrip(t *testing.T) {
	m := newManager(t, nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	pair, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.Access == pair.Refresh {
		t.Fatal("access and refresh tokens should differ")
	}
	if !pair.AccessExpiration.Equal(now.Add(tokens.DefaultAccessLifetime)) {
		t.Errorf("access expiration: got %v", pair.AccessExpiration)
	}
	if !pair.RefreshExpiration.Equal(now.Add(tokens.DefaultRefreshLifetime)) {
		t.Errorf("refresh expiration: got %v", pair.RefreshExpiration)
	}

	claims, err := m.Parse(pair.Access, tokens.TypeAccess)
	if err != nil {
		t.Fatalf("Parse access: %v", err)
	}
	if claims.Subject != "user-1" || claims.Issuer != "userauth" {
		t.Errorf("claims: sub=%q iss=%q", claims.Subject, claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("expected jti")
	}
}

func TestParse_WrongType(t *testing.T) {
	m := newManager(t, nil)
	pair, _ := m.Issue("u")

	if _, err := m.Parse(pair.Access, tokens.TypeRefresh); !errors.Is(err, tokens.ErrWrongType) {
		t.Errorf("access as refresh: got %v", err)
	}
	if _, err := m.Parse(pair.Refresh, tokens.TypeAccess); !errors.Is(err, tokens.ErrWrongType) {
		t.Errorf("refresh as access: got %v", err)
	}
}

func TestParse_Expired(t *testing.T) {
	m := newManager(t, nil)
	start := time.Now()
	m.SetClock(func() time.Time { return start })
	pair, _ := m.Issue("u")

	m.SetClock(func() time.Time { return start.Add(tokens.DefaultAccessLifetime + time.Minute) })
	if _, err := m.Parse(pair.Access, tokens.TypeAccess); !errors.Is(err, tokens.ErrInvalidToken) {
		t.Errorf("expired access: got %v", err)
	}
	if _, err := m.Parse(pair.Refresh, tokens.TypeRefresh); err != nil {
		t.Errorf("refresh should still be valid: %v", err)
	}
}

func TestParse_TamperedAndForeign(t *testing.T) {
	m := newManager(t, nil)
	pair, _ := m.Issue("u")

	parts := strings.Split(pair.Access, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := m.Parse(tampered, ""); !errors.Is(err, tokens.ErrInvalidToken) {
		t.Errorf("tampered: got %v", err)
	}

	other, err := tokens.NewManager(tokens.Config{SigningKey: strings.Repeat("z", 40), Issuer: "userauth"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := other.Issue("u")
	if _, err := m.Parse(foreign.Access, ""); !errors.Is(err, tokens.ErrInvalidToken) {
		t.Errorf("foreign key: got %v", err)
	}

	if _, err := m.Parse("not-a-token", ""); !errors.Is(err, tokens.ErrInvalidToken) {
		t.Errorf("garbage: got %v", err)
	}
}

func TestParse_WrongIssuer(t *testing.T) {
	m := newManager(t, nil)
	other, _ := tokens.NewManager(tokens.Config{SigningKey: testKey, Issuer: "someone-else"}, nil)
	pair, _ := other.Issue("u")
	if _, err := m.Parse(pair.Access, ""); !errors.Is(err, tokens.ErrInvalidToken) {
		t.Errorf("wrong issuer: got %v", err)
	}
}

func TestRefresh_IssuesNewAccess(t *testing.T) {
	m := newManager(t, newMemRevocations())
	pair, _ := m.Issue("user-9")

	access, exp, claims, err := m.Refresh(context.Background(), pair.Refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if access == "" || exp.IsZero() {
		t.Fatal("expected access token and expiration")
	}
	if claims.Subject != "user-9" {
		t.Errorf("subject: got %q", claims.Subject)
	}
	ac, err := m.Parse(access, tokens.TypeAccess)
	if err != nil {
		t.Fatalf("Parse refreshed access: %v", err)
	}
	if ac.Subject != "user-9" {
		t.Errorf("refreshed subject: got %q", ac.Subject)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	m := newManager(t, nil)
	pair, _ := m.Issue("u")
	if _, _, _, err := m.Refresh(context.Background(), pair.Access); !errors.Is(err, tokens.ErrWrongType) {
		t.Errorf("got %v, want ErrWrongType", err)
	}
}

func TestRevoke_BlacklistsRefresh(t *testing.T) {
	rev := newMemRevocations()
	m := newManager(t, rev)
	ctx := context.Background()
	pair, _ := m.Issue("u")

	if err := m.Revoke(ctx, pair.Refresh); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, _, err := m.Refresh(ctx, pair.Refresh); !errors.Is(err, tokens.ErrRevoked) {
		t.Errorf("Refresh after revoke: got %v", err)
	}
	if _, err := m.Verify(ctx, pair.Refresh); !errors.Is(err, tokens.ErrRevoked) {
		t.Errorf("Verify after revoke: got %v", err)
	}
	// Access tokens are not tracked and stay valid until they expire.
	if _, err := m.Verify(ctx, pair.Access); err != nil {
		t.Errorf("Verify access after revoke: %v", err)
	}
}

func TestRevoke_RejectsAccessToken(t *testing.T) {
	m := newManager(t, newMemRevocations())
	pair, _ := m.Issue("u")
	if err := m.Revoke(context.Background(), pair.Access); !errors.Is(err, tokens.ErrWrongType) {
		t.Errorf("got %v, want ErrWrongType", err)
	}
}

func TestRevoke_NilStoreIsNoop(t *testing.T) {
	m := newManager(t, nil)
	pair, _ := m.Issue("u")
	if err := m.Revoke(context.Background(), pair.Refresh); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, _, err := m.Refresh(context.Background(), pair.Refresh); err != nil {
		t.Errorf("Refresh: %v", err)
	}
}
