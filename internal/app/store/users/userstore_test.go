package userstore_test

import (
	"errors"
	"testing"
	"time"

	userstore "github.com/dalemusser/userauth/internal/app/store/users"
	"github.com/dalemusser/userauth/internal/domain/models"
	"github.com/dalemusser/userauth/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func newStore(t *testing.T) (*userstore.Store, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	return store, db
}

func TestStore_Create(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.User{
		Username:  "  Alice ",
		Email:     " Alice@Example.COM ",
		FirstName: "  Alice   Anne ",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.Username != "Alice" {
		t.Errorf("Username: got %q", created.Username)
	}
	if created.UsernameCI != "alice" {
		t.Errorf("UsernameCI: got %q", created.UsernameCI)
	}
	if created.Email != "alice@example.com" {
		t.Errorf("Email: got %q", created.Email)
	}
	if created.FirstName != "Alice Anne" {
		t.Errorf("FirstName: got %q", created.FirstName)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestStore_Create_RequiresUsername(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, models.User{Username: "   "}); err == nil {
		t.Fatal("expected error for blank username")
	}
}

func TestStore_Create_DuplicateUsername(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, models.User{Username: "bob", Email: "bob@example.com"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := store.Create(ctx, models.User{Username: "BOB", Email: "other@example.com"})
	if !errors.Is(err, userstore.ErrDuplicateUsername) {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestStore_Create_DuplicateEmail(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, models.User{Username: "one", Email: "dup@example.com"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := store.Create(ctx, models.User{Username: "two", Email: "DUP@example.com"})
	if !errors.Is(err, userstore.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestStore_Create_EmptyEmailsDoNotCollide(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, name := range []string{"noemail1", "noemail2"} {
		if _, err := store.Create(ctx, models.User{Username: name}); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.GetByID(ctx, primitive.NewObjectID())
	if !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetByLogin(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, err := store.Create(ctx, models.User{Username: "carol", Email: "carol@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tests := []struct {
		name     string
		method   string
		username string
		email    string
		wantErr  bool
	}{
		{"username", userstore.LoginUsernameEmail, "Carol", "", false},
		{"email field", userstore.LoginUsernameEmail, "", "CAROL@example.com", false},
		{"email typed as username", userstore.LoginUsernameEmail, "carol@example.com", "", false},
		{"username only mode", userstore.LoginUsername, "carol", "", false},
		{"username only mode ignores email", userstore.LoginUsername, "", "carol@example.com", true},
		{"email only mode", userstore.LoginEmail, "", "carol@example.com", false},
		{"email only mode ignores username", userstore.LoginEmail, "carol", "", true},
		{"unknown", userstore.LoginUsernameEmail, "dave", "", true},
		{"nothing", userstore.LoginUsernameEmail, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetByLogin(ctx, tt.method, tt.username, tt.email)
			if tt.wantErr {
				if !errors.Is(err, userstore.ErrNotFound) {
					t.Errorf("expected ErrNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetByLogin failed: %v", err)
			}
			if got.ID != u.ID {
				t.Errorf("got user %s, want %s", got.ID.Hex(), u.ID.Hex())
			}
		})
	}
}

func TestStore_UpdateProfile(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, _ := store.Create(ctx, models.User{Username: "erin", Email: "erin@example.com"})
	other, _ := store.Create(ctx, models.User{Username: "frank", Email: "frank@example.com"})

	updated, err := store.UpdateProfile(ctx, u.ID, userstore.ProfileUpdate{Username: "Erin2", FirstName: "Erin", LastName: " Smith "})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.Username != "Erin2" || updated.UsernameCI != "erin2" || updated.LastName != "Smith" {
		t.Errorf("unexpected profile: %+v", updated)
	}
	if updated.Email != "erin@example.com" {
		t.Errorf("email should be unchanged, got %q", updated.Email)
	}

	_, err = store.UpdateProfile(ctx, other.ID, userstore.ProfileUpdate{Username: "ERIN2"})
	if !errors.Is(err, userstore.ErrDuplicateUsername) {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}

	_, err = store.UpdateProfile(ctx, primitive.NewObjectID(), userstore.ProfileUpdate{Username: "ghost"})
	if !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SetPasswordAndVerify(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, _ := store.Create(ctx, models.User{Username: "gina", Email: "gina@example.com"})

	if err := store.SetPassword(ctx, u.ID, "hash"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if err := store.MarkEmailVerified(ctx, u.ID, "other@example.com"); !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("verify with stale email: expected ErrNotFound, got %v", err)
	}
	if err := store.MarkEmailVerified(ctx, u.ID, "GINA@example.com"); err != nil {
		t.Fatalf("MarkEmailVerified failed: %v", err)
	}
	now := time.Now()
	if err := store.TouchLastLogin(ctx, u.ID, now); err != nil {
		t.Fatalf("TouchLastLogin failed: %v", err)
	}

	got, err := store.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.PasswordHash != "hash" || !got.EmailVerified || got.LastLogin == nil {
		t.Errorf("unexpected user: %+v", got)
	}

	if err := store.SetPassword(ctx, primitive.NewObjectID(), "x"); !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_LinkGoogle(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, _ := store.Create(ctx, models.User{Username: "gus", Email: "gus@example.com"})
	other, _ := store.Create(ctx, models.User{Username: "ivy", Email: "ivy@example.com"})

	if _, err := store.GetByGoogleID(ctx, "g-100"); !errors.Is(err, userstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before linking, got %v", err)
	}
	if err := store.LinkGoogle(ctx, u.ID, "g-100"); err != nil {
		t.Fatalf("LinkGoogle failed: %v", err)
	}

	got, err := store.GetByGoogleID(ctx, "g-100")
	if err != nil {
		t.Fatalf("GetByGoogleID failed: %v", err)
	}
	if got.ID != u.ID || !got.EmailVerified {
		t.Errorf("unexpected user: %+v", got)
	}

	// Already linked accounts keep their subject.
	if err := store.LinkGoogle(ctx, u.ID, "g-200"); !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("relink: expected ErrNotFound, got %v", err)
	}
	if err := store.LinkGoogle(ctx, other.ID, "g-100"); !errors.Is(err, userstore.ErrDuplicateGoogleID) {
		t.Errorf("expected ErrDuplicateGoogleID, got %v", err)
	}
	if _, err := store.GetByGoogleID(ctx, ""); !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("empty id: expected ErrNotFound, got %v", err)
	}
}

func TestStore_Exists(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, _ = store.Create(ctx, models.User{Username: "hank", Email: "hank@example.com"})

	if ok, err := store.UsernameExists(ctx, "HANK"); err != nil || !ok {
		t.Errorf("UsernameExists: ok=%v err=%v", ok, err)
	}
	if ok, err := store.EmailExists(ctx, "nobody@example.com"); err != nil || ok {
		t.Errorf("EmailExists: ok=%v err=%v", ok, err)
	}
}

func TestFetcher_FetchUser(t *testing.T) {
	store, db := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	active, _ := store.Create(ctx, models.User{Username: "ivy", Email: "ivy@example.com", IsActive: true})
	inactive, _ := store.Create(ctx, models.User{Username: "jack", IsActive: false})

	f := userstore.NewFetcher(db)

	su := f.FetchUser(ctx, active.ID.Hex())
	if su == nil {
		t.Fatal("expected active user")
	}
	if su.Username != "ivy" || su.Email != "ivy@example.com" {
		t.Errorf("unexpected session user: %+v", su)
	}
	if f.FetchUser(ctx, inactive.ID.Hex()) != nil {
		t.Error("inactive user should not load")
	}
	if f.FetchUser(ctx, "not-hex") != nil {
		t.Error("invalid id should not load")
	}
	if f.FetchUser(ctx, primitive.NewObjectID().Hex()) != nil {
		t.Error("unknown id should not load")
	}
}
