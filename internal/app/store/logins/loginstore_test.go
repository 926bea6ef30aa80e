package loginstore_test

import (
	"net/http/httptest"
	"testing"
	"time"

	loginstore "github.com/dalemusser/userauth/internal/app/store/logins"
	"github.com/dalemusser/userauth/internal/domain/models"
	"github.com/dalemusser/userauth/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	rec := models.LoginRecord{
		UserID:   userID,
		IP:       "192.168.1.1",
		Provider: models.ProviderPassword,
	}

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var found models.LoginRecord
	err := db.Collection("login_records").FindOne(ctx, bson.M{"user_id": userID}).Decode(&found)
	if err != nil {
		t.Fatalf("failed to find login record: %v", err)
	}

	if found.UserID != userID {
		t.Errorf("UserID: got %v, want %v", found.UserID, userID)
	}
	if found.IP != "192.168.1.1" {
		t.Errorf("IP: got %q, want %q", found.IP, "192.168.1.1")
	}
	if found.Provider != models.ProviderPassword {
		t.Errorf("Provider: got %q", found.Provider)
	}
	// CreatedAt should be set automatically
	if found.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestStore_Create_WithExplicitTimestamp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	customTime := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	err := store.Create(ctx, models.LoginRecord{
		UserID:    userID,
		CreatedAt: customTime,
		IP:        "10.0.0.1",
		Provider:  models.ProviderGoogle,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var found models.LoginRecord
	if err := db.Collection("login_records").FindOne(ctx, bson.M{"user_id": userID}).Decode(&found); err != nil {
		t.Fatalf("failed to find login record: %v", err)
	}
	if !found.CreatedAt.Equal(customTime) {
		t.Errorf("CreatedAt: got %v, want %v", found.CreatedAt, customTime)
	}
}

func TestStore_CreateFrom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	req := httptest.NewRequest("POST", "/login/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	req.Header.Set("User-Agent", "test-agent")
	userID := primitive.NewObjectID()

	if err := store.CreateFrom(ctx, req, userID, models.ProviderPassword); err != nil {
		t.Fatalf("CreateFrom failed: %v", err)
	}

	var found models.LoginRecord
	if err := db.Collection("login_records").FindOne(ctx, bson.M{"user_id": userID}).Decode(&found); err != nil {
		t.Fatalf("failed to find login record: %v", err)
	}
	if found.IP != "198.51.100.4" || found.UserAgent != "test-agent" {
		t.Errorf("unexpected record: %+v", found)
	}
}

func TestStore_EnsureIndexes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("second EnsureIndexes failed: %v", err)
	}
}
