package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arcten/shellgate/internal/auth"
	"github.com/arcten/shellgate/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
	t.Cleanup(func() { database.DB = nil })
}

func TestRequireAuth(t *testing.T) {
	setupTestDB(t)

	user := &database.User{Username: "alice", PasswordHash: "x", OrganizationID: 5}
	if err := database.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	store := auth.NewSessionStore()
	token, err := store.Create(user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var seen *database.User
	handler := RequireAuth(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r)
	}))

	// No cookie.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status = %d, want 401", rec.Code)
	}

	// Bogus cookie.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "forged"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged cookie: status = %d, want 401", rec.Code)
	}

	// Valid cookie.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid cookie: status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.Username != "alice" {
		t.Fatalf("handler saw user %+v, want alice", seen)
	}
}

func TestCallerIdentity(t *testing.T) {
	user := &database.User{Username: "alice", OrganizationID: 5}
	user.ID = 3

	req := WithUserForTest(httptest.NewRequest("GET", "/", nil), user)
	id, ok := CallerIdentity(req)
	if !ok {
		t.Fatal("identity not resolved")
	}
	if id.UserID != 3 || id.OrgID != 5 {
		t.Fatalf("identity = %+v, want user 3 org 5", id)
	}

	if _, ok := CallerIdentity(httptest.NewRequest("GET", "/", nil)); ok {
		t.Fatal("identity resolved for anonymous request")
	}
}
