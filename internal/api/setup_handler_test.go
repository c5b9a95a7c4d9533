package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"quitcoach/internal/db"
	"quitcoach/internal/user"
)

// setupUserDB points db.DB at a fresh, fully migrated in-memory database.
func setupUserDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.OpenTest()
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.DB = conn
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return conn
}

func seedUser(t *testing.T, username string, role user.Role) user.User {
	t.Helper()
	hash, err := user.HashPassword("pw-" + username)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := user.User{Username: username, PasswordHash: hash, Role: role}
	if err := db.DB.Create(&u).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	return doJSON(r, "POST", path, body)
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestSetupHandler_AllowsInitialSetup(t *testing.T) {
	setupUserDB(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/setup", SetupHandler(nil))

	w := postJSON(r, "/setup", SetupRequest{Username: "admin1", Password: "pw1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 Created, got %d: %s", w.Code, w.Body.String())
	}
	if !contains(w.Body.String(), `"role":"admin"`) {
		t.Errorf("first user should be admin, got: %s", w.Body.String())
	}
}

func TestSetupHandler_RejectsWhenUsersExist(t *testing.T) {
	setupUserDB(t)
	seedUser(t, "existing", user.RoleUser)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/setup", SetupHandler(nil))

	w := postJSON(r, "/setup", SetupRequest{Username: "admin2", Password: "pw2"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 Forbidden, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetupHandler_MissingFields(t *testing.T) {
	setupUserDB(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/setup", SetupHandler(nil))

	w := postJSON(r, "/setup", SetupRequest{Username: "", Password: "pw"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 Bad Request, got %d: %s", w.Code, w.Body.String())
	}

	w = postJSON(r, "/setup", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}
}
