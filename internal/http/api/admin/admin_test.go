package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/gpts"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/security"
	"gorm.io/gorm"
)

var testJWT = config.JWTConfig{Secret: "admin-test-secret", Expiry: time.Hour}

type adminServer struct {
	t      *testing.T
	conn   *gorm.DB
	engine *gin.Engine
}

func newAdminServer(t *testing.T) *adminServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := "file:" + filepath.Join(t.TempDir(), "admin-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	r := gin.New()
	RegisterAdminRoutes(r, conn, testJWT, gpts.NewRegistry(conn, nil))
	return &adminServer{t: t, conn: conn, engine: r}
}

func (s *adminServer) seedUser(username, role string) (*models.User, string) {
	s.t.Helper()
	hash, err := security.HashPassword("password1")
	if err != nil {
		s.t.Fatalf("hash: %v", err)
	}
	user := &models.User{Username: username, Password: hash, Role: role, Active: true}
	if errCreate := s.conn.Create(user).Error; errCreate != nil {
		s.t.Fatalf("create user: %v", errCreate)
	}
	token, _, errIssue := security.IssueUserToken(testJWT.Secret, user.ID, user.Username, user.Role, testJWT.Expiry, time.Now())
	if errIssue != nil {
		s.t.Fatalf("issue token: %v", errIssue)
	}
	return user, token
}

func (s *adminServer) do(method, path, token string, body any) (int, map[string]any) {
	s.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
			s.t.Fatalf("decode %q: %v", w.Body.String(), errDecode)
		}
	}
	return w.Code, out
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	s := newAdminServer(t)
	_, userToken := s.seedUser("alice", models.RoleUser)

	if code, _ := s.do(http.MethodGet, "/api/v1/admin/users", userToken, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/v1/admin/users", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestUsers_CreateListAndDuplicate(t *testing.T) {
	s := newAdminServer(t)
	_, adminToken := s.seedUser("root", models.RoleAdmin)

	code, body := s.do(http.MethodPost, "/api/v1/admin/users", adminToken, map[string]any{"username": "carol", "password": "secret12"})
	if code != http.StatusOK {
		t.Fatalf("create: status %d %v", code, body)
	}
	data := body["data"].(map[string]any)
	if data["role"] != models.RoleUser {
		t.Fatalf("expected default role user, got %v", data["role"])
	}

	if code, _ = s.do(http.MethodPost, "/api/v1/admin/users", adminToken, map[string]any{"username": "carol", "password": "secret12"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", code)
	}
	if code, _ = s.do(http.MethodPost, "/api/v1/admin/users", adminToken, map[string]any{"username": "dave", "password": "short"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", code)
	}
	if code, _ = s.do(http.MethodPost, "/api/v1/admin/users", adminToken, map[string]any{"username": "erin", "password": "secret12", "role": "owner"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", code)
	}

	code, body = s.do(http.MethodGet, "/api/v1/admin/users?search=CAR", adminToken, nil)
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("expected search to find carol, got %d %v", code, body)
	}
}

func TestUsers_SelfProtection(t *testing.T) {
	s := newAdminServer(t)
	root, adminToken := s.seedUser("root", models.RoleAdmin)
	path := fmt.Sprintf("/api/v1/admin/users/%d", root.ID)

	if code, _ := s.do(http.MethodPut, path, adminToken, map[string]any{"role": models.RoleUser}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self demotion, got %d", code)
	}
	if code, _ := s.do(http.MethodPut, path, adminToken, map[string]any{"active": false}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self disable, got %d", code)
	}
	if code, _ := s.do(http.MethodDelete, path, adminToken, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self delete, got %d", code)
	}
}

func TestUsers_UpdatePasswordAndDelete(t *testing.T) {
	s := newAdminServer(t)
	_, adminToken := s.seedUser("root", models.RoleAdmin)
	alice, _ := s.seedUser("alice", models.RoleUser)
	path := fmt.Sprintf("/api/v1/admin/users/%d", alice.ID)

	code, body := s.do(http.MethodPut, path, adminToken, map[string]any{"name": "Alice", "active": false})
	if code != http.StatusOK {
		t.Fatalf("update: status %d %v", code, body)
	}
	if data := body["data"].(map[string]any); data["active"] != false || data["name"] != "Alice" {
		t.Fatalf("unexpected update result: %v", data)
	}

	if code, _ = s.do(http.MethodPut, path+"/password", adminToken, map[string]any{"password": "new-password"}); code != http.StatusOK {
		t.Fatalf("change password: status %d", code)
	}
	var stored models.User
	if errFind := s.conn.First(&stored, alice.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if !security.CheckPassword(stored.Password, "new-password") {
		t.Fatalf("expected password to change")
	}

	thread := models.Thread{UserID: alice.ID, GPTID: 1, OpenAIThreadID: "thread_a", LastActivityAt: time.Now()}
	if errCreate := s.conn.Create(&thread).Error; errCreate != nil {
		t.Fatalf("create thread: %v", errCreate)
	}
	if code, _ = s.do(http.MethodDelete, path, adminToken, nil); code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}
	var threads int64
	s.conn.Model(&models.Thread{}).Where("user_id = ?", alice.ID).Count(&threads)
	if threads != 0 {
		t.Fatalf("expected user threads removed, got %d", threads)
	}
	if code, _ = s.do(http.MethodGet, path, adminToken, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func TestMaintenance_Prune(t *testing.T) {
	s := newAdminServer(t)
	_, adminToken := s.seedUser("root", models.RoleAdmin)
	orphan := models.Thread{UserID: 9, GPTID: 404, OpenAIThreadID: "thread_orphan", LastActivityAt: time.Now()}
	if errCreate := s.conn.Create(&orphan).Error; errCreate != nil {
		t.Fatalf("create thread: %v", errCreate)
	}

	code, body := s.do(http.MethodPost, "/api/v1/admin/maintenance/prune", adminToken, nil)
	if code != http.StatusOK {
		t.Fatalf("prune: status %d %v", code, body)
	}
	if data := body["data"].(map[string]any); data["threads"].(float64) != 1 {
		t.Fatalf("expected 1 pruned thread, got %v", data)
	}
}
