package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"quitcoach/internal/config"
	"quitcoach/internal/user"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.JWTSecret = "secret"
	cfg.Server.TokenTTLHours = 1
	return cfg
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
}

func serve(r *gin.Engine, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func newRouter(cfg *config.Config, rdb *redis.Client, roles ...user.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(cfg, rdb, roles...))
	r.GET("/test", func(c *gin.Context) {
		a, ok := ActorFrom(c)
		if !ok {
			c.String(500, "no actor")
			return
		}
		c.String(200, string(a.Role))
	})
	return r
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	rdb := unreachableRedis()
	defer rdb.Close()
	if w := serve(newRouter(testConfig(), rdb), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	rdb := unreachableRedis()
	defer rdb.Close()
	if w := serve(newRouter(testConfig(), rdb), "not-a-token"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_NoSession(t *testing.T) {
	cfg := testConfig()
	rdb := unreachableRedis()
	defer rdb.Close()
	token, _ := GenerateJWT(cfg.Server.JWTSecret, 1, "u", user.RoleUser, time.Hour)
	if w := serve(newRouter(cfg, rdb), token); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", w.Code)
	}
}

func TestAuthMiddleware_ValidSessionAndRoles(t *testing.T) {
	cfg := testConfig()
	rdb := liveRedis(t)
	defer rdb.Close()
	ctx := context.Background()

	token, _ := GenerateJWT(cfg.Server.JWTSecret, 777, "coachy", user.RoleCoach, time.Hour)
	if err := SetSession(ctx, rdb, 777, token, time.Minute); err != nil {
		t.Fatalf("set session: %v", err)
	}
	defer DeleteSession(ctx, rdb, 777)

	w := serve(newRouter(cfg, rdb), token)
	if w.Code != http.StatusOK || w.Body.String() != "coach" {
		t.Errorf("expected 200 coach, got %d %s", w.Code, w.Body.String())
	}
	if w := serve(newRouter(cfg, rdb, user.RoleAdmin), token); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for admin-only route, got %d", w.Code)
	}
	if w := serve(newRouter(cfg, rdb, user.RoleAdmin, user.RoleCoach), token); w.Code != http.StatusOK {
		t.Errorf("expected 200 for coach-or-admin route, got %d", w.Code)
	}
}

func TestAuthMiddleware_WithoutSessionStore(t *testing.T) {
	cfg := testConfig()
	token, _ := GenerateJWT(cfg.Server.JWTSecret, 9, "admin", user.RoleAdmin, time.Hour)

	if w := serve(newRouter(cfg, nil), token); w.Code != http.StatusOK || w.Body.String() != "admin" {
		t.Errorf("expected the signed token to be accepted, got %d %s", w.Code, w.Body.String())
	}
	if w := serve(newRouter(cfg, nil, user.RoleCoach), token); w.Code != http.StatusForbidden {
		t.Errorf("roles still apply without a session store, got %d", w.Code)
	}
	expired, _ := GenerateJWT(cfg.Server.JWTSecret, 9, "admin", user.RoleAdmin, -time.Minute)
	if w := serve(newRouter(cfg, nil), expired); w.Code != http.StatusUnauthorized {
		t.Errorf("expired token: got %d, want 401", w.Code)
	}
}
