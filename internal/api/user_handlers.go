package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quitcoach/internal/apperr"
	"quitcoach/internal/auth"
	"quitcoach/internal/config"
	"quitcoach/internal/db"
	"quitcoach/internal/logger"
	"quitcoach/internal/progress"
	"quitcoach/internal/user"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    uint      `json:"userId"`
	Username  string    `json:"username"`
	Role      user.Role `json:"role"`
}

// LoginHandler issues a bearer token. With a session store the token is
// also registered there, so logout revokes it; without one tokens are
// valid until they expire.
func LoginHandler(cfg *config.Config, rdb *redis.Client, log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		accounts := user.NewAccounts(db.DB)
		count, err := accounts.Count(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		if count == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"message": "Initial setup required", "need_setup": true}})
			return
		}
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		u, err := accounts.Authenticate(ctx, req.Username, req.Password)
		if err != nil {
			log.Info("login rejected", zap.String("username", req.Username), zap.Error(err))
			writeError(c, err)
			return
		}
		ttl := cfg.TokenTTL()
		token, err := auth.GenerateJWT(cfg.Server.JWTSecret, u.ID, u.Username, u.Role, ttl)
		if err != nil {
			writeError(c, err)
			return
		}
		if rdb != nil {
			if err := auth.SetSession(ctx, rdb, u.ID, token, ttl); err != nil {
				log.Error("session store unavailable", zap.Uint("user_id", u.ID), zap.Error(err))
				writeError(c, apperr.Unavailable("session store unavailable"))
				return
			}
		}
		log.Info("login", zap.Uint("user_id", u.ID), zap.String("role", string(u.Role)))
		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			ExpiresAt: time.Now().Add(ttl).UTC(),
			UserID:    u.ID,
			Username:  u.Username,
			Role:      u.Role,
		})
	}
}

func LogoutHandler(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		if rdb != nil {
			_ = auth.DeleteSession(c.Request.Context(), rdb, a.UserID)
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// MeHandler returns the caller's account. has_baseline tells a client
// whether the smoking profile needed to price progress has been recorded.
func MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		u, err := user.NewAccounts(db.DB).Get(ctx, a.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		var baselines int64
		if err := db.DB.WithContext(ctx).Model(&progress.SmokingStatus{}).
			Where("user_id = ?", u.ID).Count(&baselines).Error; err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":           u.ID,
			"username":     u.Username,
			"role":         u.Role,
			"has_baseline": baselines > 0,
			"createdAt":    u.CreatedAt,
		})
	}
}
