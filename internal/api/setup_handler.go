package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quitcoach/internal/db"
	"quitcoach/internal/logger"
	"quitcoach/internal/user"
)

type SetupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SetupHandler creates the first admin account. Coaches and users are then
// created by that admin through POST /users.
func SetupHandler(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		var req SetupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		if req.Username == "" || req.Password == "" {
			badRequest(c, "Username and password required")
			return
		}
		u, err := user.NewAccounts(db.DB).Bootstrap(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		log.Info("initial admin created", zap.Uint("user_id", u.ID), zap.String("username", u.Username))
		c.JSON(http.StatusCreated, gin.H{
			"id":             u.ID,
			"username":       u.Username,
			"role":           u.Role,
			"createdAt":      u.CreatedAt,
			"setup_complete": true,
		})
	}
}
