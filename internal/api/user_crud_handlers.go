package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quitcoach/internal/auth"
	"quitcoach/internal/db"
	"quitcoach/internal/logger"
	"quitcoach/internal/user"
)

// GET /users?role=coach  [admin only]
func ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := user.Role(c.Query("role"))
		if role != "" && !role.Valid() {
			badRequest(c, "Unknown role")
			return
		}
		users, err := user.NewAccounts(db.DB).List(c.Request.Context(), role)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// POST /users  [admin only]
//
// Admins create users and coaches here; role defaults to user.
func CreateUserHandler(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		var req struct {
			Username string    `json:"username"`
			Password string    `json:"password"`
			Role     user.Role `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
			badRequest(c, "Missing username or password")
			return
		}
		if req.Role == "" {
			req.Role = user.RoleUser
		}
		u, err := user.NewAccounts(db.DB).Create(c.Request.Context(), req.Username, req.Password, req.Role)
		if err != nil {
			writeError(c, err)
			return
		}
		by, _ := auth.ActorFrom(c)
		log.Info("account created", zap.Uint("user_id", u.ID), zap.String("role", string(u.Role)), zap.Uint("by", by.UserID))
		c.JSON(http.StatusCreated, u)
	}
}
