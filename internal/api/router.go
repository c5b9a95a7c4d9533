package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quitcoach/internal/auth"
	"quitcoach/internal/config"
	"quitcoach/internal/engine"
	"quitcoach/internal/notify"
	"quitcoach/internal/user"
)

// accessLog logs one line per request, with any errors handlers attached.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Info("request", fields...)
	}
}

func SetupRouter(cfg *config.Config, rdb *redis.Client, svc *engine.Service, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log.Named("http")))

	var feed *notify.RedisPublisher
	if rdb != nil {
		feed = notify.NewRedisPublisher(rdb)
	}

	authed := auth.AuthMiddleware(cfg, rdb)
	admin := auth.AuthMiddleware(cfg, rdb, user.RoleAdmin)
	staff := auth.AuthMiddleware(cfg, rdb, user.RoleCoach, user.RoleAdmin)

	group := r.Group(cfg.Server.Subpath)
	{
		group.GET("/health", healthHandler)
		group.GET("/config", configHandler(cfg))

		// Setup: only if no users
		group.POST("/setup", SetupHandler(log.Named("accounts")))

		// Auth
		group.POST("/auth/login", LoginHandler(cfg, rdb, log.Named("accounts")))
		group.POST("/auth/logout", authed, LogoutHandler(rdb))
		group.GET("/auth/me", authed, MeHandler())

		// Admin: users
		group.GET("/users", admin, ListUsersHandler())
		group.POST("/users", admin, CreateUserHandler(log.Named("accounts")))

		group.POST("/smoking-status", authed, RecordBaselineHandler(svc))

		group.POST("/plans", authed, CreatePlanHandler(svc))
		group.GET("/plans/:id", authed, GetPlanHandler(svc))

		// Progress
		group.POST("/progress", authed, SubmitProgressHandler(svc))
		group.GET("/progress", authed, ListProgressHandler(svc))
		group.GET("/progress/stage/:stageId", authed, ListStageProgressHandler(svc))
		group.GET("/progress/stage/:stageId/user", authed, StageTaskProgressHandler(svc))
		group.GET("/progress/:id", authed, GetProgressHandler(svc))
		group.PUT("/progress/:id", authed, UpdateProgressHandler(svc))
		group.DELETE("/progress/:id", authed, DeleteProgressHandler(svc))
		group.GET("/progress/user/:id", authed, UserProgressHandler(svc))
		group.GET("/progress/consecutive-no-smoke/:userId", authed, ConsecutiveNoSmokeHandler(svc))
		group.GET("/progress/plan/:id", authed, PlanProgressHandler(svc))
		group.GET("/progress/plan/:id/money-saved", authed, PlanMoneySavedHandler(svc))

		// Stages and tasks
		group.POST("/stages", staff, CreateStageHandler(svc))
		group.GET("/stages/my", authed, MyStagesHandler(svc))
		group.GET("/stages/plan/:planId", authed, ListStagesHandler(svc))
		group.GET("/stages/:id", authed, GetStageHandler(svc))
		group.PUT("/stages/:id", staff, UpdateStageHandler(svc))
		group.DELETE("/stages/:id", staff, DeleteStageHandler(svc))
		group.POST("/stages/:id/tasks", staff, CreateTaskHandler(svc))
		group.POST("/tasks/:id/complete", authed, CompleteTaskHandler(svc))

		// Badges and stats
		group.GET("/badges", authed, ListBadgesHandler(svc))
		group.POST("/badges", admin, DefineBadgeHandler(svc))
		group.GET("/badges/progress", authed, BadgeProgressHandler(svc))
		group.GET("/badges/user/:id", authed, UserBadgesHandler(svc))
		group.GET("/badges/leaderboard", authed, LeaderboardHandler(svc))
		group.GET("/stats/:userId", authed, StatsHandler(svc))

		// Notifications
		group.GET("/notifications", authed, ListNotificationsHandler(svc))
		group.GET("/ws/notifications", authed, NotificationFeedHandler(feed, log.Named("ws")))
	}
	return r
}
