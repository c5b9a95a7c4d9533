package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quitcoach/internal/badge"
	"quitcoach/internal/engine"
)

// GET /badges
func ListBadgesHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Badges(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// POST /badges  [admin only]
func DefineBadgeHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		var req struct {
			Name       string `json:"name" binding:"required"`
			Condition  string `json:"condition" binding:"required"`
			Tier       string `json:"tier"`
			PointValue int    `json:"point_value"`
			ImageURL   string `json:"url_image"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "name and condition are required")
			return
		}
		b := badge.Badge{
			Name:       req.Name,
			Condition:  req.Condition,
			Tier:       req.Tier,
			PointValue: req.PointValue,
			ImageURL:   req.ImageURL,
		}
		if err := svc.DefineBadge(c.Request.Context(), a, &b); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	}
}

// GET /badges/progress
func BadgeProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		out, err := svc.BadgeProgress(c.Request.Context(), a)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /badges/user/:id
func UserBadgesHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		userID, ok := paramID(c, "id")
		if !ok {
			return
		}
		out, err := svc.UserBadges(c.Request.Context(), a, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /badges/leaderboard?type=points|badge_count|money_saved|no_smoke_days
func LeaderboardHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := c.DefaultQuery("type", badge.BoardPoints)
		out, err := svc.Leaderboard(c.Request.Context(), kind, queryInt(c, "limit", 10))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"type": kind, "entries": out})
	}
}

// GET /stats/:userId
func StatsHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		userID, ok := paramID(c, "userId")
		if !ok {
			return
		}
		st, err := svc.Stats(c.Request.Context(), a, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}
