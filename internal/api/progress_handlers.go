package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quitcoach/internal/engine"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
)

type progressRequest struct {
	StageID          uint   `json:"stage_id" binding:"required"`
	UserID           *uint  `json:"user_id"`
	Date             string `json:"date" binding:"required"`
	CigarettesSmoked *int   `json:"cigarettes_smoked" binding:"required"`
	HealthStatus     string `json:"health_status"`
}

type progressUpdateRequest struct {
	CigarettesSmoked *int    `json:"cigarettes_smoked"`
	HealthStatus     *string `json:"health_status"`
	Date             *string `json:"date"`
}

// parseDay reads a calendar date in the service timezone or writes a 400.
func parseDay(c *gin.Context, svc *engine.Service, s string) (time.Time, bool) {
	d, err := plan.ParseDay(s, svc.Location())
	if err != nil {
		badRequest(c, err.Error())
		return time.Time{}, false
	}
	return d, true
}

// POST /progress
func SubmitProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		var req progressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "stage_id, date and cigarettes_smoked are required")
			return
		}
		day, ok := parseDay(c, svc, req.Date)
		if !ok {
			return
		}
		res, err := svc.SubmitProgress(c.Request.Context(), a, engine.SubmitInput{
			StageID:          req.StageID,
			UserID:           req.UserID,
			Date:             day,
			CigarettesSmoked: *req.CigarettesSmoked,
			HealthStatus:     req.HealthStatus,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// GET /progress/stage/:stageId
func ListStageProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		stageID, ok := paramID(c, "stageId")
		if !ok {
			return
		}
		rows, err := svc.ListStageProgress(c.Request.Context(), a, stageID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// GET /progress/stage/:stageId/user
func StageTaskProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		stageID, ok := paramID(c, "stageId")
		if !ok {
			return
		}
		tp, err := svc.StageTaskProgress(c.Request.Context(), a, stageID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tp)
	}
}

// GET /progress
func ListProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		rows, err := svc.ListProgress(c.Request.Context(), a)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// GET /progress/:id
func GetProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		entry, err := svc.GetProgress(c.Request.Context(), a, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// PUT /progress/:id
func UpdateProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req progressUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		changes := progress.Changes{
			CigarettesSmoked: req.CigarettesSmoked,
			HealthStatus:     req.HealthStatus,
		}
		if req.Date != nil {
			day, ok := parseDay(c, svc, *req.Date)
			if !ok {
				return
			}
			changes.Date = &day
		}
		res, err := svc.UpdateProgress(c.Request.Context(), a, id, changes)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// DELETE /progress/:id
func DeleteProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		if err := svc.DeleteProgress(c.Request.Context(), a, id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Progress deleted"})
	}
}

// GET /progress/consecutive-no-smoke/:userId
func ConsecutiveNoSmokeHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		userID, ok := paramID(c, "userId")
		if !ok {
			return
		}
		days, err := svc.ConsecutiveNoSmoke(c.Request.Context(), a, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "consecutive_no_smoke_days": days})
	}
}

// GET /progress/plan/:id/money-saved
func PlanMoneySavedHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		planID, ok := paramID(c, "id")
		if !ok {
			return
		}
		sav, err := svc.PlanMoneySaved(c.Request.Context(), a, planID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sav)
	}
}

// GET /progress/plan/:id
func PlanProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		planID, ok := paramID(c, "id")
		if !ok {
			return
		}
		out, err := svc.PlanProgress(c.Request.Context(), a, planID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /progress/user/:id
func UserProgressHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		userID, ok := paramID(c, "id")
		if !ok {
			return
		}
		out, err := svc.UserProgress(c.Request.Context(), a, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// POST /smoking-status
func RecordBaselineHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		var req struct {
			CigarettesPerDay *int     `json:"cigarettes_per_day" binding:"required"`
			CostPerPack      *float64 `json:"cost_per_pack" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "cigarettes_per_day and cost_per_pack are required")
			return
		}
		b, err := svc.RecordBaseline(c.Request.Context(), a, *req.CigarettesPerDay, *req.CostPerPack)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	}
}
