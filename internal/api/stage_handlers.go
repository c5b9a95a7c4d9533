package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quitcoach/internal/engine"
	"quitcoach/internal/plan"
	"quitcoach/internal/stage"
)

type planRequest struct {
	UserID         uint   `json:"user_id"`
	CoachID        *uint  `json:"coach_id"`
	Name           string `json:"name" binding:"required"`
	Reason         string `json:"reason"`
	StartDate      string `json:"start_date"`
	TargetQuitDate string `json:"target_quit_date"`
}

// POST /plans
func CreatePlanHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		var req planRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "name is required")
			return
		}
		p := plan.QuitPlan{
			UserID:  req.UserID,
			CoachID: req.CoachID,
			Name:    req.Name,
			Reason:  req.Reason,
		}
		if req.StartDate != "" {
			if p.StartDate, ok = parseDay(c, svc, req.StartDate); !ok {
				return
			}
		}
		if req.TargetQuitDate != "" {
			if p.TargetQuitDate, ok = parseDay(c, svc, req.TargetQuitDate); !ok {
				return
			}
		}
		if err := svc.CreatePlan(c.Request.Context(), a, &p); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// GET /plans/:id
func GetPlanHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		p, err := svc.GetPlan(c.Request.Context(), a, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

type stageRequest struct {
	PlanID         uint   `json:"plan_id" binding:"required"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	StartDate      string `json:"start_date" binding:"required"`
	EndDate        string `json:"end_date" binding:"required"`
	CigaretteLimit *int   `json:"cigarette_limit"`
}

// POST /stages  [coach, admin]
func CreateStageHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		var req stageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "plan_id, start_date and end_date are required")
			return
		}
		in := stage.Input{
			PlanID:         req.PlanID,
			Title:          req.Title,
			Description:    req.Description,
			CigaretteLimit: req.CigaretteLimit,
		}
		if in.StartDate, ok = parseDay(c, svc, req.StartDate); !ok {
			return
		}
		if in.EndDate, ok = parseDay(c, svc, req.EndDate); !ok {
			return
		}
		st, err := svc.CreateStage(c.Request.Context(), a, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, st)
	}
}

// GET /stages/plan/:planId
func ListStagesHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		planID, ok := paramID(c, "planId")
		if !ok {
			return
		}
		out, err := svc.ListStages(c.Request.Context(), a, planID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /stages/my
func MyStagesHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		out, err := svc.MyStages(c.Request.Context(), a)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /stages/:id
func GetStageHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		st, err := svc.GetStage(c.Request.Context(), a, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// DELETE /stages/:id  [coach, admin]
func DeleteStageHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		if err := svc.DeleteStage(c.Request.Context(), a, id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Stage deleted"})
	}
}

type stageUpdateRequest struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	StartDate      *string `json:"start_date"`
	EndDate        *string `json:"end_date"`
	CigaretteLimit *int    `json:"cigarette_limit"`
	IsCompleted    *bool   `json:"is_completed"`
}

// PUT /stages/:id  [coach, admin]
func UpdateStageHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req stageUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		u := stage.Update{
			Title:          req.Title,
			Description:    req.Description,
			CigaretteLimit: req.CigaretteLimit,
			IsCompleted:    req.IsCompleted,
		}
		if req.StartDate != nil {
			d, ok := parseDay(c, svc, *req.StartDate)
			if !ok {
				return
			}
			u.StartDate = &d
		}
		if req.EndDate != nil {
			d, ok := parseDay(c, svc, *req.EndDate)
			if !ok {
				return
			}
			u.EndDate = &d
		}
		st, err := svc.UpdateStage(c.Request.Context(), a, id, u)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// POST /stages/:id/tasks  [coach, admin]
func CreateTaskHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		stageID, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req struct {
			Title       string `json:"title" binding:"required"`
			Description string `json:"description"`
			SortOrder   int    `json:"sort_order"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "title is required")
			return
		}
		t := plan.Task{Title: req.Title, Description: req.Description, SortOrder: req.SortOrder}
		if err := svc.CreateTask(c.Request.Context(), a, stageID, &t); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

// POST /tasks/:id/complete
func CompleteTaskHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		tr, err := svc.CompleteTask(c.Request.Context(), a, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tr)
	}
}
