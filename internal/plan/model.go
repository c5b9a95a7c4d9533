package plan

import (
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// QuitPlan is the owner of an ordered list of stages.
type QuitPlan struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	CoachID        *uint     `gorm:"index" json:"coach_id,omitempty"`
	Name           string    `gorm:"size:128;not null" json:"name"`
	Reason         string    `json:"reason,omitempty"`
	StartDate      time.Time `json:"start_date"`
	TargetQuitDate time.Time `json:"target_quit_date"`
	Status         Status    `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Stage is one time-boxed phase of a plan. AttemptNumber only moves forward,
// and IsCompleted is terminal.
type Stage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PlanID         uint      `gorm:"not null;uniqueIndex:idx_stage_plan_number" json:"plan_id"`
	StageNumber    int       `gorm:"not null;uniqueIndex:idx_stage_plan_number" json:"stage_number"`
	Title          string    `gorm:"size:128" json:"title"`
	Description    string    `json:"description,omitempty"`
	StartDate      time.Time `gorm:"not null" json:"start_date"`
	EndDate        time.Time `gorm:"not null;index" json:"end_date"`
	CigaretteLimit *int      `json:"cigarette_limit,omitempty"`
	AttemptNumber  int       `gorm:"not null" json:"attempt_number"`
	IsCompleted    bool      `gorm:"not null;index" json:"is_completed"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Contains reports whether day falls inside the stage window, both ends
// inclusive.
func (s *Stage) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(Day(s.StartDate)) && !d.After(Day(s.EndDate))
}

// Task is one checklist item of a stage.
type Task struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StageID     uint      `gorm:"index;not null" json:"stage_id"`
	Title       string    `gorm:"size:256;not null" json:"title"`
	Description string    `json:"description,omitempty"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TaskResult records a user's completion of a task within one stage attempt.
type TaskResult struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;uniqueIndex:idx_task_result_attempt" json:"user_id"`
	TaskID        uint      `gorm:"not null;uniqueIndex:idx_task_result_attempt" json:"task_id"`
	StageID       uint      `gorm:"not null;index:idx_task_result_stage" json:"stage_id"`
	AttemptNumber int       `gorm:"not null;uniqueIndex:idx_task_result_attempt;index:idx_task_result_stage" json:"attempt_number"`
	IsCompleted   bool      `gorm:"not null" json:"is_completed"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
