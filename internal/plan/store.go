package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quitcoach/internal/apperr"
)

// Store is the persistence collaborator for plans, stages and tasks.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreatePlan(ctx context.Context, p *QuitPlan) error {
	if p.Status == "" {
		p.Status = StatusActive
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (s *Store) Plan(ctx context.Context, id uint) (*QuitPlan, error) {
	var p QuitPlan
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("quit plan %d not found", id)
		}
		return nil, fmt.Errorf("load plan %d: %w", id, err)
	}
	return &p, nil
}

// Coaches reports whether coachID is the assigned coach of any of
// userID's plans.
func (s *Store) Coaches(ctx context.Context, coachID, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&QuitPlan{}).
		Where("user_id = ? AND coach_id = ?", userID, coachID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check coach of user %d: %w", userID, err)
	}
	return n > 0, nil
}

func (s *Store) Stage(ctx context.Context, id uint) (*Stage, error) {
	var st Stage
	if err := s.db.WithContext(ctx).First(&st, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("stage %d not found", id)
		}
		return nil, fmt.Errorf("load stage %d: %w", id, err)
	}
	return &st, nil
}

// StageWithPlan loads a stage together with its owning plan.
func (s *Store) StageWithPlan(ctx context.Context, stageID uint) (*Stage, *QuitPlan, error) {
	st, err := s.Stage(ctx, stageID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.Plan(ctx, st.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}

func (s *Store) StageIDs(ctx context.Context, planID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&Stage{}).Where("plan_id = ?", planID).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list stage ids: %w", err)
	}
	return ids, nil
}

// CompleteIfAllStagesDone marks the plan completed when it has at least one
// stage and none of them is still open. The check and the write are a single
// conditional UPDATE.
func (s *Store) CompleteIfAllStagesDone(ctx context.Context, planID uint) (bool, error) {
	db := s.db.WithContext(ctx)
	anyStage := s.db.Model(&Stage{}).Select("1").Where("plan_id = ?", planID)
	openStage := s.db.Model(&Stage{}).Select("1").Where("plan_id = ? AND is_completed = ?", planID, false)
	res := db.Model(&QuitPlan{}).
		Where("id = ? AND status <> ?", planID, StatusCompleted).
		Where("EXISTS (?)", anyStage).
		Where("NOT EXISTS (?)", openStage).
		Updates(map[string]any{"status": StatusCompleted, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("complete plan %d: %w", planID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) Task(ctx context.Context, id uint) (*Task, error) {
	var t Task
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("task %d not found", id)
		}
		return nil, fmt.Errorf("load task %d: %w", id, err)
	}
	return &t, nil
}

// CompleteTask upserts the task result for the stage's current attempt.
func (s *Store) CompleteTask(ctx context.Context, userID uint, task *Task, attempt int) (*TaskResult, error) {
	now := time.Now()
	tr := TaskResult{
		UserID:        userID,
		TaskID:        task.ID,
		StageID:       task.StageID,
		AttemptNumber: attempt,
		IsCompleted:   true,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "task_id"}, {Name: "attempt_number"}},
		DoUpdates: clause.Assignments(map[string]any{
			"is_completed": true,
			"updated_at":   now,
		}),
	}).Create(&tr).Error
	if err != nil {
		return nil, fmt.Errorf("complete task %d: %w", task.ID, err)
	}
	var stored TaskResult
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ? AND attempt_number = ?", userID, task.ID, attempt).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload task result: %w", err)
	}
	return &stored, nil
}

// CoachedUserIDs lists the owners of every plan coachID is assigned to.
func (s *Store) CoachedUserIDs(ctx context.Context, coachID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&QuitPlan{}).
		Where("coach_id = ?", coachID).
		Distinct().Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list coached users: %w", err)
	}
	return ids, nil
}

func (s *Store) PlansOf(ctx context.Context, userID uint) ([]QuitPlan, error) {
	var plans []QuitPlan
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("id ASC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("list plans of user %d: %w", userID, err)
	}
	return plans, nil
}

// StageCounts returns how many stages the plan has and how many of them are
// completed.
func (s *Store) StageCounts(ctx context.Context, planID uint) (total, completed int64, err error) {
	var row struct {
		Total     int64
		Completed int64
	}
	err = s.db.WithContext(ctx).Model(&Stage{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_completed THEN 1 ELSE 0 END), 0) AS completed").
		Where("plan_id = ?", planID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count stages of plan %d: %w", planID, err)
	}
	return row.Total, row.Completed, nil
}

// StagesFor lists the stages of every plan userID owns or coaches, grouped
// by plan in stage order.
func (s *Store) StagesFor(ctx context.Context, userID uint) ([]Stage, error) {
	plans := s.db.Model(&QuitPlan{}).Select("id").Where("user_id = ? OR coach_id = ?", userID, userID)
	var stages []Stage
	if err := s.db.WithContext(ctx).
		Where("plan_id IN (?)", plans).
		Order("plan_id ASC").Order("stage_number ASC").
		Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("list stages for user %d: %w", userID, err)
	}
	return stages, nil
}
