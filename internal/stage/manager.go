// Package stage owns the stage state machine: attempt numbering, retries
// on breach, completion, and date sequencing between the stages of a plan.
package stage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"quitcoach/internal/apperr"
	"quitcoach/internal/logger"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
)

// Notifier receives the lifecycle events a stage transition produces.
type Notifier interface {
	StageRetry(ctx context.Context, userID uint, st *plan.Stage) error
	CoachAlert(ctx context.Context, coachID, userID uint, st *plan.Stage) error
	StageCompleted(ctx context.Context, userID uint, st *plan.Stage) error
}

// Input describes a new stage.
type Input struct {
	PlanID         uint
	Title          string
	Description    string
	StartDate      time.Time
	EndDate        time.Time
	CigaretteLimit *int
}

// Update lists editable stage fields. Nil means unchanged.
type Update struct {
	Title          *string
	Description    *string
	StartDate      *time.Time
	EndDate        *time.Time
	CigaretteLimit *int
	IsCompleted    *bool
}

// Summary is a stage with the live total of its current attempt.
type Summary struct {
	plan.Stage
	TotalCigarettesSmoked int             `json:"total_cigarettes_smoked"`
	LimitStatus           progress.Status `json:"limit_status"`
}

type Manager struct {
	db          *gorm.DB
	plans       *plan.Store
	ledger      *progress.Ledger
	notifier    Notifier
	ratio       float64
	concurrency int
	log         *zap.Logger
}

func NewManager(db *gorm.DB, plans *plan.Store, ledger *progress.Ledger, notifier Notifier, ratio float64, log *zap.Logger) *Manager {
	if ratio <= 0 || ratio > 1 {
		ratio = progress.DefaultWarningRatio
	}
	return &Manager{
		db:          db,
		plans:       plans,
		ledger:      ledger,
		notifier:    notifier,
		ratio:       ratio,
		concurrency: 4,
		log:         logger.OrNop(log).Named("stage"),
	}
}

// Retry moves the stage from observedAttempt to the next attempt and clears
// the task checklist of the attempt being abandoned. Progress rows are kept.
// The increment is conditional on the attempt still being observedAttempt,
// so of several racing callers exactly one reports true and only that one
// sends notifications.
func (m *Manager) Retry(ctx context.Context, stageID uint, observedAttempt int, userID uint) (bool, error) {
	var (
		won bool
		st  plan.Stage
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&plan.Stage{}).
			Where("id = ? AND attempt_number = ? AND is_completed = ?", stageID, observedAttempt, false).
			Updates(map[string]any{
				"attempt_number": gorm.Expr("attempt_number + 1"),
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		if err := tx.Where("stage_id = ? AND attempt_number = ?", stageID, observedAttempt).
			Delete(&plan.TaskResult{}).Error; err != nil {
			return err
		}
		return tx.First(&st, stageID).Error
	})
	if err != nil {
		return false, fmt.Errorf("retry stage %d: %w", stageID, err)
	}
	if !won {
		m.log.Debug("retry already applied", zap.Uint("stage_id", stageID), zap.Int("observed_attempt", observedAttempt))
		return false, nil
	}

	m.log.Info("stage retried",
		zap.Uint("stage_id", stageID), zap.Uint("user_id", userID), zap.Int("attempt", st.AttemptNumber))
	m.notifyRetry(ctx, &st, userID)
	return true, nil
}

func (m *Manager) notifyRetry(ctx context.Context, st *plan.Stage, userID uint) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.StageRetry(ctx, userID, st); err != nil {
		m.log.Warn("retry notification failed", zap.Uint("stage_id", st.ID), zap.Error(err))
	}
	p, err := m.plans.Plan(ctx, st.PlanID)
	if err != nil {
		m.log.Warn("load plan for coach alert", zap.Uint("plan_id", st.PlanID), zap.Error(err))
		return
	}
	if p.CoachID == nil {
		return
	}
	if err := m.notifier.CoachAlert(ctx, *p.CoachID, userID, st); err != nil {
		m.log.Warn("coach alert failed", zap.Uint("stage_id", st.ID), zap.Error(err))
	}
}

// Complete marks the stage completed. It reports false when the stage was
// already completed. A stage completion that closes the last open stage of a
// plan completes the plan too.
func (m *Manager) Complete(ctx context.Context, stageID uint) (bool, error) {
	won, err := m.markCompleted(ctx, stageID)
	if err != nil || !won {
		return won, err
	}
	st, p, err := m.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return true, err
	}
	m.afterCompletion(ctx, st, p)
	return true, nil
}

func (m *Manager) markCompleted(ctx context.Context, stageID uint) (bool, error) {
	res := m.db.WithContext(ctx).Model(&plan.Stage{}).
		Where("id = ? AND is_completed = ?", stageID, false).
		Updates(map[string]any{"is_completed": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("complete stage %d: %w", stageID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (m *Manager) afterCompletion(ctx context.Context, st *plan.Stage, p *plan.QuitPlan) {
	m.log.Info("stage completed", zap.Uint("stage_id", st.ID), zap.Uint("plan_id", p.ID))
	if m.notifier != nil {
		if err := m.notifier.StageCompleted(ctx, p.UserID, st); err != nil {
			m.log.Warn("completion notification failed", zap.Uint("stage_id", st.ID), zap.Error(err))
		}
	}
	done, err := m.plans.CompleteIfAllStagesDone(ctx, p.ID)
	if err != nil {
		m.log.Error("plan completion check failed", zap.Uint("plan_id", p.ID), zap.Error(err))
		return
	}
	if done {
		m.log.Info("plan completed", zap.Uint("plan_id", p.ID))
	}
}

// SweepForCompletion completes every open stage whose window ended before
// today and whose tasks are all done for the current attempt. Stages without
// tasks are left alone. Running it again is a no-op for completed stages.
func (m *Manager) SweepForCompletion(ctx context.Context, today time.Time) ([]uint, error) {
	today = plan.Day(today)
	db := m.db.WithContext(ctx)

	var candidates []plan.Stage
	if err := db.Where("end_date < ? AND is_completed = ?", today, false).
		Order("id ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("load sweep candidates: %w", err)
	}

	var completed []uint
	for i := range candidates {
		st := &candidates[i]
		p, err := m.plans.Plan(ctx, st.PlanID)
		if err != nil {
			m.log.Warn("skip stage without plan", zap.Uint("stage_id", st.ID), zap.Error(err))
			continue
		}
		ready, err := m.tasksDone(ctx, st, p.UserID)
		if err != nil {
			return completed, err
		}
		if !ready {
			continue
		}
		won, err := m.markCompleted(ctx, st.ID)
		if err != nil {
			return completed, err
		}
		if !won {
			continue
		}
		st.IsCompleted = true
		completed = append(completed, st.ID)
		m.afterCompletion(ctx, st, p)
	}
	m.log.Info("completion sweep finished",
		zap.String("today", today.Format(plan.DayLayout)),
		zap.Int("candidates", len(candidates)), zap.Int("completed", len(completed)))
	return completed, nil
}

func (m *Manager) tasksDone(ctx context.Context, st *plan.Stage, userID uint) (bool, error) {
	tp, err := m.TaskProgress(ctx, st, userID)
	if err != nil {
		return false, err
	}
	return tp.Total > 0 && tp.Done == tp.Total, nil
}

// TaskProgress is how much of a stage's checklist is done in its current
// attempt.
type TaskProgress struct {
	StageID       uint  `json:"stage_id"`
	AttemptNumber int   `json:"attempt_number"`
	Total         int64 `json:"total_tasks"`
	Done          int64 `json:"completed_tasks"`
	Percent       int   `json:"progress_percent"`
}

// TaskProgress counts userID's completed tasks for the stage's current
// attempt. Results from abandoned attempts are not counted.
func (m *Manager) TaskProgress(ctx context.Context, st *plan.Stage, userID uint) (TaskProgress, error) {
	tp := TaskProgress{StageID: st.ID, AttemptNumber: st.AttemptNumber}
	db := m.db.WithContext(ctx)
	if err := db.Model(&plan.Task{}).Where("stage_id = ?", st.ID).Count(&tp.Total).Error; err != nil {
		return tp, fmt.Errorf("count tasks: %w", err)
	}
	if tp.Total == 0 {
		return tp, nil
	}
	if err := db.Model(&plan.TaskResult{}).
		Where("stage_id = ? AND user_id = ? AND attempt_number = ? AND is_completed = ?", st.ID, userID, st.AttemptNumber, true).
		Count(&tp.Done).Error; err != nil {
		return tp, fmt.Errorf("count task results: %w", err)
	}
	tp.Percent = Percent(tp.Done, tp.Total)
	return tp, nil
}

// Percent rounds done/total to a whole percentage. An empty total is 0%.
func Percent(done, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) * 100 / float64(total)))
}

// Delete removes a stage with its tasks and task results. A stage that has
// recorded progress, in any attempt, is refused.
func (m *Manager) Delete(ctx context.Context, stageID uint) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		used := tx.Model(&progress.Progress{}).Select("1").Where("stage_id = ?", stageID)
		res := tx.Where("id = ?", stageID).Where("NOT EXISTS (?)", used).Delete(&plan.Stage{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&plan.Stage{}).Where("id = ?", stageID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return apperr.NotFound("stage %d not found", stageID)
			}
			return apperr.Conflict("stage %d has recorded progress and cannot be deleted", stageID)
		}
		if err := tx.Where("stage_id = ?", stageID).Delete(&plan.TaskResult{}).Error; err != nil {
			return err
		}
		return tx.Where("stage_id = ?", stageID).Delete(&plan.Task{}).Error
	})
	if _, ok := apperr.KindOf(err); ok {
		return err
	}
	if err != nil {
		return fmt.Errorf("delete stage %d: %w", stageID, err)
	}
	return nil
}

// Create appends a stage to the end of a plan.
func (m *Manager) Create(ctx context.Context, in Input) (*plan.Stage, error) {
	start, end := plan.Day(in.StartDate), plan.Day(in.EndDate)
	if !start.Before(end) {
		return nil, apperr.OutOfRange("start_date must be before end_date").
			WithDetail("start_date", start.Format(plan.DayLayout)).
			WithDetail("end_date", end.Format(plan.DayLayout))
	}
	if in.CigaretteLimit != nil && *in.CigaretteLimit < 0 {
		return nil, apperr.OutOfRange("cigarette_limit must be non-negative")
	}

	st := &plan.Stage{
		PlanID:         in.PlanID,
		Title:          in.Title,
		Description:    in.Description,
		StartDate:      start,
		EndDate:        end,
		CigaretteLimit: in.CigaretteLimit,
		AttemptNumber:  1,
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last plan.Stage
		err := tx.Where("plan_id = ?", in.PlanID).Order("stage_number DESC").First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			st.StageNumber = 1
		case err != nil:
			return err
		default:
			if !start.After(plan.Day(last.EndDate)) {
				return apperr.OutOfRange("stage must start after the previous stage ends").
					WithDetail("start_date", start.Format(plan.DayLayout)).
					WithDetail("previous_end_date", plan.Day(last.EndDate).Format(plan.DayLayout))
			}
			st.StageNumber = last.StageNumber + 1
		}
		return tx.Create(st).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apperr.Conflict("stage number already taken for plan %d, retry", in.PlanID)
	}
	if _, ok := apperr.KindOf(err); ok {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("create stage: %w", err)
	}
	m.log.Info("stage created", zap.Uint("stage_id", st.ID), zap.Uint("plan_id", st.PlanID), zap.Int("number", st.StageNumber))
	return st, nil
}

// Apply edits a stage. Date edits keep the stage strictly between its
// neighbours. Setting IsCompleted goes through Complete; reopening a
// completed stage is rejected.
func (m *Manager) Apply(ctx context.Context, stageID uint, u Update) (*plan.Stage, error) {
	st, err := m.plans.Stage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if u.IsCompleted != nil && !*u.IsCompleted && st.IsCompleted {
		return nil, apperr.Conflict("stage %d is completed and cannot be reopened", stageID)
	}

	updates := map[string]any{}
	if u.Title != nil {
		updates["title"] = *u.Title
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.CigaretteLimit != nil {
		if *u.CigaretteLimit < 0 {
			return nil, apperr.OutOfRange("cigarette_limit must be non-negative")
		}
		updates["cigarette_limit"] = *u.CigaretteLimit
	}
	if u.StartDate != nil || u.EndDate != nil {
		start, end := plan.Day(st.StartDate), plan.Day(st.EndDate)
		if u.StartDate != nil {
			start = plan.Day(*u.StartDate)
		}
		if u.EndDate != nil {
			end = plan.Day(*u.EndDate)
		}
		if err := m.checkWindow(ctx, st, start, end); err != nil {
			return nil, err
		}
		updates["start_date"] = start
		updates["end_date"] = end
	}
	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		if err := m.db.WithContext(ctx).Model(&plan.Stage{}).Where("id = ?", stageID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update stage %d: %w", stageID, err)
		}
	}
	if u.IsCompleted != nil && *u.IsCompleted {
		if _, err := m.Complete(ctx, stageID); err != nil {
			return nil, err
		}
	}
	return m.plans.Stage(ctx, stageID)
}

func (m *Manager) checkWindow(ctx context.Context, st *plan.Stage, start, end time.Time) error {
	if !start.Before(end) {
		return apperr.OutOfRange("start_date must be before end_date").
			WithDetail("start_date", start.Format(plan.DayLayout)).
			WithDetail("end_date", end.Format(plan.DayLayout))
	}
	var neighbours []plan.Stage
	if err := m.db.WithContext(ctx).
		Where("plan_id = ? AND stage_number IN ?", st.PlanID, []int{st.StageNumber - 1, st.StageNumber + 1}).
		Find(&neighbours).Error; err != nil {
		return fmt.Errorf("load neighbouring stages: %w", err)
	}
	for _, n := range neighbours {
		if n.StageNumber < st.StageNumber && !start.After(plan.Day(n.EndDate)) {
			return apperr.OutOfRange("stage must start after the previous stage ends").
				WithDetail("start_date", start.Format(plan.DayLayout)).
				WithDetail("previous_end_date", plan.Day(n.EndDate).Format(plan.DayLayout))
		}
		if n.StageNumber > st.StageNumber && !end.Before(plan.Day(n.StartDate)) {
			return apperr.OutOfRange("stage must end before the next stage starts").
				WithDetail("end_date", end.Format(plan.DayLayout)).
				WithDetail("next_start_date", plan.Day(n.StartDate).Format(plan.DayLayout))
		}
	}
	return nil
}

// ListByPlan returns the plan's stages in order.
func (m *Manager) ListByPlan(ctx context.Context, planID uint) ([]plan.Stage, error) {
	var stages []plan.Stage
	if err := m.db.WithContext(ctx).Where("plan_id = ?", planID).
		Order("stage_number ASC").Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return stages, nil
}

// ListWithAttemptTotals returns the plan's stages, each with the owner's
// cigarette total for the stage's current attempt. Totals are fetched
// concurrently.
func (m *Manager) ListWithAttemptTotals(ctx context.Context, planID, ownerID uint) ([]Summary, error) {
	stages, err := m.ListByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(stages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range stages {
		i := i
		g.Go(func() error {
			st := stages[i]
			total, err := m.ledger.TotalSmokedInAttempt(gctx, st.ID, ownerID, st.AttemptNumber)
			if err != nil {
				return err
			}
			out[i] = Summary{
				Stage:                 st,
				TotalCigarettesSmoked: total,
				LimitStatus:           progress.Classify(total, st.CigaretteLimit, m.ratio),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
