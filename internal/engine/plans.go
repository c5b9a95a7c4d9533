package engine

import (
	"context"

	"go.uber.org/zap"

	"quitcoach/internal/apperr"
	"quitcoach/internal/auth"
	"quitcoach/internal/badge"
	"quitcoach/internal/plan"
	"quitcoach/internal/stage"
	"quitcoach/internal/user"
)

// CreatePlan stores a plan. Users plan for themselves; a coach creating a
// plan becomes its coach unless one is given.
func (s *Service) CreatePlan(ctx context.Context, actor auth.Actor, p *plan.QuitPlan) error {
	if p.UserID == 0 {
		p.UserID = actor.UserID
	}
	if err := s.authorize(actor, auth.ActionPlanCreate, auth.Resource{OwnerID: p.UserID}); err != nil {
		return err
	}
	if p.Name == "" {
		return apperr.Unprocessable("plan name is required")
	}
	if actor.Role == user.RoleCoach && p.CoachID == nil {
		coach := actor.UserID
		p.CoachID = &coach
	}
	p.StartDate = plan.Day(p.StartDate)
	p.TargetQuitDate = plan.Day(p.TargetQuitDate)
	if err := s.plans.CreatePlan(ctx, p); err != nil {
		return err
	}
	s.log.Info("plan created", zap.Uint("plan_id", p.ID), zap.Uint("user_id", p.UserID))
	return nil
}

func (s *Service) GetPlan(ctx context.Context, actor auth.Actor, id uint) (*plan.QuitPlan, error) {
	p, err := s.plans.Plan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionPlanRead, planResource(p)); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) CreateStage(ctx context.Context, actor auth.Actor, in stage.Input) (*plan.Stage, error) {
	p, err := s.plans.Plan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionStageCreate, planResource(p)); err != nil {
		return nil, err
	}
	return s.stages.Create(ctx, in)
}

func (s *Service) UpdateStage(ctx context.Context, actor auth.Actor, stageID uint, u stage.Update) (*plan.Stage, error) {
	_, p, err := s.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionStageUpdate, planResource(p)); err != nil {
		return nil, err
	}
	return s.stages.Apply(ctx, stageID, u)
}

func (s *Service) GetStage(ctx context.Context, actor auth.Actor, stageID uint) (*plan.Stage, error) {
	st, p, err := s.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionStageRead, planResource(p)); err != nil {
		return nil, err
	}
	return st, nil
}

// MyStages lists the stages of every plan the caller owns or coaches.
func (s *Service) MyStages(ctx context.Context, actor auth.Actor) ([]plan.Stage, error) {
	return s.plans.StagesFor(ctx, actor.UserID)
}

// DeleteStage removes a stage nobody has recorded progress against.
func (s *Service) DeleteStage(ctx context.Context, actor auth.Actor, stageID uint) error {
	_, p, err := s.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, auth.ActionStageDelete, planResource(p)); err != nil {
		return err
	}
	if err := s.stages.Delete(ctx, stageID); err != nil {
		return err
	}
	s.log.Info("stage deleted", zap.Uint("stage_id", stageID), zap.Uint("by", actor.UserID))
	return nil
}

// ListStages returns the plan's stages with the owner's current attempt
// totals and limit status.
func (s *Service) ListStages(ctx context.Context, actor auth.Actor, planID uint) ([]stage.Summary, error) {
	p, err := s.plans.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionStageRead, planResource(p)); err != nil {
		return nil, err
	}
	return s.stages.ListWithAttemptTotals(ctx, planID, p.UserID)
}

func (s *Service) CreateTask(ctx context.Context, actor auth.Actor, stageID uint, t *plan.Task) error {
	_, p, err := s.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, auth.ActionTaskCreate, planResource(p)); err != nil {
		return err
	}
	if t.Title == "" {
		return apperr.Unprocessable("task title is required")
	}
	t.StageID = stageID
	return s.plans.CreateTask(ctx, t)
}

// CompleteTask marks a task done for the stage's current attempt.
func (s *Service) CompleteTask(ctx context.Context, actor auth.Actor, taskID uint) (*plan.TaskResult, error) {
	t, err := s.plans.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	st, p, err := s.plans.StageWithPlan(ctx, t.StageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionTaskComplete, planResource(p)); err != nil {
		return nil, err
	}
	if st.IsCompleted {
		return nil, apperr.Conflict("stage %d is already completed", st.ID)
	}
	return s.plans.CompleteTask(ctx, actor.UserID, t, st.AttemptNumber)
}

// DefineBadge stores a new badge definition.
func (s *Service) DefineBadge(ctx context.Context, actor auth.Actor, b *badge.Badge) error {
	if err := s.authorize(actor, auth.ActionBadgeDefine, auth.Resource{}); err != nil {
		return err
	}
	return s.badges.Define(ctx, b)
}

func (s *Service) Badges(ctx context.Context) ([]badge.Badge, error) {
	return s.badges.List(ctx)
}

// UserBadges lists every badge with whether userID has earned it.
func (s *Service) UserBadges(ctx context.Context, actor auth.Actor, userID uint) ([]badge.WithStatus, error) {
	res, err := s.userResource(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionStatsRead, res); err != nil {
		return nil, err
	}
	return s.badges.ListWithStatus(ctx, userID)
}

// BadgeProgress reports how close the caller is to each unearned badge.
func (s *Service) BadgeProgress(ctx context.Context, actor auth.Actor) ([]badge.Progress, error) {
	return s.badges.ProgressToward(ctx, actor.UserID)
}

func (s *Service) Leaderboard(ctx context.Context, kind string, limit int) ([]badge.LeaderboardEntry, error) {
	return s.badges.Leaderboard(ctx, kind, limit)
}

// EvaluateBadges awards whatever the user now qualifies for.
func (s *Service) EvaluateBadges(ctx context.Context, userID uint) ([]badge.UserBadge, error) {
	return s.badges.EvaluateAndAward(ctx, userID)
}
