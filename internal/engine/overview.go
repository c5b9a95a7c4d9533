package engine

import (
	"context"

	"quitcoach/internal/auth"
	"quitcoach/internal/progress"
	"quitcoach/internal/stage"
	"quitcoach/internal/user"
)

// GetProgress returns one entry to its owner, the plan's coach or an admin.
func (s *Service) GetProgress(ctx context.Context, actor auth.Actor, id uint) (*progress.Progress, error) {
	entry, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	_, p, err := s.plans.StageWithPlan(ctx, entry.StageID)
	if err != nil {
		return nil, err
	}
	res := planResource(p)
	res.OwnerID = entry.UserID
	if err := s.authorize(actor, auth.ActionProgressRead, res); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListProgress returns the entries visible to actor: admins see every
// entry, coaches the entries of the users they coach, users their own.
func (s *Service) ListProgress(ctx context.Context, actor auth.Actor) ([]progress.Progress, error) {
	switch actor.Role {
	case user.RoleAdmin:
		return s.ledger.All(ctx)
	case user.RoleCoach:
		ids, err := s.plans.CoachedUserIDs(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		return s.ledger.ByUsers(ctx, ids)
	default:
		return s.ledger.ByUser(ctx, actor.UserID)
	}
}

type PlanProgress struct {
	PlanID          uint   `json:"plan_id"`
	PlanName        string `json:"plan_name"`
	TotalStages     int64  `json:"total_stages"`
	CompletedStages int64  `json:"completed_stages"`
	ProgressPercent int    `json:"progress_percent"`
}

// PlanProgress reports the share of the plan's stages that are completed.
func (s *Service) PlanProgress(ctx context.Context, actor auth.Actor, planID uint) (*PlanProgress, error) {
	p, err := s.plans.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionPlanRead, planResource(p)); err != nil {
		return nil, err
	}
	total, done, err := s.plans.StageCounts(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &PlanProgress{
		PlanID:          p.ID,
		PlanName:        p.Name,
		TotalStages:     total,
		CompletedStages: done,
		ProgressPercent: stage.Percent(done, total),
	}, nil
}

type UserProgress struct {
	UserID                 uint           `json:"user_id"`
	OverallProgressPercent int            `json:"overall_progress_percent"`
	Plans                  []PlanProgress `json:"plans"`
}

// UserProgress averages plan progress over every plan the user owns. A user
// without plans is at 0%.
func (s *Service) UserProgress(ctx context.Context, actor auth.Actor, userID uint) (*UserProgress, error) {
	res, err := s.userResource(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionStatsRead, res); err != nil {
		return nil, err
	}
	plans, err := s.plans.PlansOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &UserProgress{UserID: userID, Plans: make([]PlanProgress, 0, len(plans))}
	var sum int
	for _, p := range plans {
		total, done, err := s.plans.StageCounts(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		pct := stage.Percent(done, total)
		sum += pct
		out.Plans = append(out.Plans, PlanProgress{
			PlanID:          p.ID,
			PlanName:        p.Name,
			TotalStages:     total,
			CompletedStages: done,
			ProgressPercent: pct,
		})
	}
	out.OverallProgressPercent = stage.Percent(int64(sum), int64(100*len(plans)))
	return out, nil
}

// StageTaskProgress reports the plan owner's checklist progress for the
// stage's current attempt.
func (s *Service) StageTaskProgress(ctx context.Context, actor auth.Actor, stageID uint) (stage.TaskProgress, error) {
	st, p, err := s.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return stage.TaskProgress{}, err
	}
	if err := s.authorize(actor, auth.ActionStageRead, planResource(p)); err != nil {
		return stage.TaskProgress{}, err
	}
	return s.stages.TaskProgress(ctx, st, p.UserID)
}
