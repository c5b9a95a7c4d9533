package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quitcoach/internal/apperr"
	"quitcoach/internal/auth"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
	"quitcoach/internal/stats"
)

// SubmitInput is one day's entry. UserID is only honoured for coaches and
// admins recording on the plan owner's behalf.
type SubmitInput struct {
	StageID          uint
	UserID           *uint
	Date             time.Time
	CigarettesSmoked int
	HealthStatus     string
}

type SubmitResult struct {
	Progress   *progress.Progress  `json:"progress"`
	Evaluation progress.Evaluation `json:"evaluation"`
	Retried    bool                `json:"retried"`
}

// SubmitProgress records an entry and reacts to the resulting attempt total:
// a breach restarts the stage, first entry into the warning band notifies
// the user. Nothing after the insert can fail the call.
func (s *Service) SubmitProgress(ctx context.Context, actor auth.Actor, in SubmitInput) (*SubmitResult, error) {
	st, p, err := s.plans.StageWithPlan(ctx, in.StageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionProgressCreate, planResource(p)); err != nil {
		return nil, err
	}
	if actor.UserID != p.UserID && in.UserID != nil && *in.UserID != p.UserID {
		return nil, apperr.Unprocessable("user %d does not own plan %d", *in.UserID, p.ID).
			WithDetail("plan_owner_id", p.UserID)
	}

	entry, err := s.ledger.RecordEntry(ctx, st, progress.Entry{
		UserID:           p.UserID,
		Date:             in.Date,
		CigarettesSmoked: in.CigarettesSmoked,
		HealthStatus:     in.HealthStatus,
	})
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{Progress: entry}
	res.Evaluation, res.Retried = s.react(ctx, st, entry, entry.CigarettesSmoked)
	s.followUps(ctx, entry.UserID)
	return res, nil
}

// react evaluates the attempt entry belongs to. added is how much this write
// raised the total, used to detect the first crossing into the warning band.
func (s *Service) react(ctx context.Context, st *plan.Stage, entry *progress.Progress, added int) (progress.Evaluation, bool) {
	attemptStage := *st
	attemptStage.AttemptNumber = entry.AttemptNumber

	ev, err := s.monitor.Evaluate(ctx, &attemptStage, entry.UserID)
	if err != nil {
		s.log.Error("limit evaluation failed", zap.Uint("progress_id", entry.ID), zap.Error(err))
		return ev, false
	}

	switch ev.Status {
	case progress.StatusBreach:
		won, err := s.stages.Retry(ctx, st.ID, entry.AttemptNumber, entry.UserID)
		if err != nil {
			s.log.Error("stage retry failed", zap.Uint("stage_id", st.ID), zap.Int("attempt", entry.AttemptNumber), zap.Error(err))
			return ev, false
		}
		return ev, won
	case progress.StatusWarning:
		before := ev.TotalSmokedInAttempt - added
		if s.limits != nil && progress.CrossedWarning(before, ev.TotalSmokedInAttempt, st.CigaretteLimit, s.monitor.Ratio()) {
			if err := s.limits.LimitWarning(ctx, entry.UserID, entry.ID, &attemptStage, ev.TotalSmokedInAttempt); err != nil {
				s.log.Warn("limit warning notification failed", zap.Uint("progress_id", entry.ID), zap.Error(err))
			}
		}
	}
	return ev, false
}

// UpdateProgress lets the owner amend an entry. The limit is re-checked only
// while the entry still belongs to the stage's current attempt.
func (s *Service) UpdateProgress(ctx context.Context, actor auth.Actor, id uint, c progress.Changes) (*SubmitResult, error) {
	entry, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionProgressUpdate, auth.Resource{OwnerID: entry.UserID}); err != nil {
		return nil, err
	}
	st, err := s.plans.Stage(ctx, entry.StageID)
	if err != nil {
		return nil, err
	}

	before := entry.CigarettesSmoked
	updated, err := s.ledger.UpdateEntry(ctx, st, entry, c)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{Progress: updated}
	if updated.AttemptNumber == st.AttemptNumber && !st.IsCompleted {
		res.Evaluation, res.Retried = s.react(ctx, st, updated, updated.CigarettesSmoked-before)
	}
	s.followUps(ctx, updated.UserID)
	return res, nil
}

func (s *Service) DeleteProgress(ctx context.Context, actor auth.Actor, id uint) error {
	entry, err := s.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, auth.ActionProgressDelete, auth.Resource{OwnerID: entry.UserID}); err != nil {
		return err
	}
	if err := s.ledger.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("progress deleted", zap.Uint("progress_id", id), zap.Uint("by", actor.UserID))
	return nil
}

// ListStageProgress returns every entry of a stage, prior attempts included.
func (s *Service) ListStageProgress(ctx context.Context, actor auth.Actor, stageID uint) ([]progress.Progress, error) {
	_, p, err := s.plans.StageWithPlan(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionProgressRead, planResource(p)); err != nil {
		return nil, err
	}
	return s.ledger.ByStage(ctx, stageID)
}

// RecordBaseline stores the caller's smoking profile.
func (s *Service) RecordBaseline(ctx context.Context, actor auth.Actor, cigarettesPerDay int, costPerPack float64) (*progress.SmokingStatus, error) {
	b := &progress.SmokingStatus{UserID: actor.UserID, CigarettesPerDay: cigarettesPerDay, CostPerPack: costPerPack}
	if err := s.ledger.RecordBaseline(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Stats(ctx context.Context, actor auth.Actor, userID uint) (stats.Stats, error) {
	res, err := s.userResource(ctx, actor, userID)
	if err != nil {
		return stats.Stats{}, err
	}
	if err := s.authorize(actor, auth.ActionStatsRead, res); err != nil {
		return stats.Stats{}, err
	}
	return s.stats.ComputeStats(ctx, userID)
}

// ConsecutiveNoSmoke reports the user's longest smoke-free streak.
func (s *Service) ConsecutiveNoSmoke(ctx context.Context, actor auth.Actor, userID uint) (int, error) {
	st, err := s.Stats(ctx, actor, userID)
	if err != nil {
		return 0, err
	}
	return st.ConsecutiveNoSmokeDays, nil
}

type PlanSavings struct {
	PlanID          uint    `json:"plan_id"`
	PlanName        string  `json:"plan_name"`
	TotalMoneySaved float64 `json:"total_money_saved"`
}

// PlanMoneySaved totals the plan owner's savings over all stages of a plan.
func (s *Service) PlanMoneySaved(ctx context.Context, actor auth.Actor, planID uint) (*PlanSavings, error) {
	p, err := s.plans.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, auth.ActionPlanRead, planResource(p)); err != nil {
		return nil, err
	}
	ids, err := s.plans.StageIDs(ctx, planID)
	if err != nil {
		return nil, err
	}
	total, err := s.ledger.SumMoneySaved(ctx, p.UserID, ids)
	if err != nil {
		return nil, err
	}
	return &PlanSavings{PlanID: p.ID, PlanName: p.Name, TotalMoneySaved: total}, nil
}
