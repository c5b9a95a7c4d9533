// Package engine orchestrates a progress submission through the ledger,
// the limit monitor and the stage lifecycle, then schedules the follow-up
// work (badge evaluation, model training) that must not block the caller.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quitcoach/internal/apperr"
	"quitcoach/internal/auth"
	"quitcoach/internal/badge"
	"quitcoach/internal/jobs"
	"quitcoach/internal/logger"
	"quitcoach/internal/notify"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
	"quitcoach/internal/stage"
	"quitcoach/internal/stats"
	"quitcoach/internal/training"
	"quitcoach/internal/user"
)

// LimitNotifier is told when a user first reaches the warning band of a
// stage attempt.
type LimitNotifier interface {
	LimitWarning(ctx context.Context, userID, progressID uint, st *plan.Stage, total int) error
}

type Deps struct {
	Plans         *plan.Store
	Ledger        *progress.Ledger
	Monitor       *progress.Monitor
	Stages        *stage.Manager
	Stats         *stats.Aggregator
	Badges        *badge.Evaluator
	Notifications *notify.Emitter
	LimitNotifier LimitNotifier
	Authorizer    auth.Authorizer
	Trainer       training.Trigger
	Location      *time.Location
	Log           *zap.Logger
}

type Service struct {
	plans   *plan.Store
	ledger  *progress.Ledger
	monitor *progress.Monitor
	stages  *stage.Manager
	stats   *stats.Aggregator
	badges  *badge.Evaluator
	inbox   *notify.Emitter
	limits  LimitNotifier
	authz   auth.Authorizer
	trainer training.Trigger
	queue   jobs.Queue
	loc     *time.Location
	log     *zap.Logger
}

func New(d Deps) *Service {
	s := &Service{
		plans:   d.Plans,
		ledger:  d.Ledger,
		monitor: d.Monitor,
		stages:  d.Stages,
		stats:   d.Stats,
		badges:  d.Badges,
		inbox:   d.Notifications,
		limits:  d.LimitNotifier,
		authz:   d.Authorizer,
		trainer: d.Trainer,
		loc:     d.Location,
		log:     logger.OrNop(d.Log).Named("engine"),
	}
	if s.limits == nil && d.Notifications != nil {
		s.limits = d.Notifications
	}
	if s.authz == nil {
		s.authz = auth.RoleAuthorizer{}
	}
	if s.trainer == nil {
		s.trainer = training.Disabled{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// UseQueue routes follow-up work through q. Without a queue, follow-ups
// run inline.
func (s *Service) UseQueue(q jobs.Queue) {
	s.queue = q
}

// JobHandler executes queued follow-up jobs.
func (s *Service) JobHandler() jobs.Handler {
	return jobs.Mux{
		jobs.KindEvaluateBadges: func(ctx context.Context, j jobs.Job) error {
			_, err := s.badges.EvaluateAndAward(ctx, j.UserID)
			return err
		},
		jobs.KindTrainModel: func(ctx context.Context, j jobs.Job) error {
			return s.trainer.Notify(ctx, j.UserID)
		},
	}.Handle
}

func (s *Service) authorize(actor auth.Actor, action auth.Action, res auth.Resource) error {
	return s.authz.Authorize(actor, action, res).Err()
}

func planResource(p *plan.QuitPlan) auth.Resource {
	return auth.Resource{OwnerID: p.UserID, CoachID: p.CoachID}
}

// userResource describes userID as an authorization resource. A coach
// actor is recorded as CoachID only when they coach one of userID's plans.
func (s *Service) userResource(ctx context.Context, actor auth.Actor, userID uint) (auth.Resource, error) {
	res := auth.Resource{OwnerID: userID}
	if actor.Role != user.RoleCoach || actor.UserID == userID {
		return res, nil
	}
	ok, err := s.plans.Coaches(ctx, actor.UserID, userID)
	if err != nil {
		return res, err
	}
	if ok {
		coachID := actor.UserID
		res.CoachID = &coachID
	}
	return res, nil
}

// Location is the timezone calendar days are resolved in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// followUps schedules badge evaluation and training for userID. Failures
// are logged and never surface to the caller; if the queue rejects badge
// evaluation it runs inline so no write goes unevaluated.
func (s *Service) followUps(ctx context.Context, userID uint) {
	ctx = context.WithoutCancel(ctx)
	if s.queue == nil {
		if _, err := s.badges.EvaluateAndAward(ctx, userID); err != nil {
			s.log.Error("badge evaluation failed", zap.Uint("user_id", userID), zap.Error(err))
		}
		if err := s.trainer.Notify(ctx, userID); err != nil {
			s.log.Warn("training trigger failed", zap.Uint("user_id", userID), zap.Error(err))
		}
		return
	}
	if err := s.queue.Enqueue(ctx, jobs.NewJob(jobs.KindEvaluateBadges, userID)); err != nil {
		s.log.Warn("enqueue badge evaluation failed, running inline", zap.Uint("user_id", userID), zap.Error(err))
		if _, err := s.badges.EvaluateAndAward(ctx, userID); err != nil {
			s.log.Error("badge evaluation failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	if err := s.queue.Enqueue(ctx, jobs.NewJob(jobs.KindTrainModel, userID)); err != nil {
		s.log.Error("enqueue training failed", zap.Uint("user_id", userID), zap.Error(err))
	}
}

// Notifications lists the caller's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, actor auth.Actor, limit int) ([]notify.Notification, error) {
	if s.inbox == nil {
		return nil, apperr.NotFound("notifications are not enabled")
	}
	return s.inbox.List(ctx, actor.UserID, limit)
}
