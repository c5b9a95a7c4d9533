// Package notify records notifications for retries, limit warnings,
// completions and badge awards, and fans them out over redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"quitcoach/internal/badge"
	"quitcoach/internal/logger"
	"quitcoach/internal/plan"
)

// Publisher pushes a stored notification to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

type Emitter struct {
	db  *gorm.DB
	pub Publisher
	log *zap.Logger
}

// NewEmitter returns an emitter. pub may be nil.
func NewEmitter(db *gorm.DB, pub Publisher, log *zap.Logger) *Emitter {
	return &Emitter{db: db, pub: pub, log: logger.OrNop(log).Named("notify")}
}

func (e *Emitter) emit(ctx context.Context, n *Notification, payload map[string]any) error {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		n.Payload = datatypes.JSON(raw)
	}
	if err := e.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create %s notification: %w", n.Type, err)
	}
	e.log.Debug("notification created", zap.Uint("user_id", n.UserID), zap.String("type", string(n.Type)))
	if e.pub != nil {
		if err := e.pub.Publish(ctx, n); err != nil {
			e.log.Warn("publish notification failed", zap.Uint("id", n.ID), zap.Error(err))
		}
	}
	return nil
}

func (e *Emitter) StageRetry(ctx context.Context, userID uint, st *plan.Stage) error {
	return e.emit(ctx, &Notification{
		UserID:  userID,
		Type:    TypeStageRetry,
		Message: fmt.Sprintf("You went over the cigarette limit for stage %d. Attempt %d starts now.", st.StageNumber, st.AttemptNumber),
	}, map[string]any{"stage_id": st.ID, "attempt_number": st.AttemptNumber})
}

func (e *Emitter) CoachAlert(ctx context.Context, coachID, userID uint, st *plan.Stage) error {
	return e.emit(ctx, &Notification{
		UserID:  coachID,
		Type:    TypeCoachAlert,
		Message: fmt.Sprintf("User %d exceeded the limit of stage %d and restarted it (attempt %d).", userID, st.StageNumber, st.AttemptNumber),
	}, map[string]any{"stage_id": st.ID, "user_id": userID, "attempt_number": st.AttemptNumber})
}

func (e *Emitter) LimitWarning(ctx context.Context, userID, progressID uint, st *plan.Stage, total int) error {
	limit := 0
	if st.CigaretteLimit != nil {
		limit = *st.CigaretteLimit
	}
	return e.emit(ctx, &Notification{
		UserID:     userID,
		ProgressID: &progressID,
		Type:       TypeLimitWarning,
		Message:    fmt.Sprintf("You have smoked %d of %d cigarettes allowed in stage %d.", total, limit, st.StageNumber),
	}, map[string]any{"stage_id": st.ID, "total": total, "limit": limit})
}

func (e *Emitter) StageCompleted(ctx context.Context, userID uint, st *plan.Stage) error {
	return e.emit(ctx, &Notification{
		UserID:  userID,
		Type:    TypeStageCompleted,
		Message: fmt.Sprintf("Stage %d is complete. Well done!", st.StageNumber),
	}, map[string]any{"stage_id": st.ID})
}

func (e *Emitter) BadgeAwarded(ctx context.Context, userID uint, b *badge.Badge) error {
	return e.emit(ctx, &Notification{
		UserID:  userID,
		Type:    TypeBadgeAwarded,
		Message: fmt.Sprintf("You earned the %q badge.", b.Name),
	}, map[string]any{"badge_id": b.ID})
}

// List returns a user's notifications, newest first.
func (e *Emitter) List(ctx context.Context, userID uint, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Notification
	if err := e.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}
