package badge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quitcoach/internal/apperr"
	"quitcoach/internal/logger"
	"quitcoach/internal/user"
)

// MetricSource resolves a user's current metric values by name.
type MetricSource interface {
	Metrics(ctx context.Context, userID uint) (map[string]float64, error)
}

type AwardNotifier interface {
	BadgeAwarded(ctx context.Context, userID uint, b *Badge) error
}

// Progress is how far a user is from an unearned badge.
type Progress struct {
	BadgeID         uint    `json:"badge_id"`
	Name            string  `json:"name"`
	Tier            string  `json:"tier,omitempty"`
	ImageURL        string  `json:"url_image,omitempty"`
	Condition       string  `json:"condition"`
	CurrentValue    float64 `json:"current_value"`
	TargetValue     float64 `json:"target_value"`
	ProgressPercent int     `json:"progress_percent"`
}

// WithStatus is a badge definition annotated for one user.
type WithStatus struct {
	Badge
	Earned bool `json:"earned"`
}

type LeaderboardEntry struct {
	UserID   uint    `json:"user_id"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

const (
	BoardPoints      = "points"
	BoardBadgeCount  = "badge_count"
	BoardMoneySaved  = "money_saved"
	BoardNoSmokeDays = "no_smoke_days"
)

// Evaluator awards badges whose conditions a user's metrics satisfy.
type Evaluator struct {
	db       *gorm.DB
	metrics  MetricSource
	notifier AwardNotifier
	log      *zap.Logger
}

func NewEvaluator(db *gorm.DB, metrics MetricSource, notifier AwardNotifier, log *zap.Logger) *Evaluator {
	return &Evaluator{db: db, metrics: metrics, notifier: notifier, log: logger.OrNop(log).Named("badge")}
}

// Define stores a new badge. The condition must parse.
func (e *Evaluator) Define(ctx context.Context, b *Badge) error {
	if _, err := ParseCondition(b.Condition); err != nil {
		return apperr.Unprocessable("%v", err).WithDetail("condition", b.Condition)
	}
	if err := e.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create badge: %w", err)
	}
	return nil
}

func (e *Evaluator) unearned(ctx context.Context, userID uint) ([]Badge, error) {
	var badges []Badge
	earned := e.db.Model(&UserBadge{}).Select("badge_id").Where("user_id = ?", userID)
	if err := e.db.WithContext(ctx).
		Where("id NOT IN (?)", earned).
		Order("id ASC").
		Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("load unearned badges: %w", err)
	}
	return badges, nil
}

// EvaluateAndAward grants every unearned badge the user now qualifies for
// and returns the newly created awards. Conditions that do not parse or name
// an unknown metric are skipped. An award that already exists is a no-op.
func (e *Evaluator) EvaluateAndAward(ctx context.Context, userID uint) ([]UserBadge, error) {
	badges, err := e.unearned(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(badges) == 0 {
		return nil, nil
	}
	metrics, err := e.metrics.Metrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	var awarded []UserBadge
	for i := range badges {
		b := &badges[i]
		cond, ok := b.Expr()
		if !ok {
			e.log.Warn("skipping badge with unparseable condition",
				zap.Uint("badge_id", b.ID), zap.String("condition", b.Condition))
			continue
		}
		value, ok := metrics[cond.Metric]
		if !ok {
			e.log.Warn("skipping badge with unknown metric",
				zap.Uint("badge_id", b.ID), zap.String("metric", cond.Metric))
			continue
		}
		if !cond.Satisfied(value) {
			continue
		}
		ub := UserBadge{UserID: userID, BadgeID: b.ID, DateAwarded: time.Now()}
		res := e.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ub)
		if res.Error != nil {
			return awarded, fmt.Errorf("award badge %d: %w", b.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		awarded = append(awarded, ub)
		e.log.Info("badge awarded", zap.Uint("user_id", userID), zap.Uint("badge_id", b.ID), zap.String("name", b.Name))
		if e.notifier != nil {
			if err := e.notifier.BadgeAwarded(ctx, userID, b); err != nil {
				e.log.Warn("badge notification failed", zap.Uint("badge_id", b.ID), zap.Error(err))
			}
		}
	}
	return awarded, nil
}

// PercentToward is floor(current/target*100) capped at 100.
func PercentToward(current, target float64) int {
	if target <= 0 {
		return 0
	}
	return int(math.Min(100, math.Floor(current/target*100)))
}

// ProgressToward lists progress for each unearned badge whose condition
// resolves against the user's metrics.
func (e *Evaluator) ProgressToward(ctx context.Context, userID uint) ([]Progress, error) {
	badges, err := e.unearned(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics, err := e.metrics.Metrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	out := make([]Progress, 0, len(badges))
	for _, b := range badges {
		cond, ok := b.Expr()
		if !ok || cond.Threshold <= 0 {
			continue
		}
		value, ok := metrics[cond.Metric]
		if !ok {
			continue
		}
		out = append(out, Progress{
			BadgeID:         b.ID,
			Name:            b.Name,
			Tier:            b.Tier,
			ImageURL:        b.ImageURL,
			Condition:       b.Condition,
			CurrentValue:    math.Round(value),
			TargetValue:     cond.Threshold,
			ProgressPercent: PercentToward(value, cond.Threshold),
		})
	}
	return out, nil
}

func (e *Evaluator) List(ctx context.Context) ([]Badge, error) {
	var badges []Badge
	if err := e.db.WithContext(ctx).Order("id ASC").Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return badges, nil
}

// ListWithStatus returns every badge flagged with whether userID earned it.
func (e *Evaluator) ListWithStatus(ctx context.Context, userID uint) ([]WithStatus, error) {
	badges, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	var earnedIDs []uint
	if err := e.db.WithContext(ctx).Model(&UserBadge{}).
		Where("user_id = ?", userID).Pluck("badge_id", &earnedIDs).Error; err != nil {
		return nil, fmt.Errorf("load earned badges: %w", err)
	}
	earned := make(map[uint]bool, len(earnedIDs))
	for _, id := range earnedIDs {
		earned[id] = true
	}
	out := make([]WithStatus, len(badges))
	for i, b := range badges {
		out[i] = WithStatus{Badge: b, Earned: earned[b.ID]}
	}
	return out, nil
}

// Leaderboard ranks users by badge points, badge count, money saved or
// longest smoke-free streak. Unknown kinds rank by points.
func (e *Evaluator) Leaderboard(ctx context.Context, kind string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	switch kind {
	case BoardMoneySaved:
		return e.metricBoard(ctx, "total_money_saved", limit)
	case BoardNoSmokeDays:
		return e.metricBoard(ctx, "consecutive_no_smoke_days", limit)
	}

	score := "SUM(badges.point_value)"
	if kind == BoardBadgeCount {
		score = "COUNT(*)"
	}
	var out []LeaderboardEntry
	if err := e.db.WithContext(ctx).Table("user_badges").
		Select("user_badges.user_id AS user_id, users.username AS username, " + score + " AS score").
		Joins("JOIN badges ON badges.id = user_badges.badge_id").
		Joins("JOIN users ON users.id = user_badges.user_id").
		Group("user_badges.user_id, users.username").
		Order("score DESC").Order("user_badges.user_id ASC").
		Limit(limit).
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", kind, err)
	}
	return out, nil
}

func (e *Evaluator) metricBoard(ctx context.Context, metric string, limit int) ([]LeaderboardEntry, error) {
	var users []user.User
	if err := e.db.WithContext(ctx).Where("role = ?", user.RoleUser).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		m, err := e.metrics.Metrics(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, LeaderboardEntry{UserID: u.ID, Username: u.Username, Score: math.Round(m[metric])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
