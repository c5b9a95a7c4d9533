// Package stats derives a user's quit statistics from the full progress
// ledger. Nothing is cached; every call rescans the user's rows.
package stats

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"quitcoach/internal/badge"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
)

// Stats is the derived view of a user's history. Field names double as
// badge condition metrics.
type Stats struct {
	TotalDaysNoSmoke       int     `json:"total_days_no_smoke"`
	TotalMoneySaved        float64 `json:"total_money_saved"`
	DaysSinceStart         int     `json:"days_since_start"`
	ConsecutiveNoSmokeDays int     `json:"consecutive_no_smoke_days"`
	TotalBadgesEarned      int     `json:"total_badges_earned"`
}

// Metrics exposes the stats under their metric names.
func (s Stats) Metrics() map[string]float64 {
	return map[string]float64{
		"total_days_no_smoke":       float64(s.TotalDaysNoSmoke),
		"total_money_saved":         s.TotalMoneySaved,
		"days_since_start":          float64(s.DaysSinceStart),
		"consecutive_no_smoke_days": float64(s.ConsecutiveNoSmokeDays),
		"total_badges_earned":       float64(s.TotalBadgesEarned),
	}
}

// Compute walks rows in date order. The reported streak is the longest run
// of consecutive smoke-free calendar days anywhere in the history.
func Compute(rows []progress.Progress, today time.Time, badgesEarned int) Stats {
	s := Stats{TotalBadgesEarned: badgesEarned}
	if len(rows) == 0 {
		return s
	}

	var (
		prev    time.Time
		current int
	)
	for i, r := range rows {
		d := plan.Day(r.Date)
		if r.CigarettesSmoked == 0 {
			s.TotalDaysNoSmoke++
			if i > 0 && plan.DaysBetween(prev, d) == 1 {
				current++
			} else {
				current = 1
			}
			if current > s.ConsecutiveNoSmokeDays {
				s.ConsecutiveNoSmokeDays = current
			}
		} else {
			current = 0
		}
		prev = d
		s.TotalMoneySaved += r.MoneySaved
	}

	s.DaysSinceStart = plan.DaysBetween(rows[0].Date, today) + 1
	if s.DaysSinceStart < 0 {
		s.DaysSinceStart = 0
	}
	return s
}

// Aggregator computes Stats for a user from the store.
type Aggregator struct {
	ledger *progress.Ledger
	db     *gorm.DB
	loc    *time.Location
	now    func() time.Time
}

func NewAggregator(db *gorm.DB, ledger *progress.Ledger, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{ledger: ledger, db: db, loc: loc, now: time.Now}
}

func (a *Aggregator) ComputeStats(ctx context.Context, userID uint) (Stats, error) {
	rows, err := a.ledger.ByUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	var badges int64
	if err := a.db.WithContext(ctx).Model(&badge.UserBadge{}).
		Where("user_id = ?", userID).Count(&badges).Error; err != nil {
		return Stats{}, fmt.Errorf("count badges: %w", err)
	}
	return Compute(rows, plan.Today(a.now(), a.loc), int(badges)), nil
}

// Metrics satisfies badge.MetricSource.
func (a *Aggregator) Metrics(ctx context.Context, userID uint) (map[string]float64, error) {
	s, err := a.ComputeStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Metrics(), nil
}
