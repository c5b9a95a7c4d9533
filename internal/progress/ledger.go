package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"quitcoach/internal/apperr"
	"quitcoach/internal/logger"
	"quitcoach/internal/plan"
)

const DefaultCigarettesPerPack = 20

// Entry is a validated request to record one day.
type Entry struct {
	UserID           uint
	Date             time.Time
	CigarettesSmoked int
	HealthStatus     string
}

// Changes lists the fields an owner may amend. Nil means unchanged.
type Changes struct {
	CigarettesSmoked *int
	HealthStatus     *string
	Date             *time.Time
}

// Ledger persists daily entries and prices them against the user's baseline.
type Ledger struct {
	db       *gorm.DB
	packSize int
	log      *zap.Logger
}

func NewLedger(db *gorm.DB, packSize int, log *zap.Logger) *Ledger {
	if packSize <= 0 {
		packSize = DefaultCigarettesPerPack
	}
	return &Ledger{db: db, packSize: packSize, log: logger.OrNop(log).Named("ledger")}
}

// MoneySaved prices a day against the baseline: the cost of the baseline
// daily consumption minus the cost of what was smoked, floored at zero.
func MoneySaved(baseline SmokingStatus, smoked, packSize int) float64 {
	if packSize <= 0 {
		packSize = DefaultCigarettesPerPack
	}
	perCigarette := baseline.CostPerPack / float64(packSize)
	expected := float64(baseline.CigarettesPerDay) * perCigarette
	actual := float64(smoked) * perCigarette
	return math.Max(expected-actual, 0)
}

func (l *Ledger) RecordBaseline(ctx context.Context, s *SmokingStatus) error {
	if s.CigarettesPerDay < 0 || s.CostPerPack < 0 {
		return apperr.OutOfRange("baseline values must be non-negative")
	}
	if err := l.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("record baseline: %w", err)
	}
	return nil
}

// Baseline returns the user's most recent smoking profile.
func (l *Ledger) Baseline(ctx context.Context, userID uint) (*SmokingStatus, error) {
	var s SmokingStatus
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("no baseline smoking profile for user %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	return &s, nil
}

// RecordEntry validates and stores one day for st. The created row carries
// the stage's attempt number as read inside the insert transaction.
func (l *Ledger) RecordEntry(ctx context.Context, st *plan.Stage, e Entry) (*Progress, error) {
	day := plan.Day(e.Date)
	if err := l.validate(st, day, e.CigarettesSmoked); err != nil {
		return nil, err
	}
	baseline, err := l.Baseline(ctx, e.UserID)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		UserID:           e.UserID,
		StageID:          st.ID,
		Date:             day,
		CigarettesSmoked: e.CigarettesSmoked,
		HealthStatus:     e.HealthStatus,
		MoneySaved:       MoneySaved(*baseline, e.CigarettesSmoked, l.packSize),
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current plan.Stage
		if err := tx.Select("id", "attempt_number").First(&current, st.ID).Error; err != nil {
			return err
		}
		p.AttemptNumber = current.AttemptNumber
		return tx.Create(p).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apperr.Conflict("progress for %s already recorded in this stage", day.Format(plan.DayLayout)).
			WithDetail("date", day.Format(plan.DayLayout))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("stage %d not found", st.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("record entry: %w", err)
	}
	l.log.Debug("entry recorded",
		zap.Uint("user_id", p.UserID), zap.Uint("stage_id", p.StageID),
		zap.String("date", day.Format(plan.DayLayout)), zap.Int("attempt", p.AttemptNumber))
	return p, nil
}

// UpdateEntry applies owner changes to p and re-prices it. The attempt number
// is never touched.
func (l *Ledger) UpdateEntry(ctx context.Context, st *plan.Stage, p *Progress, c Changes) (*Progress, error) {
	smoked := p.CigarettesSmoked
	if c.CigarettesSmoked != nil {
		smoked = *c.CigarettesSmoked
	}
	day := p.Date
	if c.Date != nil {
		day = plan.Day(*c.Date)
	}
	health := p.HealthStatus
	if c.HealthStatus != nil {
		health = *c.HealthStatus
	}
	if err := l.validate(st, day, smoked); err != nil {
		return nil, err
	}
	baseline, err := l.Baseline(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"cigarettes_smoked": smoked,
		"health_status":     health,
		"date":              day,
		"money_saved":       MoneySaved(*baseline, smoked, l.packSize),
	}
	err = l.db.WithContext(ctx).Model(p).Updates(updates).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apperr.Conflict("progress for %s already recorded in this stage", day.Format(plan.DayLayout)).
			WithDetail("date", day.Format(plan.DayLayout))
	}
	if err != nil {
		return nil, fmt.Errorf("update entry %d: %w", p.ID, err)
	}
	return l.Get(ctx, p.ID)
}

func (l *Ledger) validate(st *plan.Stage, day time.Time, smoked int) error {
	if smoked < 0 {
		return apperr.OutOfRange("cigarettes_smoked must be non-negative").
			WithDetail("cigarettes_smoked", smoked)
	}
	if !st.Contains(day) {
		return apperr.OutOfRange("date %s is outside the stage window", day.Format(plan.DayLayout)).
			WithDetail("date", day.Format(plan.DayLayout)).
			WithDetail("window_start", plan.Day(st.StartDate).Format(plan.DayLayout)).
			WithDetail("window_end", plan.Day(st.EndDate).Format(plan.DayLayout))
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id uint) (*Progress, error) {
	var p Progress
	if err := l.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("progress %d not found", id)
		}
		return nil, fmt.Errorf("load progress %d: %w", id, err)
	}
	return &p, nil
}

func (l *Ledger) Delete(ctx context.Context, id uint) error {
	res := l.db.WithContext(ctx).Delete(&Progress{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete progress %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("progress %d not found", id)
	}
	return nil
}

// ByStage lists every entry of a stage, all attempts, oldest first.
func (l *Ledger) ByStage(ctx context.Context, stageID uint) ([]Progress, error) {
	var rows []Progress
	if err := l.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("date ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stage progress: %w", err)
	}
	return rows, nil
}

// ByUser lists every entry of a user across stages, oldest first.
func (l *Ledger) ByUser(ctx context.Context, userID uint) ([]Progress, error) {
	var rows []Progress
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user progress: %w", err)
	}
	return rows, nil
}

// SumMoneySaved totals money saved by userID across the given stages.
func (l *Ledger) SumMoneySaved(ctx context.Context, userID uint, stageIDs []uint) (float64, error) {
	if len(stageIDs) == 0 {
		return 0, nil
	}
	var total float64
	if err := l.db.WithContext(ctx).Model(&Progress{}).
		Select("COALESCE(SUM(money_saved), 0)").
		Where("user_id = ? AND stage_id IN ?", userID, stageIDs).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum money saved: %w", err)
	}
	return total, nil
}

// TotalSmokedInAttempt sums cigarettes for one attempt of a stage. Rows from
// other attempts stay in the table and are simply not counted.
func (l *Ledger) TotalSmokedInAttempt(ctx context.Context, stageID, userID uint, attempt int) (int, error) {
	var total int
	if err := l.db.WithContext(ctx).Model(&Progress{}).
		Select("COALESCE(SUM(cigarettes_smoked), 0)").
		Where("stage_id = ? AND user_id = ? AND attempt_number = ?", stageID, userID, attempt).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum attempt total: %w", err)
	}
	return total, nil
}

// ByUsers lists the entries of the given users, oldest first. An empty id
// list yields no rows.
func (l *Ledger) ByUsers(ctx context.Context, userIDs []uint) ([]Progress, error) {
	if len(userIDs) == 0 {
		return []Progress{}, nil
	}
	var rows []Progress
	if err := l.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("date ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list progress of users: %w", err)
	}
	return rows, nil
}

func (l *Ledger) All(ctx context.Context) ([]Progress, error) {
	var rows []Progress
	if err := l.db.WithContext(ctx).
		Order("date ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return rows, nil
}
