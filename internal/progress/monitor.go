package progress

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"quitcoach/internal/logger"
	"quitcoach/internal/plan"
)

type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusBreach  Status = "BREACH"
)

const DefaultWarningRatio = 0.8

// Evaluation is the monitor's verdict for the current attempt of a stage.
type Evaluation struct {
	Status               Status `json:"status"`
	TotalSmokedInAttempt int    `json:"total_smoked_in_attempt"`
	Limit                *int   `json:"limit,omitempty"`
	Attempt              int    `json:"attempt"`
}

// WarningThreshold is the smallest total that counts as near the limit.
func WarningThreshold(limit int, ratio float64) int {
	return int(math.Ceil(ratio * float64(limit)))
}

// Classify maps an attempt total onto a status. A nil limit disables the
// monitor for the stage.
func Classify(total int, limit *int, ratio float64) Status {
	if limit == nil {
		return StatusOK
	}
	switch {
	case total > *limit:
		return StatusBreach
	case total >= WarningThreshold(*limit, ratio):
		return StatusWarning
	default:
		return StatusOK
	}
}

// CrossedWarning reports whether adding to a total moved it from below the
// warning threshold to at or above it. Repeated submissions inside the
// warning band do not re-notify.
func CrossedWarning(before, after int, limit *int, ratio float64) bool {
	if limit == nil {
		return false
	}
	threshold := WarningThreshold(*limit, ratio)
	return before < threshold && after >= threshold
}

// Monitor evaluates cumulative consumption within the current attempt.
type Monitor struct {
	ledger *Ledger
	ratio  float64
	log    *zap.Logger
}

func NewMonitor(ledger *Ledger, ratio float64, log *zap.Logger) *Monitor {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultWarningRatio
	}
	return &Monitor{ledger: ledger, ratio: ratio, log: logger.OrNop(log).Named("monitor")}
}

func (m *Monitor) Ratio() float64 { return m.ratio }

// Evaluate sums the user's entries for the stage's current attempt and
// classifies the total.
func (m *Monitor) Evaluate(ctx context.Context, st *plan.Stage, userID uint) (Evaluation, error) {
	total, err := m.ledger.TotalSmokedInAttempt(ctx, st.ID, userID, st.AttemptNumber)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate stage %d: %w", st.ID, err)
	}
	ev := Evaluation{
		Status:               Classify(total, st.CigaretteLimit, m.ratio),
		TotalSmokedInAttempt: total,
		Limit:                st.CigaretteLimit,
		Attempt:              st.AttemptNumber,
	}
	if ev.Status != StatusOK {
		m.log.Info("limit status",
			zap.Uint("stage_id", st.ID), zap.Uint("user_id", userID),
			zap.String("status", string(ev.Status)), zap.Int("total", total), zap.Int("attempt", st.AttemptNumber))
	}
	return ev, nil
}
