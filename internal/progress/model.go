package progress

import (
	"time"
)

// Progress is one day's smoking record for a user within a stage attempt.
// (user_id, stage_id, date) is unique; the index is what rejects a second
// entry for the same day, not a prior lookup.
type Progress struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex:idx_progress_user_stage_day;index" json:"user_id"`
	StageID          uint      `gorm:"not null;uniqueIndex:idx_progress_user_stage_day;index:idx_progress_stage_attempt" json:"stage_id"`
	Date             time.Time `gorm:"not null;uniqueIndex:idx_progress_user_stage_day" json:"date"`
	CigarettesSmoked int       `gorm:"not null" json:"cigarettes_smoked"`
	HealthStatus     string    `json:"health_status,omitempty"`
	MoneySaved       float64   `gorm:"not null" json:"money_saved"`
	AttemptNumber    int       `gorm:"not null;index:idx_progress_stage_attempt" json:"attempt_number"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SmokingStatus is a user's self-reported pre-quit baseline. The most recent
// record is the one in effect.
type SmokingStatus struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index;not null" json:"user_id"`
	CigarettesPerDay int       `gorm:"not null" json:"cigarettes_per_day"`
	CostPerPack      float64   `gorm:"not null" json:"cost_per_pack"`
	CreatedAt        time.Time `gorm:"index" json:"createdAt"`
}
