package notify

import (
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeStageRetry     Type = "stage_retry"
	TypeCoachAlert     Type = "coach_alert"
	TypeLimitWarning   Type = "limit_warning"
	TypeStageCompleted Type = "stage_completed"
	TypeBadgeAwarded   Type = "badge_awarded"
)

// Notification is a record for the delivery path to pick up. IsSent is
// owned by that consumer.
type Notification struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"index;not null" json:"user_id"`
	ProgressID *uint          `json:"progress_id,omitempty"`
	Message    string         `gorm:"not null" json:"message"`
	Type       Type           `gorm:"type:varchar(32);index;not null" json:"type"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
	IsSent     bool           `gorm:"not null;default:false" json:"is_sent"`
	CreatedAt  time.Time      `gorm:"index" json:"createdAt"`
}
