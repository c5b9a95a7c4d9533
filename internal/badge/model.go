package badge

import (
	"time"

	"gorm.io/gorm"
)

// Badge is an award definition. Condition is kept verbatim for display; the
// Metric/Operator/Threshold columns hold its parsed form and are refreshed
// on every save. Metric is empty when the condition does not parse.
type Badge struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:128;not null" json:"name"`
	Condition  string    `gorm:"not null" json:"condition"`
	Metric     string    `gorm:"size:64" json:"metric,omitempty"`
	Operator   Operator  `gorm:"size:2" json:"operator,omitempty"`
	Threshold  float64   `json:"threshold"`
	Tier       string    `gorm:"size:32" json:"tier,omitempty"`
	PointValue int       `json:"point_value"`
	ImageURL   string    `json:"url_image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (b *Badge) BeforeSave(tx *gorm.DB) error {
	c, err := ParseCondition(b.Condition)
	if err != nil {
		b.Metric, b.Operator, b.Threshold = "", "", 0
		return nil
	}
	b.Metric, b.Operator, b.Threshold = c.Metric, c.Op, c.Threshold
	return nil
}

// Expr returns the parsed condition, or false if the badge has none.
func (b *Badge) Expr() (Condition, bool) {
	if b.Metric == "" {
		return Condition{}, false
	}
	return Condition{Metric: b.Metric, Op: b.Operator, Threshold: b.Threshold}, true
}

// UserBadge records that a user earned a badge. A (user, badge) pair is
// stored at most once.
type UserBadge struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_user_badge" json:"user_id"`
	BadgeID     uint      `gorm:"not null;uniqueIndex:idx_user_badge;index" json:"badge_id"`
	DateAwarded time.Time `gorm:"not null" json:"date_awarded"`
}
