package model

import "time"

// Named limits tracked per user
const (
	LimitDailyMessages = "daily_messages"
)

// RateLimit holds the persisted daily counter for one user and one named
// limit. The hourly token bucket lives in Redis; this row only carries the
// quota that must survive process restarts and be decremented transactionally
// with the message insert.
type RateLimit struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	UserID         string `gorm:"type:uuid;not null;uniqueIndex:idx_rate_limits_user_name" json:"user_id"`
	Name           string `gorm:"type:varchar(50);not null;uniqueIndex:idx_rate_limits_user_name" json:"name"`
	MessagesLeft   int    `gorm:"not null" json:"messages_left"`
	MessagesPerDay int    `gorm:"not null" json:"messages_per_day"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for RateLimit
func (RateLimit) TableName() string {
	return "rate_limits"
}
