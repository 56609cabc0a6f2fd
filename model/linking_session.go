package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkingSession pairs an anonymous user with a one-time token so their chats
// can be transferred to an authenticated account. Single-use: deleted on
// consumption, swept by cron when stale.
type LinkingSession struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string `gorm:"type:varchar(100);not null" json:"-"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for LinkingSession
func (LinkingSession) TableName() string {
	return "linking_sessions"
}

func (s *LinkingSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
