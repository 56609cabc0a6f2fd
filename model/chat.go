package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LineageKind describes how a chat was derived from another chat
type LineageKind string

const (
	// LineageNone marks an original chat created directly by a user
	LineageNone   LineageKind = ""
	LineageBranch LineageKind = "branch"
	LineageShare  LineageKind = "share"
)

// Visibility controls how a chat shows up in listings
type Visibility string

const (
	VisibilityNormal   Visibility = ""
	VisibilityPinned   Visibility = "pinned"
	VisibilityArchived Visibility = "archived"
	VisibilityPrivate  Visibility = "private"
	VisibilityDeleted  Visibility = "deleted"
)

// Chat represents a conversation owned by a single user.
// Branch/share chats carry lineage metadata pointing at the chat they were
// derived from; Backfilled flips to true once the async message copy is done.
type Chat struct {
	ID      string `gorm:"type:uuid;primaryKey" json:"id"`
	Title   string `gorm:"type:varchar(255);not null" json:"title"`
	OwnerID string `gorm:"type:uuid;not null;index:idx_chats_owner_visibility" json:"owner_id"`
	Model   string `gorm:"type:varchar(100);not null" json:"model"`

	Lineage            LineageKind `gorm:"type:varchar(20);default:''" json:"lineage,omitempty"`
	ParentChatID       *string     `gorm:"type:uuid" json:"parent_chat_id,omitempty"`
	ReferenceMessageID *string     `gorm:"type:uuid" json:"reference_message_id,omitempty"`
	// No column default: a clone's explicit false must survive the insert,
	// which a default tag would swallow for zero values.
	Backfilled bool `json:"backfilled"`

	Visibility     Visibility `gorm:"type:varchar(20);default:'';index:idx_chats_owner_visibility;index:idx_chats_visibility_delete_time" json:"visibility,omitempty"`
	DeleteTime     *int64     `gorm:"index:idx_chats_visibility_delete_time" json:"delete_time,omitempty"`
	DeletionFailed bool       `gorm:"default:false" json:"deletion_failed,omitempty"`

	// Millisecond timestamps; LastMessageTime drives the sidebar ordering.
	LastMessageTime int64 `gorm:"index" json:"last_message_time"`
	UpdateTime      int64 `json:"update_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Chat
func (Chat) TableName() string {
	return "chats"
}

// BeforeCreate assigns an opaque id and creation timestamps
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	if c.UpdateTime == 0 {
		c.UpdateTime = now
	}
	if c.LastMessageTime == 0 {
		c.LastMessageTime = now
	}
	// Original chats have no parent history to copy
	if c.ParentChatID == nil {
		c.Backfilled = true
	}
	return nil
}

// IsShared reports whether this chat is a published share snapshot
func (c *Chat) IsShared() bool {
	return c.Lineage == LineageShare
}

// IsDeleted reports whether the chat is soft-deleted
func (c *Chat) IsDeleted() bool {
	return c.Visibility == VisibilityDeleted
}
