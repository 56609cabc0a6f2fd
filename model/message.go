package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageRole represents the role of the message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// MessageStatus represents the generation status of a message
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"   // Assistant response still being generated
	MessageStatusThinking  MessageStatus = "thinking"  // Reserved intermediate state for UI use
	MessageStatusCompleted MessageStatus = "completed" // Terminal state
)

// EndReason is the normalized finish reason of a completed assistant message
type EndReason string

const (
	EndReasonStop          EndReason = "stop"
	EndReasonError         EndReason = "error"
	EndReasonLength        EndReason = "length"
	EndReasonContentFilter EndReason = "content-filter"
	EndReasonToolCalls     EndReason = "tool-calls"
	EndReasonOther         EndReason = "other"
	EndReasonUnknown       EndReason = "unknown"
)

// Attachment references a blob uploaded by the user or generated by a model
type Attachment struct {
	BlobID   string `json:"blob_id"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// Attachments is stored as a JSONB column
type Attachments []Attachment

// Scan implements the sql.Scanner interface for reading from database
func (a *Attachments) Scan(value interface{}) error {
	return scanJSONList(value, a)
}

// Value implements the driver.Valuer interface for writing to database
func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// ToolCall records one executed tool and its serialized result
type ToolCall struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// ToolCalls is stored as a JSONB column
type ToolCalls []ToolCall

func (t *ToolCalls) Scan(value interface{}) error {
	return scanJSONList(value, t)
}

func (t ToolCalls) Value() (driver.Value, error) {
	if len(t) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

// Source is a citation surfaced by the provider during generation
type Source struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Metadata string `json:"metadata,omitempty"`
}

// Sources is stored as a JSONB column
type Sources []Source

func (s *Sources) Scan(value interface{}) error {
	return scanJSONList(value, s)
}

func (s Sources) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func scanJSONList(value, dest interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSONB list value")
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dest)
}

// Message is a single message in a chat. Assistant messages are created as
// pending placeholders and patched in place while the provider streams.
type Message struct {
	ID     string      `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID string      `gorm:"type:uuid;not null;index:idx_messages_chat_update_time" json:"chat_id"`
	Role   MessageRole `gorm:"type:varchar(20);not null" json:"role"`

	Content   string `gorm:"type:text;not null" json:"content"`
	Reasoning string `gorm:"type:text" json:"reasoning,omitempty"`

	Attachments Attachments `gorm:"type:jsonb;default:'[]'" json:"attachments,omitempty"`
	ToolCalls   ToolCalls   `gorm:"type:jsonb;default:'[]'" json:"tool_calls,omitempty"`
	Sources     Sources     `gorm:"type:jsonb;default:'[]'" json:"sources,omitempty"`

	Model     string        `gorm:"type:varchar(100)" json:"model,omitempty"`
	Status    MessageStatus `gorm:"type:varchar(20);default:'completed'" json:"status"`
	EndReason EndReason     `gorm:"type:varchar(20)" json:"end_reason,omitempty"`

	// Assigned at creation, never decreasing within a chat. Ordering key for
	// reads and for the lineage merge is (update_time, created_at, id).
	UpdateTime int64 `gorm:"not null;index:idx_messages_chat_update_time" json:"update_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate assigns an opaque id and the ordering timestamp
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.UpdateTime == 0 {
		m.UpdateTime = time.Now().UnixMilli()
	}
	return nil
}

// IsPending reports whether the assistant response is still being generated
func (m *Message) IsPending() bool {
	return m.Status == MessageStatusPending
}

// OrderedBefore reports whether m sorts before other in the chat's total
// order. UpdateTime first, creation time then id as tiebreaks.
func (m *Message) OrderedBefore(other *Message) bool {
	if m.UpdateTime != other.UpdateTime {
		return m.UpdateTime < other.UpdateTime
	}
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
