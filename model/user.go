package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FavoriteModels is stored as a JSONB column
type FavoriteModels []string

func (f *FavoriteModels) Scan(value interface{}) error {
	return scanJSONList(value, f)
}

func (f FavoriteModels) Value() (driver.Value, error) {
	if len(f) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// User mirrors an identity issued by the external auth provider. Rows are
// upserted on first sight of a token; anonymous users can later move their
// chats to an authenticated account through a linking session.
type User struct {
	ID             string         `gorm:"type:uuid;primaryKey" json:"id"`
	IsAnonymous    bool           `gorm:"default:false" json:"is_anonymous"`
	Name           string         `gorm:"type:varchar(255)" json:"name,omitempty"`
	Email          string         `gorm:"type:varchar(255);index" json:"email,omitempty"`
	FavoriteModels FavoriteModels `gorm:"type:jsonb;default:'[]'" json:"favorite_models,omitempty"`
	DeleteTime     *int64         `json:"delete_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
