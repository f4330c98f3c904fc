package models

import (
	"time"

	"gorm.io/datatypes"
)

// RemoteProfile is the durable system-of-record row for one identity.
// The document is stored verbatim so schema drift never blocks a load.
type RemoteProfile struct {
	ExternalUserID string         `gorm:"primaryKey;type:varchar(191)" json:"external_user_id"`
	Document       datatypes.JSON `json:"document"`
	LastUpdated    time.Time      `gorm:"index;not null" json:"last_updated"`
	Timestamps
}

// DailyCompletion is the authoritative "already played today" ledger.
type DailyCompletion struct {
	ExternalUserID string    `gorm:"primaryKey;type:varchar(191)" json:"external_user_id"`
	Day            string    `gorm:"primaryKey;type:varchar(10)" json:"day"` // YYYY-MM-DD
	CompletedAt    time.Time `gorm:"autoCreateTime" json:"completed_at"`
}

// KVEntry backs the persistent local tier when it lives in a SQL database.
type KVEntry struct {
	Key       string    `gorm:"primaryKey;column:kv_key;type:varchar(255)"`
	Value     []byte    `gorm:"column:kv_value;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
