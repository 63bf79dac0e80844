package database

import "time"

// Subscriber is one VPN client. The cached credential columns mirror the
// active credential set at the time of the last successful propagation; a
// mismatch against the live engine config means the subscriber's artifacts
// are stale.
type Subscriber struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientUUID      string    `gorm:"uniqueIndex;not null;size:36" json:"client_uuid"`
	Label           string    `gorm:"uniqueIndex;not null;size:64" json:"label"`
	CachedPublicKey string    `json:"cached_public_key"`
	CachedShortID   string    `json:"cached_short_id"`
	Flow            string    `gorm:"default:xtls-rprx-vision" json:"flow"`
	Fingerprint     string    `gorm:"default:chrome" json:"fingerprint"`
	Network         string    `gorm:"default:tcp" json:"network"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RotationEvent records the outcome of one credential rotation or reconcile
// run, including which backup to restore if the apply step went wrong.
type RotationEvent struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Trigger         string    `gorm:"not null" json:"trigger"`
	OldPublicKey    string    `json:"old_public_key"`
	NewPublicKey    string    `json:"new_public_key"`
	UsedFallback    bool      `json:"used_fallback"`
	PartialFailures string    `gorm:"type:text;default:'[]'" json:"partial_failures"` // JSON array of subscriber IDs
	ApplyFailed     bool      `json:"apply_failed"`
	BackupName      string    `json:"backup_name"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
