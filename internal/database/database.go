package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/veilnet/realityd/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Subscriber{}, &Setting{}, &RotationEvent{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := seedDefaults(); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	return nil
}

func seedDefaults() error {
	defaults := map[string]string{
		"auto_repair":            "false",
		"process_backend":        "auto",
		"rotation_interval_days": "0",
		"active_public_key":      "",
		"active_key_backend":     "",
		"last_rotation":          "",
	}

	for key, value := range defaults {
		var count int64
		DB.Model(&Setting{}).Where("key = ?", key).Count(&count)
		if count == 0 {
			if err := DB.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("seed setting %s: %w", key, err)
			}
		}
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// Subscriber helpers

func ListSubscribers() ([]Subscriber, error) {
	var subs []Subscriber
	if err := DB.Order("id").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func GetSubscriber(id uint) (*Subscriber, error) {
	var s Subscriber
	if err := DB.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func GetSubscriberByLabel(label string) (*Subscriber, error) {
	var s Subscriber
	if err := DB.Where("label = ?", label).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscriber inserts a new subscriber, assigning a fresh client UUID
// when none is given.
func CreateSubscriber(s *Subscriber) error {
	if s.ClientUUID == "" {
		s.ClientUUID = uuid.New().String()
	}
	return DB.Create(s).Error
}

func UpdateSubscriber(s *Subscriber) error {
	return DB.Save(s).Error
}

func DeleteSubscriber(id uint) error {
	return DB.Delete(&Subscriber{}, id).Error
}

// SetCachedCredentials updates the cached credential columns after a
// successful per-subscriber propagation.
func SetCachedCredentials(id uint, publicKey, shortID string) error {
	return DB.Model(&Subscriber{}).Where("id = ?", id).Updates(map[string]interface{}{
		"cached_public_key": publicKey,
		"cached_short_id":   shortID,
	}).Error
}

// Rotation event helpers

func RecordRotation(ev *RotationEvent) error {
	return DB.Create(ev).Error
}

func LastRotation() (*RotationEvent, error) {
	var ev RotationEvent
	if err := DB.Order("id desc").First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func ListRotations(limit int) ([]RotationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var evs []RotationEvent
	if err := DB.Order("id desc").Limit(limit).Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}

// EncodeSubscriberIDs renders a partial-failure list for storage on a
// RotationEvent row.
func EncodeSubscriberIDs(ids []uint) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}
