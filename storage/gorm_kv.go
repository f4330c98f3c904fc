package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"game-profile-engine/models"
)

// GormKV persists tier entries in a SQL table (sqlite on devices, postgres on servers).
type GormKV struct {
	DB *gorm.DB
}

// NewGormKV migrates the kv table and returns a ready backend.
func NewGormKV(db *gorm.DB) (*GormKV, error) {
	if err := db.AutoMigrate(&models.KVEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}
	return &GormKV{DB: db}, nil
}

func (s *GormKV) Get(key string) ([]byte, bool, error) {
	var entry models.KVEntry
	err := s.DB.Where("kv_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrTierUnavailable, key, err)
	}
	return entry.Value, true, nil
}

func (s *GormKV) Set(key string, value []byte) error {
	entry := models.KVEntry{Key: key, Value: value}
	err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrTierUnavailable, key, err)
	}
	return nil
}

func (s *GormKV) Delete(key string) error {
	if err := s.DB.Where("kv_key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrTierUnavailable, key, err)
	}
	return nil
}

func (s *GormKV) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.DB.Model(&models.KVEntry{}).
		Where("kv_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Pluck("kv_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: keys %s: %v", ErrTierUnavailable, prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
