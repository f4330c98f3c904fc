package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"game-profile-engine/models"
)

// GormRemote is the database-backed system of record. A save never replaces a
// document whose lastUpdated is newer than the incoming one, and a synthesized
// emergency profile never replaces a real one.
type GormRemote struct {
	DB *gorm.DB
}

func NewGormRemote(db *gorm.DB) (*GormRemote, error) {
	if err := db.AutoMigrate(&models.RemoteProfile{}, &models.DailyCompletion{}); err != nil {
		return nil, fmt.Errorf("migrate remote tables: %w", err)
	}
	return &GormRemote{DB: db}, nil
}

func (s *GormRemote) LoadProfile(ctx context.Context, id string) ([]byte, bool, error) {
	var row models.RemoteProfile
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load remote profile: %w", err)
	}
	return []byte(row.Document), true, nil
}

func (s *GormRemote) SaveProfile(ctx context.Context, id string, p models.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	stamp := p.LastUpdated.UTC()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&models.RemoteProfile{}).
			Where("external_user_id = ? AND last_updated <= ?", id, stamp)
		if p.Emergency != nil {
			update = update.Where(datatypes.JSONQuery("document").HasKey("emergency"))
		}
		res := update.Updates(map[string]interface{}{
			"document":     datatypes.JSON(doc),
			"last_updated": stamp,
		})
		if res.Error != nil {
			return fmt.Errorf("update remote profile: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		row := models.RemoteProfile{ExternalUserID: id, Document: datatypes.JSON(doc), LastUpdated: stamp}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("insert remote profile: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// The row exists and is newer than ours (or ours is a placeholder).
			return ErrRemoteConflict
		}
		return nil
	})
}

func (s *GormRemote) HasCompletedDaily(ctx context.Context, id, day string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.DailyCompletion{}).
		Where("external_user_id = ? AND day = ?", id, day).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check daily completion: %w", err)
	}
	return count > 0, nil
}

func (s *GormRemote) MarkDailyCompleted(ctx context.Context, id, day string) error {
	row := models.DailyCompletion{ExternalUserID: id, Day: day}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("mark daily completion: %w", err)
	}
	return nil
}

func (s *GormRemote) DeleteProfile(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("external_user_id = ?", id).Delete(&models.DailyCompletion{}).Error; err != nil {
			return err
		}
		return tx.Where("external_user_id = ?", id).Delete(&models.RemoteProfile{}).Error
	})
}
