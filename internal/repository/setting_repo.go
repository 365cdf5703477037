package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// settingRepo implements SettingRepository using GORM. Settings are an
// append-only log; reads always take the newest row per key.
type settingRepo struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) *settingRepo {
	return &settingRepo{db: db}
}

var _ SettingRepository = (*settingRepo)(nil)

// Append records a new value for a key.
func (r *settingRepo) Append(ctx context.Context, key, value string) error {
	setting := &models.Setting{Key: key, Value: value}
	if err := r.db.WithContext(ctx).Create(setting).Error; err != nil {
		return fmt.Errorf("appending setting: %w", err)
	}
	return nil
}

// GetLatest returns the most recent value for a key.
func (r *settingRepo) GetLatest(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		Order("id DESC").
		First(&setting).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest setting: %w", err)
	}
	return &setting, nil
}

// History returns all recorded values for a key, newest first.
func (r *settingRepo) History(ctx context.Context, key string) ([]*models.Setting, error) {
	var settings []*models.Setting
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		Order("id DESC").
		Find(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("getting setting history: %w", err)
	}
	return settings, nil
}
