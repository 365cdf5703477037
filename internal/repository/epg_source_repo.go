package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// epgSourceRepo implements EpgSourceRepository using GORM.
type epgSourceRepo struct {
	db *gorm.DB
}

// NewEpgSourceRepository creates a new EpgSourceRepository.
func NewEpgSourceRepository(db *gorm.DB) *epgSourceRepo {
	return &epgSourceRepo{db: db}
}

var _ EpgSourceRepository = (*epgSourceRepo)(nil)

// Create creates a new EPG source.
func (r *epgSourceRepo) Create(ctx context.Context, source *models.EpgSource) error {
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("creating EPG source: %w", err)
	}
	return nil
}

// GetByID retrieves an EPG source by ID.
func (r *epgSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error) {
	var source models.EpgSource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting EPG source by ID: %w", err)
	}
	return &source, nil
}

// GetAll retrieves all EPG sources.
func (r *epgSourceRepo) GetAll(ctx context.Context) ([]*models.EpgSource, error) {
	var sources []*models.EpgSource
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting all EPG sources: %w", err)
	}
	return sources, nil
}

// GetEnabled retrieves all enabled EPG sources.
func (r *epgSourceRepo) GetEnabled(ctx context.Context) ([]*models.EpgSource, error) {
	var sources []*models.EpgSource
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting enabled EPG sources: %w", err)
	}
	return sources, nil
}

// Update updates an existing EPG source.
func (r *epgSourceRepo) Update(ctx context.Context, source *models.EpgSource) error {
	if err := r.db.WithContext(ctx).Save(source).Error; err != nil {
		return fmt.Errorf("updating EPG source: %w", err)
	}
	return nil
}

// Delete deletes an EPG source and the programs and channel definitions it
// ingested.
func (r *epgSourceRepo) Delete(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("source_id = ?", id).Delete(&models.EpgProgram{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("source_id = ?", id).Delete(&models.EpgChannel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.EpgSource{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting EPG source: %w", err)
	}
	return nil
}

// MarkSuccess records a successful refresh and clears the failure counter.
func (r *epgSourceRepo) MarkSuccess(ctx context.Context, id models.ULID, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.EpgSource{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_success_at":      at,
			"consecutive_failures": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("marking EPG source success: %w", err)
	}
	return nil
}

// MarkFailure increments the consecutive failure counter and returns the new
// count.
func (r *epgSourceRepo) MarkFailure(ctx context.Context, id models.ULID) (int, error) {
	var failures int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EpgSource{}).
			Where("id = ?", id).
			UpdateColumn("consecutive_failures", gorm.Expr("consecutive_failures + 1")).Error; err != nil {
			return err
		}
		var src models.EpgSource
		if err := tx.Select("consecutive_failures").Where("id = ?", id).Take(&src).Error; err != nil {
			return err
		}
		failures = src.ConsecutiveFailures
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("marking EPG source failure: %w", err)
	}
	return failures, nil
}
