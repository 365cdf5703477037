package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plexbridge/plexbridge/internal/models"
)

// epgChannelRepo implements EpgChannelRepository using GORM.
type epgChannelRepo struct {
	db *gorm.DB
}

// NewEpgChannelRepository creates a new EpgChannelRepository.
func NewEpgChannelRepository(db *gorm.DB) *epgChannelRepo {
	return &epgChannelRepo{db: db}
}

var _ EpgChannelRepository = (*epgChannelRepo)(nil)

// UpsertBatch inserts or refreshes channel definitions keyed by channel_key.
func (r *epgChannelRepo) UpsertBatch(ctx context.Context, channels []*models.EpgChannel) error {
	if len(channels) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_id", "display_name", "icon_url", "updated_at"}),
		}).
		CreateInBatches(channels, upsertBatchSize).Error
	if err != nil {
		return fmt.Errorf("upserting EPG channels: %w", err)
	}
	return nil
}

// GetAll retrieves every known EPG channel definition.
func (r *epgChannelRepo) GetAll(ctx context.Context) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).Order("channel_key ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting EPG channels: %w", err)
	}
	return channels, nil
}

// GetByKey retrieves one definition by channel key. Returns (nil, nil) if
// not found.
func (r *epgChannelRepo) GetByKey(ctx context.Context, channelKey string) (*models.EpgChannel, error) {
	var channel models.EpgChannel
	if err := r.db.WithContext(ctx).Where("channel_key = ?", channelKey).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting EPG channel by key: %w", err)
	}
	return &channel, nil
}

// DeleteBySourceID removes all definitions ingested from a source.
func (r *epgChannelRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	err := r.db.WithContext(ctx).
		Unscoped().
		Where("source_id = ?", sourceID).
		Delete(&models.EpgChannel{}).Error
	if err != nil {
		return fmt.Errorf("deleting EPG channels by source: %w", err)
	}
	return nil
}
