package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

var _ StreamRepository = (*streamRepo)(nil)

// Create creates a new stream. Saving a primary stream demotes the
// channel's existing primary in the same transaction.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(stream).Error; err != nil {
			return err
		}
		return demoteOtherPrimaries(tx, stream)
	})
	if err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// demoteOtherPrimaries clears is_primary on the channel's other streams so
// at most one stream per channel is primary at any instant.
func demoteOtherPrimaries(tx *gorm.DB, stream *models.Stream) error {
	if !stream.Primary || stream.ChannelID == nil {
		return nil
	}
	return tx.Model(&models.Stream{}).
		Where("channel_id = ? AND id <> ? AND is_primary = ?", stream.ChannelID, stream.ID, true).
		Update("is_primary", false).Error
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByChannelID retrieves all streams bound to a channel in priority order.
func (r *streamRepo) GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error) {
	var streams []*models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("is_primary DESC, position ASC, id ASC").
		Find(&streams).Error
	if err != nil {
		return nil, fmt.Errorf("getting streams for channel: %w", err)
	}
	return streams, nil
}

// GetBySourceURL retrieves a stream by its upstream URL.
func (r *streamRepo) GetBySourceURL(ctx context.Context, sourceURL string) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by source URL: %w", err)
	}
	return &stream, nil
}

// GetAll retrieves all streams.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream. Promoting a stream to primary demotes
// the channel's previous primary in the same transaction.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(stream).Error; err != nil {
			return err
		}
		return demoteOtherPrimaries(tx, stream)
	})
	if err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete deletes a stream by ID.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// ResolveForChannel returns the highest-priority enabled stream for a channel.
// The primary stream wins; among non-primaries, insertion order decides.
func (r *streamRepo) ResolveForChannel(ctx context.Context, channelID models.ULID) (*models.Stream, error) {
	var stream models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND enabled = ?", channelID, true).
		Order("is_primary DESC, position ASC, id ASC").
		First(&stream).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrStreamNotFound
		}
		return nil, fmt.Errorf("resolving stream for channel: %w", err)
	}
	return &stream, nil
}
