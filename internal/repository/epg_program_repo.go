package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plexbridge/plexbridge/internal/models"
)

// epgProgramRepo implements EpgProgramRepository using GORM.
type epgProgramRepo struct {
	db *gorm.DB
}

// NewEpgProgramRepository creates a new EpgProgramRepository.
func NewEpgProgramRepository(db *gorm.DB) *epgProgramRepo {
	return &epgProgramRepo{db: db}
}

var _ EpgProgramRepository = (*epgProgramRepo)(nil)

// upsertBatchSize keeps a single INSERT under SQLite's bind variable limit.
const upsertBatchSize = 500

// UpsertBatch replaces the guide window the batch spans. For each channel
// key, stored programs overlapping the batch's [min start, max stop) span are
// deleted before the insert, so a later ingest wins even when a program's
// start shifted and intervals stay non-overlapping per key. Equal-start
// duplicates inside the batch are resolved first: the shorter program is
// kept. Delete and insert run in one transaction.
func (r *epgProgramRepo) UpsertBatch(ctx context.Context, programs []*models.EpgProgram) error {
	programs = dedupeEqualStart(programs)
	if len(programs) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteOverlappingSpans(tx, programs); err != nil {
			return err
		}
		return tx.
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "channel_key"}, {Name: "start"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"source_id", "stop", "title", "description", "genres", "updated_at",
				}),
			}).
			CreateInBatches(programs, upsertBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("upserting EPG programs: %w", err)
	}
	return nil
}

// deleteOverlappingSpans removes stored programs that overlap the interval a
// batch covers for the same channel key. The incoming feed is authoritative
// for the window it spans; stale entries inside that window, overlapping or
// sitting in gaps the new schedule no longer fills, go with it.
func deleteOverlappingSpans(tx *gorm.DB, programs []*models.EpgProgram) error {
	type span struct {
		min time.Time
		max time.Time
	}
	spans := make(map[string]span)
	for _, p := range programs {
		s, ok := spans[p.ChannelKey]
		if !ok {
			spans[p.ChannelKey] = span{min: p.Start, max: p.Stop}
			continue
		}
		if p.Start.Before(s.min) {
			s.min = p.Start
		}
		if p.Stop.After(s.max) {
			s.max = p.Stop
		}
		spans[p.ChannelKey] = s
	}
	for key, s := range spans {
		err := tx.Unscoped().
			Where("channel_key = ? AND stop > ? AND start < ?", key, s.min, s.max).
			Delete(&models.EpgProgram{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// Transaction executes fn with transaction-scoped program and channel
// definition repositories. A whole-feed ingest runs through this so a
// mid-parse failure rolls back and the previous guide stays visible.
func (r *epgProgramRepo) Transaction(ctx context.Context, fn func(programs EpgProgramRepository, channels EpgChannelRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&epgProgramRepo{db: tx}, &epgChannelRepo{db: tx})
	})
}

// dedupeEqualStart collapses batch entries sharing (channel_key, start),
// keeping the shortest program.
func dedupeEqualStart(programs []*models.EpgProgram) []*models.EpgProgram {
	type key struct {
		channelKey string
		start      int64
	}
	seen := make(map[key]int, len(programs))
	out := programs[:0]
	for _, p := range programs {
		k := key{p.ChannelKey, p.Start.UnixNano()}
		if i, ok := seen[k]; ok {
			if p.Duration() < out[i].Duration() {
				out[i] = p
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, p)
	}
	return out
}

// GetWindow returns programs for a channel key overlapping [from, to).
func (r *epgProgramRepo) GetWindow(ctx context.Context, channelKey string, from, to time.Time) ([]*models.EpgProgram, error) {
	var programs []*models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("channel_key = ? AND stop > ? AND start < ?", channelKey, from, to).
		Order("start ASC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("getting EPG window: %w", err)
	}
	return programs, nil
}

// GetOnAir returns the program covering the given instant for a channel key.
func (r *epgProgramRepo) GetOnAir(ctx context.Context, channelKey string, at time.Time) (*models.EpgProgram, error) {
	var program models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("channel_key = ? AND start <= ? AND stop > ?", channelKey, at, at).
		Order("start DESC").
		First(&program).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting on-air program: %w", err)
	}
	return &program, nil
}

// DistinctChannelKeys returns every channel key in the program table.
func (r *epgProgramRepo) DistinctChannelKeys(ctx context.Context) ([]ChannelKeyInfo, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&models.EpgProgram{}).
		Distinct("channel_key").
		Order("channel_key ASC").
		Pluck("channel_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("getting distinct channel keys: %w", err)
	}
	infos := make([]ChannelKeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, ChannelKeyInfo{ChannelKey: k, DisplayName: k})
	}
	return infos, nil
}

// DeleteBySourceID removes all programs ingested from a source. Programs are
// hard-deleted; keeping tombstones would collide with the (channel_key, start)
// unique index on re-ingest.
func (r *epgProgramRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	err := r.db.WithContext(ctx).
		Unscoped().
		Where("source_id = ?", sourceID).
		Delete(&models.EpgProgram{}).Error
	if err != nil {
		return fmt.Errorf("deleting programs by source: %w", err)
	}
	return nil
}

// DeleteBefore removes programs that ended before the cutoff.
func (r *epgProgramRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("stop < ?", cutoff).
		Delete(&models.EpgProgram{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired programs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Count returns the total number of stored programs.
func (r *epgProgramRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.EpgProgram{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting EPG programs: %w", err)
	}
	return count, nil
}

// GetAllInWindow returns programs for all channels overlapping [from, to).
func (r *epgProgramRepo) GetAllInWindow(ctx context.Context, from, to time.Time) ([]*models.EpgProgram, error) {
	var programs []*models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("stop > ? AND start < ?", from, to).
		Order("channel_key ASC, start ASC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("getting EPG export window: %w", err)
	}
	return programs, nil
}
