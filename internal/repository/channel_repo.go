package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) *channelRepo {
	return &channelRepo{db: db}
}

var _ ChannelRepository = (*channelRepo)(nil)

// Create creates a new channel.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByIDWithStreams retrieves a channel by ID with its streams preloaded.
func (r *channelRepo) GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB {
			return db.Order("streams.is_primary DESC, streams.position ASC, streams.id ASC")
		}).
		Where("id = ?", id).
		First(&channel).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel with streams: %w", err)
	}
	return &channel, nil
}

// GetAll retrieves all channels ordered by number.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting all channels: %w", err)
	}
	sortChannelsByNumber(channels)
	return channels, nil
}

// GetPaginated retrieves channels with pagination, ordered by number.
func (r *channelRepo) GetPaginated(ctx context.Context, offset, limit int) ([]*models.Channel, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Channel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting channels: %w", err)
	}

	// Numbers are strings with numeric ordering semantics, so paging happens
	// after an in-memory sort. Channel counts stay small enough for this.
	channels, err := r.GetAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(channels) {
		return []*models.Channel{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(channels) {
		end = len(channels)
	}
	return channels[offset:end], total, nil
}

// Update updates an existing channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Save(channel).Error; err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// Delete deletes a channel by ID. Bound streams are removed by the cascade
// constraint.
func (r *channelRepo) Delete(ctx context.Context, id models.ULID) error {
	// Soft-delete constraints do not fire the FK cascade, so streams are
	// removed explicitly inside the same transaction.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&models.Stream{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Channel{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}

// Count returns the total number of channels.
func (r *channelRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Channel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting channels: %w", err)
	}
	return count, nil
}

// ProjectLineup returns enabled channels with at least one enabled stream.
// The join keeps the query to a single round trip; the numeric-aware sort
// happens in memory because number is a string column.
func (r *channelRepo) ProjectLineup(ctx context.Context) ([]LineupEntry, error) {
	type row struct {
		ID      models.ULID
		Number  string
		Name    string
		LogoURL string
		EpgKey  string
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Select("DISTINCT channels.id, channels.number, channels.name, channels.logo_url, channels.epg_key").
		Joins("JOIN streams ON streams.channel_id = channels.id AND streams.enabled = ? AND streams.deleted_at IS NULL", true).
		Where("channels.enabled = ?", true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("projecting lineup: %w", err)
	}

	entries := make([]LineupEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, LineupEntry{
			ChannelID: row.ID,
			Number:    row.Number,
			Name:      row.Name,
			LogoURL:   row.LogoURL,
			EpgKey:    row.EpgKey,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return models.CompareNumbers(entries[i].Number, entries[j].Number) < 0
	})
	return entries, nil
}

// NumberInUse reports whether a number is held by an enabled channel other
// than excludeID.
func (r *channelRepo) NumberInUse(ctx context.Context, number string, excludeID models.ULID) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Channel{}).
		Where("number = ? AND enabled = ?", number, true)
	if !excludeID.IsZero() {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking number: %w", err)
	}
	return count > 0, nil
}

func (r *channelRepo) NextFreeNumber(ctx context.Context, requested string) (string, error) {
	st, err := loadNumberingState(r.db.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return st.assign(requested), nil
}

// UpsertPairs bulk-creates or updates channel+stream pairs inside a single
// transaction. Streams are matched by source URL so re-imports update rows
// instead of duplicating them.
func (r *channelRepo) UpsertPairs(ctx context.Context, pairs []ChannelStreamPair) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(pairs) == 0 {
		return result, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		numbering, err := loadNumberingState(tx)
		if err != nil {
			return err
		}

		urls := make([]string, 0, len(pairs))
		for _, p := range pairs {
			urls = append(urls, p.Stream.SourceURL)
		}
		var existing []models.Stream
		if err := tx.Where("source_url IN ?", urls).Find(&existing).Error; err != nil {
			return fmt.Errorf("loading existing streams: %w", err)
		}
		byURL := make(map[string]*models.Stream, len(existing))
		for i := range existing {
			byURL[existing[i].SourceURL] = &existing[i]
		}

		for _, pair := range pairs {
			if prev, ok := byURL[pair.Stream.SourceURL]; ok {
				if err := updatePair(tx, prev, pair); err != nil {
					return err
				}
				result.Updated++
				continue
			}
			if err := createPair(tx, pair, numbering); err != nil {
				return err
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upserting channel pairs: %w", err)
	}
	return result, nil
}

// numberingState tracks which numbers are taken and the highest integer seen,
// so new channels get deterministic numbers within one import transaction.
type numberingState struct {
	taken  map[string]bool
	maxInt int64
}

func loadNumberingState(tx *gorm.DB) (*numberingState, error) {
	var numbers []string
	if err := tx.Model(&models.Channel{}).Pluck("number", &numbers).Error; err != nil {
		return nil, fmt.Errorf("loading channel numbers: %w", err)
	}
	st := &numberingState{taken: make(map[string]bool, len(numbers))}
	for _, n := range numbers {
		st.taken[n] = true
		intPart := n
		if i := strings.IndexByte(n, '.'); i >= 0 {
			intPart = n[:i]
		}
		if v, err := strconv.ParseInt(intPart, 10, 64); err == nil && v > st.maxInt {
			st.maxInt = v
		}
	}
	return st, nil
}

// assign returns the requested number if it is free, otherwise the next free
// integer above the current maximum.
func (st *numberingState) assign(requested string) string {
	if requested != "" && !st.taken[requested] {
		st.taken[requested] = true
		if v, err := strconv.ParseFloat(requested, 64); err == nil {
			if i := int64(math.Floor(v)); i > st.maxInt {
				st.maxInt = i
			}
		}
		return requested
	}
	for {
		st.maxInt++
		candidate := strconv.FormatInt(st.maxInt, 10)
		if !st.taken[candidate] {
			st.taken[candidate] = true
			return candidate
		}
	}
}

func createPair(tx *gorm.DB, pair ChannelStreamPair, numbering *numberingState) error {
	ch := pair.Channel
	ch.Number = numbering.assign(ch.Number)
	if err := tx.Create(ch).Error; err != nil {
		return fmt.Errorf("creating imported channel: %w", err)
	}
	pair.Stream.ChannelID = &ch.ID
	if pair.Stream.Position == 0 {
		pair.Stream.Primary = true
	}
	if err := tx.Create(pair.Stream).Error; err != nil {
		return fmt.Errorf("creating imported stream: %w", err)
	}
	return nil
}

func updatePair(tx *gorm.DB, prev *models.Stream, pair ChannelStreamPair) error {
	prev.Protocol = pair.Stream.Protocol
	prev.Headers = pair.Stream.Headers
	if pair.Stream.Username != "" {
		prev.Username = pair.Stream.Username
		prev.Password = pair.Stream.Password
	}
	if err := tx.Save(prev).Error; err != nil {
		return fmt.Errorf("updating imported stream: %w", err)
	}

	if prev.ChannelID == nil {
		return nil
	}
	// Refresh display metadata from the playlist; the operator-owned number
	// and enabled flag are left alone.
	updates := map[string]any{
		"name":        pair.Channel.Name,
		"logo_url":    pair.Channel.LogoURL,
		"group_title": pair.Channel.GroupTitle,
	}
	if pair.Channel.EpgKey != "" {
		updates["epg_key"] = pair.Channel.EpgKey
	}
	if err := tx.Model(&models.Channel{}).Where("id = ?", prev.ChannelID).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating imported channel: %w", err)
	}
	return nil
}

// sortChannelsByNumber orders channels by their numeric-aware number.
func sortChannelsByNumber(channels []*models.Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		return models.CompareNumbers(channels[i].Number, channels[j].Number) < 0
	})
}
