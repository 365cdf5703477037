// Package repository defines data access interfaces for plexbridge entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
)

// LineupEntry is a single channel in the tuner lineup projection. It carries
// only what the lineup endpoint and the guide need.
type LineupEntry struct {
	ChannelID models.ULID
	Number    string
	Name      string
	LogoURL   string
	EpgKey    string
}

// ChannelStreamPair couples a channel with the stream an import bound to it.
type ChannelStreamPair struct {
	Channel *models.Channel
	Stream  *models.Stream
}

// UpsertResult summarises what a bulk upsert did.
type UpsertResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID. Returns (nil, nil) if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByIDWithStreams retrieves a channel with its streams preloaded.
	GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetAll retrieves all channels ordered by number.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetPaginated retrieves channels with pagination, ordered by number.
	GetPaginated(ctx context.Context, offset, limit int) ([]*models.Channel, int64, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel by ID. Bound streams cascade.
	Delete(ctx context.Context, id models.ULID) error
	// Count returns the total number of channels.
	Count(ctx context.Context) (int64, error)
	// ProjectLineup returns enabled channels that have at least one enabled
	// stream, ordered by number ascending (numeric-aware).
	ProjectLineup(ctx context.Context) ([]LineupEntry, error)
	// NumberInUse reports whether a number is already held by an enabled
	// channel other than excludeID.
	NumberInUse(ctx context.Context, number string, excludeID models.ULID) (bool, error)
	// NextFreeNumber returns the requested number if free, otherwise the next
	// free integer above the current maximum. An empty request always yields
	// the next free integer.
	NextFreeNumber(ctx context.Context, requested string) (string, error)
	// UpsertPairs bulk-creates or updates channel+stream pairs inside a single
	// transaction. Existing streams are matched by source URL; their channels
	// are updated in place. New channels without a usable number get the next
	// free integer above the current maximum.
	UpsertPairs(ctx context.Context, pairs []ChannelStreamPair) (*UpsertResult, error)
}

// StreamRepository defines operations for stream persistence.
type StreamRepository interface {
	// Create creates a new stream.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID. Returns (nil, nil) if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	// GetByChannelID retrieves all streams bound to a channel, primary first
	// then by position.
	GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error)
	// GetBySourceURL retrieves a stream by its upstream URL. Returns (nil, nil)
	// if not found.
	GetBySourceURL(ctx context.Context, sourceURL string) (*models.Stream, error)
	// GetAll retrieves all streams.
	GetAll(ctx context.Context) ([]*models.Stream, error)
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// Delete deletes a stream by ID.
	Delete(ctx context.Context, id models.ULID) error
	// ResolveForChannel returns the enabled stream with the highest priority
	// for a channel: the primary stream first, otherwise the earliest by
	// position. Returns models.ErrStreamNotFound if no enabled stream exists.
	ResolveForChannel(ctx context.Context, channelID models.ULID) (*models.Stream, error)
}

// EpgSourceRepository defines operations for EPG source persistence.
type EpgSourceRepository interface {
	// Create creates a new EPG source.
	Create(ctx context.Context, source *models.EpgSource) error
	// GetByID retrieves an EPG source by ID. Returns (nil, nil) if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error)
	// GetAll retrieves all EPG sources.
	GetAll(ctx context.Context) ([]*models.EpgSource, error)
	// GetEnabled retrieves all enabled EPG sources.
	GetEnabled(ctx context.Context) ([]*models.EpgSource, error)
	// Update updates an existing EPG source.
	Update(ctx context.Context, source *models.EpgSource) error
	// Delete deletes an EPG source and its programs.
	Delete(ctx context.Context, id models.ULID) error
	// MarkSuccess records a successful refresh and clears the failure counter.
	MarkSuccess(ctx context.Context, id models.ULID, at time.Time) error
	// MarkFailure increments the consecutive failure counter and returns the
	// new count.
	MarkFailure(ctx context.Context, id models.ULID) (int, error)
}

// EpgProgramRepository defines operations for EPG program persistence.
type EpgProgramRepository interface {
	// UpsertBatch replaces the guide window the batch spans per channel key.
	// Stored programs overlapping the batch's span for a key are removed, so
	// a later ingest wins even when program starts shifted; within a batch
	// the shorter program wins an equal-start conflict.
	UpsertBatch(ctx context.Context, programs []*models.EpgProgram) error
	// Transaction executes the given function with transaction-scoped
	// program and channel definition repositories. All writes made through
	// them commit together or roll back together.
	Transaction(ctx context.Context, fn func(programs EpgProgramRepository, channels EpgChannelRepository) error) error
	// GetWindow returns programs for a channel key overlapping [from, to),
	// ordered by start.
	GetWindow(ctx context.Context, channelKey string, from, to time.Time) ([]*models.EpgProgram, error)
	// GetOnAir returns the program covering the given instant for a channel
	// key. Returns (nil, nil) if no program covers it.
	GetOnAir(ctx context.Context, channelKey string, at time.Time) (*models.EpgProgram, error)
	// DistinctChannelKeys returns every channel key present in the program
	// table, with display names where the feed supplied one.
	DistinctChannelKeys(ctx context.Context) ([]ChannelKeyInfo, error)
	// DeleteBySourceID removes all programs ingested from a source.
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error
	// DeleteBefore removes programs that ended before the cutoff. Returns the
	// number of rows removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Count returns the total number of stored programs.
	Count(ctx context.Context) (int64, error)
	// GetAllInWindow returns programs for all channel keys overlapping
	// [from, to), ordered by channel key then start. Used by the XMLTV export.
	GetAllInWindow(ctx context.Context, from, to time.Time) ([]*models.EpgProgram, error)
}

// ChannelKeyInfo is a distinct EPG channel key with a representative display
// name, used for channel-to-EPG matching.
type ChannelKeyInfo struct {
	ChannelKey  string
	DisplayName string
}

// EpgChannelRepository defines operations for XMLTV channel definitions.
type EpgChannelRepository interface {
	// UpsertBatch inserts or refreshes definitions keyed by channel key.
	UpsertBatch(ctx context.Context, channels []*models.EpgChannel) error
	// GetAll retrieves every known definition.
	GetAll(ctx context.Context) ([]*models.EpgChannel, error)
	// GetByKey retrieves one definition by channel key. Returns (nil, nil)
	// if not found.
	GetByKey(ctx context.Context, channelKey string) (*models.EpgChannel, error)
	// DeleteBySourceID removes all definitions ingested from a source.
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error
}

// SettingRepository defines operations for the append-only settings log.
type SettingRepository interface {
	// Append records a new value for a key. Earlier values are retained.
	Append(ctx context.Context, key, value string) error
	// GetLatest returns the most recent value for a key. Returns (nil, nil)
	// if the key has never been written.
	GetLatest(ctx context.Context, key string) (*models.Setting, error)
	// History returns all recorded values for a key, newest first.
	History(ctx context.Context, key string) ([]*models.Setting, error)
}
