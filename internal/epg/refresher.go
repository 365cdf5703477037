// Package epg refreshes XMLTV sources, matches guide channels to lineup
// channels, and serves guide lookups.
package epg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/xmltv"
)

const (
	// programFlushSize is how many parsed programs accumulate before a
	// batch upsert. Keeps memory bounded on very large feeds.
	programFlushSize = 2000

	// failureWarnThreshold is the consecutive-failure count at which a
	// source is flagged in the logs. The source stays enabled.
	failureWarnThreshold = 3
)

// RefreshResult summarises one source refresh.
type RefreshResult struct {
	SourceID   models.ULID   `json:"source_id"`
	Channels   int           `json:"channels"`
	Programs   int           `json:"programs"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Refresher fetches and ingests XMLTV sources. A refresh that fails leaves
// the previously ingested data untouched.
type Refresher struct {
	client      *httpclient.Client
	sources     repository.EpgSourceRepository
	epgChannels repository.EpgChannelRepository
	programs    repository.EpgProgramRepository
	logger      *slog.Logger

	maxBytes     int64
	fetchTimeout time.Duration
}

// NewRefresher creates the refresher. maxBytes caps the decompressed feed
// size; fetchTimeout bounds the whole fetch+parse of one source.
func NewRefresher(
	client *httpclient.Client,
	sources repository.EpgSourceRepository,
	epgChannels repository.EpgChannelRepository,
	programs repository.EpgProgramRepository,
	maxBytes int64,
	fetchTimeout time.Duration,
	logger *slog.Logger,
) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}
	return &Refresher{
		client:       client,
		sources:      sources,
		epgChannels:  epgChannels,
		programs:     programs,
		logger:       logger,
		maxBytes:     maxBytes,
		fetchTimeout: fetchTimeout,
	}
}

// RefreshAll refreshes every enabled source in order. Per-source failures
// are recorded and logged; the loop continues.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	sources, err := r.sources.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled EPG sources: %w", err)
	}
	for _, source := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.RefreshSource(ctx, source); err != nil {
			r.logger.Error("EPG source refresh failed",
				slog.String("source_id", source.ID.String()),
				slog.String("source_name", source.Name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// RefreshSource fetches, parses and stores one source. On success the
// failure counter resets; on failure it increments and prior guide data is
// left in place.
func (r *Refresher) RefreshSource(ctx context.Context, source *models.EpgSource) (*RefreshResult, error) {
	started := time.Now()
	result, err := r.ingest(ctx, source)
	if err != nil {
		failures, markErr := r.sources.MarkFailure(ctx, source.ID)
		if markErr != nil {
			r.logger.Error("recording EPG refresh failure",
				slog.String("source_id", source.ID.String()),
				slog.String("error", markErr.Error()))
		}
		if failures >= failureWarnThreshold {
			r.logger.Warn("EPG source failing repeatedly",
				slog.String("source_id", source.ID.String()),
				slog.String("source_name", source.Name),
				slog.String("url", httpclient.ObfuscateURLString(source.URL)),
				slog.Int("consecutive_failures", failures))
		}
		return nil, err
	}

	if err := r.sources.MarkSuccess(ctx, source.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("recording EPG refresh success: %w", err)
	}

	result.Duration = time.Since(started)
	result.DurationMS = result.Duration.Milliseconds()
	r.logger.Info("EPG source refreshed",
		slog.String("source_id", source.ID.String()),
		slog.String("source_name", source.Name),
		slog.Int("channels", result.Channels),
		slog.Int("programs", result.Programs),
		slog.Int("skipped", result.Skipped),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (r *Refresher) ingest(ctx context.Context, source *models.EpgSource) (*RefreshResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	resp, err := r.client.Get(ctx, source.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching XMLTV: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching XMLTV: upstream returned %s", resp.Status)
	}

	result := &RefreshResult{SourceID: source.ID}
	genreRewrite := newGenreRewrite(source)

	// The whole feed parses and commits inside one transaction. Batches are
	// flushed as they fill to bound memory, but a mid-feed failure rolls
	// everything back and the previous program set stays visible to readers.
	err = r.programs.Transaction(ctx, func(programs repository.EpgProgramRepository, epgChannels repository.EpgChannelRepository) error {
		var (
			channelBatch []*models.EpgChannel
			programBatch []*models.EpgProgram
		)
		flushPrograms := func() error {
			if len(programBatch) == 0 {
				return nil
			}
			if err := programs.UpsertBatch(ctx, programBatch); err != nil {
				return err
			}
			programBatch = programBatch[:0]
			return nil
		}

		parser := &xmltv.Parser{
			MaxBytes: r.maxBytes,
			OnChannel: func(ch *xmltv.Channel) error {
				channelBatch = append(channelBatch, &models.EpgChannel{
					SourceID:    source.ID,
					ChannelKey:  ch.ID,
					DisplayName: ch.DisplayName(),
					IconURL:     ch.Icon,
				})
				result.Channels++
				return nil
			},
			OnProgramme: func(pr *xmltv.Programme) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				program := &models.EpgProgram{
					SourceID:    source.ID,
					ChannelKey:  pr.Channel,
					Start:       pr.Start,
					Stop:        pr.Stop,
					Title:       pr.Title,
					Description: pr.Description,
					Genres:      genreRewrite(pr.Categories),
				}
				if program.Validate() != nil {
					result.Skipped++
					return nil
				}
				programBatch = append(programBatch, program)
				result.Programs++
				if len(programBatch) >= programFlushSize {
					return flushPrograms()
				}
				return nil
			},
			OnError: func(err error) {
				result.Skipped++
				r.logger.Debug("skipping malformed XMLTV element",
					slog.String("source_id", source.ID.String()),
					slog.String("error", err.Error()))
			},
		}

		if err := parser.ParseCompressed(resp.Body); err != nil {
			return fmt.Errorf("parsing XMLTV: %w", err)
		}
		if err := flushPrograms(); err != nil {
			return fmt.Errorf("storing programs: %w", err)
		}
		if len(channelBatch) > 0 {
			if err := epgChannels.UpsertBatch(ctx, channelBatch); err != nil {
				return fmt.Errorf("storing channel definitions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// newGenreRewrite builds the per-source genre transform: the category
// override replaces feed categories entirely, secondary genres are appended
// afterwards. The result is the JSON array string stored on the program.
func newGenreRewrite(source *models.EpgSource) func(categories []string) string {
	var secondary []string
	if source.SecondaryGenres != "" {
		// Malformed JSON in the stored list is treated as no extras.
		_ = json.Unmarshal([]byte(source.SecondaryGenres), &secondary)
	}
	return func(categories []string) string {
		genres := categories
		if source.CategoryOverride != "" {
			genres = []string{source.CategoryOverride}
		}
		if len(secondary) > 0 {
			genres = append(append([]string{}, genres...), secondary...)
		}
		if len(genres) == 0 {
			return ""
		}
		encoded, err := json.Marshal(genres)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
