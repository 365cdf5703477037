package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// Importer persists parsed playlist channels into the channel store.
type Importer struct {
	channels repository.ChannelRepository
	logger   *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(channels repository.ChannelRepository, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{channels: channels, logger: logger}
}

// Import bulk-upserts parsed channels as channel+stream pairs in a single
// transaction. Re-imports of the same playlist update rather than duplicate.
func (i *Importer) Import(ctx context.Context, parsed []Channel) (*repository.UpsertResult, error) {
	pairs := make([]repository.ChannelStreamPair, 0, len(parsed))
	for _, ch := range parsed {
		name := ch.Name
		if name == "" {
			name = ch.URL
		}
		stream := &models.Stream{
			SourceURL: ch.URL,
			Protocol:  models.StreamProtocol(ch.Protocol),
		}
		pairs = append(pairs, repository.ChannelStreamPair{
			Channel: &models.Channel{
				Number:     ch.Number,
				Name:       name,
				LogoURL:    ch.LogoURL,
				EpgKey:     ch.EpgKey,
				GroupTitle: ch.GroupTitle,
			},
			Stream: stream,
		})
	}

	result, err := i.channels.UpsertPairs(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("importing channels: %w", err)
	}
	i.logger.Info("playlist import persisted",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
	)
	return result, nil
}
