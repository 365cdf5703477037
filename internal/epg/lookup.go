package epg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// placeholderTitle is the synthetic program title for channels with no
// guide data.
const placeholderTitle = "Live"

// placeholderSlot bounds each synthetic program. Placeholders are aligned to
// slot boundaries so repeated queries return stable entries.
const placeholderSlot = 4 * time.Hour

// Program is a guide entry shaped for API responses.
type Program struct {
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Genres      []string  `json:"genres,omitempty"`
	Synthetic   bool      `json:"synthetic,omitempty"`
}

// ChannelGuide is the guide window for one lineup channel.
type ChannelGuide struct {
	ChannelID models.ULID `json:"channel_id"`
	Number    string      `json:"number"`
	Name      string      `json:"name"`
	EpgKey    string      `json:"epg_key,omitempty"`
	Programs  []Program   `json:"programs"`
}

// Lookup joins lineup channels to stored programs.
type Lookup struct {
	channels repository.ChannelRepository
	programs repository.EpgProgramRepository
}

// NewLookup creates the lookup service.
func NewLookup(channels repository.ChannelRepository, programs repository.EpgProgramRepository) *Lookup {
	return &Lookup{channels: channels, programs: programs}
}

// GetGuide returns guide windows for every lineup channel. Channels with no
// epg_key, or whose key has no stored programs, get synthetic placeholders
// covering the window.
func (l *Lookup) GetGuide(ctx context.Context, from, to time.Time) ([]ChannelGuide, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("guide window end must be after start")
	}

	lineup, err := l.channels.ProjectLineup(ctx)
	if err != nil {
		return nil, fmt.Errorf("projecting lineup: %w", err)
	}

	guides := make([]ChannelGuide, 0, len(lineup))
	for _, entry := range lineup {
		programs, err := l.windowFor(ctx, entry.EpgKey, from, to)
		if err != nil {
			return nil, err
		}
		guides = append(guides, ChannelGuide{
			ChannelID: entry.ChannelID,
			Number:    entry.Number,
			Name:      entry.Name,
			EpgKey:    entry.EpgKey,
			Programs:  programs,
		})
	}
	return guides, nil
}

// GetChannelGuide returns the guide window for one channel.
func (l *Lookup) GetChannelGuide(ctx context.Context, channelID models.ULID, from, to time.Time) (*ChannelGuide, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("guide window end must be after start")
	}

	channel, err := l.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("getting channel: %w", err)
	}
	if channel == nil {
		return nil, models.ErrChannelNotFound
	}

	programs, err := l.windowFor(ctx, channel.EpgKey, from, to)
	if err != nil {
		return nil, err
	}
	return &ChannelGuide{
		ChannelID: channel.ID,
		Number:    channel.Number,
		Name:      channel.Name,
		EpgKey:    channel.EpgKey,
		Programs:  programs,
	}, nil
}

// GetOnAir returns the program covering now for one channel, synthesizing a
// placeholder when none is stored.
func (l *Lookup) GetOnAir(ctx context.Context, channelID models.ULID, at time.Time) (*Program, error) {
	channel, err := l.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("getting channel: %w", err)
	}
	if channel == nil {
		return nil, models.ErrChannelNotFound
	}

	if channel.EpgKey != "" {
		stored, err := l.programs.GetOnAir(ctx, channel.EpgKey, at)
		if err != nil {
			return nil, fmt.Errorf("getting on-air program: %w", err)
		}
		if stored != nil {
			p := toProgram(stored)
			return &p, nil
		}
	}

	slot := at.UTC().Truncate(placeholderSlot)
	p := placeholder(slot, slot.Add(placeholderSlot))
	return &p, nil
}

func (l *Lookup) windowFor(ctx context.Context, epgKey string, from, to time.Time) ([]Program, error) {
	if epgKey != "" {
		stored, err := l.programs.GetWindow(ctx, epgKey, from, to)
		if err != nil {
			return nil, fmt.Errorf("getting guide window: %w", err)
		}
		if len(stored) > 0 {
			programs := make([]Program, 0, len(stored))
			for _, p := range stored {
				programs = append(programs, toProgram(p))
			}
			return programs, nil
		}
	}
	return placeholders(from, to), nil
}

// placeholders tiles the window with bounded synthetic programs aligned to
// slot boundaries.
func placeholders(from, to time.Time) []Program {
	var out []Program
	start := from.UTC().Truncate(placeholderSlot)
	for start.Before(to) {
		stop := start.Add(placeholderSlot)
		out = append(out, placeholder(start, stop))
		start = stop
	}
	return out
}

func placeholder(start, stop time.Time) Program {
	return Program{
		Start:     start,
		Stop:      stop,
		Title:     placeholderTitle,
		Synthetic: true,
	}
}

func toProgram(p *models.EpgProgram) Program {
	var genres []string
	if p.Genres != "" {
		// Stored genres are a JSON array string; bad data reads as none.
		_ = json.Unmarshal([]byte(p.Genres), &genres)
	}
	return Program{
		Start:       p.Start,
		Stop:        p.Stop,
		Title:       p.Title,
		Description: p.Description,
		Genres:      genres,
	}
}
