package epg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// Match method labels, ordered by confidence.
const (
	MatchExact     = "exact"
	MatchSubstring = "substring"
	MatchTokenSet  = "token-set"
)

// Confidence bands per match tier. Substring confidence scales with how much
// of the longer name the shorter one covers; token-set confidence is the
// Jaccard index itself.
const (
	exactConfidence  = 1.0
	substringBase    = 0.6
	substringSpan    = 0.3
	jaccardThreshold = 0.5
	autoMapMinApply  = 0.5
)

// Suggestion proposes an EPG channel key for a lineup channel.
type Suggestion struct {
	ChannelID   models.ULID `json:"channel_id"`
	ChannelName string      `json:"channel_name"`
	ChannelKey  string      `json:"channel_key"`
	DisplayName string      `json:"display_name"`
	Confidence  float64     `json:"confidence"`
	Method      string      `json:"method"`
}

// AutoMapResult summarises one auto-map run.
type AutoMapResult struct {
	Considered int          `json:"considered"`
	Mapped     int          `json:"mapped"`
	Applied    []Suggestion `json:"applied"`
}

// candidate is a guide channel prepared for matching.
type candidate struct {
	key        string
	display    string
	normalized string
	tokens     map[string]bool
}

// Mapper suggests epg_key values for channels by comparing channel names
// against guide display names.
type Mapper struct {
	channels    repository.ChannelRepository
	epgChannels repository.EpgChannelRepository
	logger      *slog.Logger
}

// NewMapper creates the mapper.
func NewMapper(channels repository.ChannelRepository, epgChannels repository.EpgChannelRepository, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{channels: channels, epgChannels: epgChannels, logger: logger}
}

// Suggest returns match suggestions for one channel, best first.
func (m *Mapper) Suggest(ctx context.Context, channel *models.Channel) ([]Suggestion, error) {
	candidates, err := m.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}
	return rankMatches(channel, candidates), nil
}

// SuggestAll returns the best suggestion per unmapped enabled channel.
func (m *Mapper) SuggestAll(ctx context.Context) ([]Suggestion, error) {
	candidates, err := m.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := m.channels.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	var suggestions []Suggestion
	for _, channel := range channels {
		if channel.EpgKey != "" || !channel.IsEnabled() {
			continue
		}
		ranked := rankMatches(channel, candidates)
		if len(ranked) > 0 {
			suggestions = append(suggestions, ranked[0])
		}
	}
	return suggestions, nil
}

// AutoMap applies the best suggestion to every unmapped enabled channel.
// Already-mapped channels are never touched.
func (m *Mapper) AutoMap(ctx context.Context) (*AutoMapResult, error) {
	candidates, err := m.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := m.channels.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	result := &AutoMapResult{}
	for _, channel := range channels {
		if channel.EpgKey != "" || !channel.IsEnabled() {
			continue
		}
		result.Considered++

		ranked := rankMatches(channel, candidates)
		if len(ranked) == 0 || ranked[0].Confidence < autoMapMinApply {
			continue
		}
		best := ranked[0]

		channel.EpgKey = best.ChannelKey
		if err := m.channels.Update(ctx, channel); err != nil {
			return nil, fmt.Errorf("mapping channel %s: %w", channel.ID, err)
		}
		result.Mapped++
		result.Applied = append(result.Applied, best)
		m.logger.Debug("channel auto-mapped",
			slog.String("channel_id", channel.ID.String()),
			slog.String("channel_name", channel.Name),
			slog.String("epg_key", best.ChannelKey),
			slog.String("method", best.Method),
			slog.Float64("confidence", best.Confidence))
	}

	m.logger.Info("auto-map complete",
		slog.Int("considered", result.Considered),
		slog.Int("mapped", result.Mapped))
	return result, nil
}

func (m *Mapper) loadCandidates(ctx context.Context) ([]candidate, error) {
	defs, err := m.epgChannels.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing guide channels: %w", err)
	}
	candidates := make([]candidate, 0, len(defs))
	for _, def := range defs {
		display := def.DisplayName
		if display == "" {
			display = def.ChannelKey
		}
		normalized := normalizeName(display)
		candidates = append(candidates, candidate{
			key:        def.ChannelKey,
			display:    display,
			normalized: normalized,
			tokens:     tokenSet(normalized),
		})
	}
	return candidates, nil
}

// rankMatches scores one channel against all candidates. Results are sorted
// by confidence descending, then display name for determinism.
func rankMatches(channel *models.Channel, candidates []candidate) []Suggestion {
	name := channel.Name
	nameLower := strings.ToLower(name)
	nameNorm := normalizeName(name)
	nameTokens := tokenSet(nameNorm)

	var out []Suggestion
	for _, c := range candidates {
		confidence, method, ok := score(nameLower, nameNorm, nameTokens, c)
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
			ChannelKey:  c.key,
			DisplayName: c.display,
			Confidence:  confidence,
			Method:      method,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// score applies the match tiers in order and returns the first that fires.
func score(nameLower, nameNorm string, nameTokens map[string]bool, c candidate) (float64, string, bool) {
	if nameLower != "" && nameLower == strings.ToLower(c.display) {
		return exactConfidence, MatchExact, true
	}

	if nameNorm != "" && c.normalized != "" {
		shorter, longer := nameNorm, c.normalized
		if len(shorter) > len(longer) {
			shorter, longer = longer, shorter
		}
		if strings.Contains(longer, shorter) {
			span := float64(len(shorter)) / float64(len(longer))
			return substringBase + substringSpan*span, MatchSubstring, true
		}
	}

	if j := jaccard(nameTokens, c.tokens); j >= jaccardThreshold {
		return j, MatchTokenSet, true
	}
	return 0, "", false
}
