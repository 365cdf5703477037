package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

const defaultGuideWindow = 24 * time.Hour

// EpgHandler handles guide lookup and channel matching endpoints.
type EpgHandler struct {
	lookup      *epg.Lookup
	mapper      *epg.Mapper
	epgChannels repository.EpgChannelRepository
	channels    repository.ChannelRepository
	logger      *slog.Logger
}

// NewEpgHandler creates a new EPG handler.
func NewEpgHandler(lookup *epg.Lookup, mapper *epg.Mapper, epgChannels repository.EpgChannelRepository, channels repository.ChannelRepository, logger *slog.Logger) *EpgHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EpgHandler{
		lookup:      lookup,
		mapper:      mapper,
		epgChannels: epgChannels,
		channels:    channels,
		logger:      logger,
	}
}

// Register registers the EPG routes with the API.
func (h *EpgHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getGuide",
		Method:      "GET",
		Path:        "/api/v1/epg/guide",
		Summary:     "Get guide",
		Description: "Returns programs for every lineup channel in a time window; unmapped channels get synthetic placeholder entries",
		Tags:        []string{"EPG"},
	}, h.GetGuide)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelGuide",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}/guide",
		Summary:     "Get channel guide",
		Description: "Returns programs for one channel in a time window",
		Tags:        []string{"EPG"},
	}, h.GetChannelGuide)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelOnAir",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}/now",
		Summary:     "Get current program",
		Description: "Returns the program on air right now for a channel",
		Tags:        []string{"EPG"},
	}, h.GetOnAir)

	huma.Register(api, huma.Operation{
		OperationID: "listEpgChannels",
		Method:      "GET",
		Path:        "/api/v1/epg/channels",
		Summary:     "List guide channels",
		Description: "Returns every channel definition ingested from XMLTV feeds",
		Tags:        []string{"EPG"},
	}, h.ListEpgChannels)

	huma.Register(api, huma.Operation{
		OperationID: "listEpgSuggestions",
		Method:      "GET",
		Path:        "/api/v1/epg/suggestions",
		Summary:     "List mapping suggestions",
		Description: "Returns the best guide channel match per unmapped lineup channel",
		Tags:        []string{"EPG"},
	}, h.ListSuggestions)

	huma.Register(api, huma.Operation{
		OperationID: "listChannelEpgSuggestions",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}/epg-suggestions",
		Summary:     "List suggestions for a channel",
		Description: "Returns ranked guide channel matches for one channel",
		Tags:        []string{"EPG"},
	}, h.ChannelSuggestions)

	huma.Register(api, huma.Operation{
		OperationID: "autoMapEpg",
		Method:      "POST",
		Path:        "/api/v1/epg/automap",
		Summary:     "Auto-map channels",
		Description: "Applies the best guide channel match to every unmapped lineup channel",
		Tags:        []string{"EPG"},
	}, h.AutoMap)
}

// GuideWindowInput selects a guide time window. Defaults to now..now+24h.
type GuideWindowInput struct {
	From string `query:"from" doc:"RFC 3339 window start"`
	To   string `query:"to" doc:"RFC 3339 window end"`
}

func (in *GuideWindowInput) window() (time.Time, time.Time, error) {
	from := time.Now().UTC()
	to := from.Add(defaultGuideWindow)
	if in.From != "" {
		parsed, err := time.Parse(time.RFC3339, in.From)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
		to = from.Add(defaultGuideWindow)
	}
	if in.To != "" {
		parsed, err := time.Parse(time.RFC3339, in.To)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}

// GetGuideOutput is the output for the full guide.
type GetGuideOutput struct {
	Body struct {
		From     string             `json:"from"`
		To       string             `json:"to"`
		Channels []epg.ChannelGuide `json:"channels"`
	}
}

// GetGuide returns the guide for every lineup channel.
func (h *EpgHandler) GetGuide(ctx context.Context, input *GuideWindowInput) (*GetGuideOutput, error) {
	from, to, err := input.window()
	if err != nil {
		return nil, huma.Error400BadRequest("invalid time window", err)
	}

	guide, err := h.lookup.GetGuide(ctx, from, to)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to build guide", err)
	}

	resp := &GetGuideOutput{}
	resp.Body.From = from.UTC().Format(time.RFC3339)
	resp.Body.To = to.UTC().Format(time.RFC3339)
	resp.Body.Channels = guide
	return resp, nil
}

// ChannelGuideInput is the input for a single channel guide.
type ChannelGuideInput struct {
	ID string `path:"id" doc:"Channel ID"`
	GuideWindowInput
}

// ChannelGuideOutput is the output for a single channel guide.
type ChannelGuideOutput struct {
	Body epg.ChannelGuide
}

// GetChannelGuide returns the guide for one channel.
func (h *EpgHandler) GetChannelGuide(ctx context.Context, input *ChannelGuideInput) (*ChannelGuideOutput, error) {
	channelID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}
	from, to, err := input.window()
	if err != nil {
		return nil, huma.Error400BadRequest("invalid time window", err)
	}

	guide, err := h.lookup.GetChannelGuide(ctx, channelID, from, to)
	if err != nil {
		if errors.Is(err, models.ErrChannelNotFound) {
			return nil, huma.Error404NotFound("channel not found")
		}
		return nil, huma.Error500InternalServerError("failed to build guide", err)
	}

	return &ChannelGuideOutput{Body: *guide}, nil
}

// OnAirInput is the input for the current program lookup.
type OnAirInput struct {
	ID string `path:"id" doc:"Channel ID"`
}

// OnAirOutput is the output for the current program lookup.
type OnAirOutput struct {
	Body epg.Program
}

// GetOnAir returns the program on air now for a channel.
func (h *EpgHandler) GetOnAir(ctx context.Context, input *OnAirInput) (*OnAirOutput, error) {
	channelID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}

	program, err := h.lookup.GetOnAir(ctx, channelID, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrChannelNotFound) {
			return nil, huma.Error404NotFound("channel not found")
		}
		return nil, huma.Error500InternalServerError("failed to look up program", err)
	}

	return &OnAirOutput{Body: *program}, nil
}

// ListEpgChannelsOutput is the output for listing guide channels.
type ListEpgChannelsOutput struct {
	Body struct {
		Channels []models.EpgChannel `json:"channels"`
	}
}

// ListEpgChannels returns every known XMLTV channel definition.
func (h *EpgHandler) ListEpgChannels(ctx context.Context, input *struct{}) (*ListEpgChannelsOutput, error) {
	channels, err := h.epgChannels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list guide channels", err)
	}

	resp := &ListEpgChannelsOutput{}
	resp.Body.Channels = make([]models.EpgChannel, 0, len(channels))
	for _, ch := range channels {
		resp.Body.Channels = append(resp.Body.Channels, *ch)
	}
	return resp, nil
}

// ListSuggestionsOutput is the output for listing mapping suggestions.
type ListSuggestionsOutput struct {
	Body struct {
		Suggestions []epg.Suggestion `json:"suggestions"`
	}
}

// ListSuggestions returns the best match per unmapped channel.
func (h *EpgHandler) ListSuggestions(ctx context.Context, input *struct{}) (*ListSuggestionsOutput, error) {
	suggestions, err := h.mapper.SuggestAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to build suggestions", err)
	}

	resp := &ListSuggestionsOutput{}
	resp.Body.Suggestions = suggestions
	return resp, nil
}

// ChannelSuggestionsInput is the input for per-channel suggestions.
type ChannelSuggestionsInput struct {
	ID string `path:"id" doc:"Channel ID"`
}

// ChannelSuggestionsOutput is the output for per-channel suggestions.
type ChannelSuggestionsOutput struct {
	Body struct {
		Suggestions []epg.Suggestion `json:"suggestions"`
	}
}

// ChannelSuggestions returns ranked matches for one channel.
func (h *EpgHandler) ChannelSuggestions(ctx context.Context, input *ChannelSuggestionsInput) (*ChannelSuggestionsOutput, error) {
	channelID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}

	channel, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound("channel not found")
	}

	suggestions, err := h.mapper.Suggest(ctx, channel)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to build suggestions", err)
	}

	resp := &ChannelSuggestionsOutput{}
	resp.Body.Suggestions = suggestions
	return resp, nil
}

// AutoMapOutput is the output for auto-mapping.
type AutoMapOutput struct {
	Body epg.AutoMapResult
}

// AutoMap applies the best match to every unmapped channel.
func (h *EpgHandler) AutoMap(ctx context.Context, input *struct{}) (*AutoMapOutput, error) {
	result, err := h.mapper.AutoMap(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("auto-map failed", err)
	}
	return &AutoMapOutput{Body: *result}, nil
}
