package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// ChannelHandler handles channel API endpoints.
type ChannelHandler struct {
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	logger   *slog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(channels repository.ChannelRepository, streams repository.StreamRepository, logger *slog.Logger) *ChannelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelHandler{
		channels: channels,
		streams:  streams,
		logger:   logger,
	}
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Description: "Returns channels ordered by number, optionally paginated",
		Tags:        []string{"Channels"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Get channel",
		Description: "Returns a channel by ID with its streams",
		Tags:        []string{"Channels"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createChannel",
		Method:      "POST",
		Path:        "/api/v1/channels",
		Summary:     "Create channel",
		Description: "Creates a channel; a taken number is replaced by the next free integer",
		Tags:        []string{"Channels"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateChannel",
		Method:      "PUT",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Update channel",
		Description: "Updates an existing channel",
		Tags:        []string{"Channels"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteChannel",
		Method:      "DELETE",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Delete channel",
		Description: "Deletes a channel and its bound streams",
		Tags:        []string{"Channels"},
	}, h.Delete)
}

// ChannelRequest is the create/update payload for a channel.
type ChannelRequest struct {
	Name       string `json:"name" minLength:"1" doc:"Display name"`
	Number     string `json:"number,omitempty" doc:"Requested channel number"`
	LogoURL    string `json:"logo_url,omitempty"`
	EpgKey     string `json:"epg_key,omitempty" doc:"XMLTV channel id this channel maps to"`
	GroupTitle string `json:"group_title,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct {
	Offset int `query:"offset" minimum:"0" default:"0"`
	Limit  int `query:"limit" minimum:"0" maximum:"1000" default:"0" doc:"0 returns all channels"`
}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Channels []models.Channel `json:"channels"`
		Total    int64            `json:"total"`
	}
}

// List returns channels ordered by number.
func (h *ChannelHandler) List(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	resp := &ListChannelsOutput{}

	if input.Limit > 0 {
		channels, total, err := h.channels.GetPaginated(ctx, input.Offset, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list channels", err)
		}
		resp.Body.Channels = derefChannels(channels)
		resp.Body.Total = total
		return resp, nil
	}

	channels, err := h.channels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels", err)
	}
	resp.Body.Channels = derefChannels(channels)
	resp.Body.Total = int64(len(channels))
	return resp, nil
}

// GetChannelInput is the input for getting a channel.
type GetChannelInput struct {
	ID string `path:"id" doc:"Channel ID"`
}

// GetChannelOutput is the output for getting a channel.
type GetChannelOutput struct {
	Body models.Channel
}

// GetByID returns a channel with its streams.
func (h *ChannelHandler) GetByID(ctx context.Context, input *GetChannelInput) (*GetChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}

	channel, err := h.channels.GetByIDWithStreams(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound("channel not found")
	}

	return &GetChannelOutput{Body: *channel}, nil
}

// CreateChannelInput is the input for creating a channel.
type CreateChannelInput struct {
	Body ChannelRequest
}

// CreateChannelOutput is the output for creating a channel.
type CreateChannelOutput struct {
	Body models.Channel
}

// Create creates a channel. A requested number that is already taken is
// replaced by the next free integer rather than rejected.
func (h *ChannelHandler) Create(ctx context.Context, input *CreateChannelInput) (*CreateChannelOutput, error) {
	number, err := h.channels.NextFreeNumber(ctx, input.Body.Number)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to assign channel number", err)
	}

	channel := &models.Channel{
		Name:       input.Body.Name,
		Number:     number,
		LogoURL:    input.Body.LogoURL,
		EpgKey:     input.Body.EpgKey,
		GroupTitle: input.Body.GroupTitle,
		Enabled:    input.Body.Enabled,
	}
	if err := channel.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid channel", err)
	}
	if err := h.channels.Create(ctx, channel); err != nil {
		return nil, huma.Error500InternalServerError("failed to create channel", err)
	}

	h.logger.Info("channel created",
		slog.String("channel_id", channel.ID.String()),
		slog.String("number", channel.Number),
		slog.String("name", channel.Name),
	)

	return &CreateChannelOutput{Body: *channel}, nil
}

// UpdateChannelInput is the input for updating a channel.
type UpdateChannelInput struct {
	ID   string `path:"id" doc:"Channel ID"`
	Body ChannelRequest
}

// UpdateChannelOutput is the output for updating a channel.
type UpdateChannelOutput struct {
	Body models.Channel
}

// Update updates an existing channel.
func (h *ChannelHandler) Update(ctx context.Context, input *UpdateChannelInput) (*UpdateChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}

	channel, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound("channel not found")
	}

	if input.Body.Number != "" && input.Body.Number != channel.Number {
		inUse, err := h.channels.NumberInUse(ctx, input.Body.Number, id)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to check channel number", err)
		}
		if inUse {
			return nil, huma.Error400BadRequest("channel number already in use")
		}
		channel.Number = input.Body.Number
	}

	channel.Name = input.Body.Name
	channel.LogoURL = input.Body.LogoURL
	channel.EpgKey = input.Body.EpgKey
	channel.GroupTitle = input.Body.GroupTitle
	if input.Body.Enabled != nil {
		channel.Enabled = input.Body.Enabled
	}

	if err := channel.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid channel", err)
	}
	if err := h.channels.Update(ctx, channel); err != nil {
		return nil, huma.Error500InternalServerError("failed to update channel", err)
	}

	return &UpdateChannelOutput{Body: *channel}, nil
}

// DeleteChannelInput is the input for deleting a channel.
type DeleteChannelInput struct {
	ID string `path:"id" doc:"Channel ID"`
}

// DeleteChannelOutput is the output for deleting a channel.
type DeleteChannelOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Delete deletes a channel; bound streams cascade.
func (h *ChannelHandler) Delete(ctx context.Context, input *DeleteChannelInput) (*DeleteChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}

	channel, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound("channel not found")
	}

	if err := h.channels.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete channel", err)
	}

	resp := &DeleteChannelOutput{}
	resp.Body.Message = "channel deleted"
	return resp, nil
}

func derefChannels(channels []*models.Channel) []models.Channel {
	out := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, *ch)
	}
	return out
}
