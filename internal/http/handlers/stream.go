package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/proxy"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// StreamHandler handles stream API endpoints.
type StreamHandler struct {
	streams   repository.StreamRepository
	channels  repository.ChannelRepository
	validator *proxy.Validator
	logger    *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(streams repository.StreamRepository, channels repository.ChannelRepository, validator *proxy.Validator, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		streams:   streams,
		channels:  channels,
		validator: validator,
		logger:    logger,
	}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Description: "Returns all streams, optionally filtered by channel",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Get stream",
		Description: "Returns a stream by ID; credentials are never echoed",
		Tags:        []string{"Streams"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createStream",
		Method:      "POST",
		Path:        "/api/v1/streams",
		Summary:     "Create stream",
		Description: "Creates a stream, optionally bound to a channel",
		Tags:        []string{"Streams"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PUT",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Update stream",
		Description: "Updates an existing stream",
		Tags:        []string{"Streams"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Delete stream",
		Description: "Deletes a stream",
		Tags:        []string{"Streams"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "validateStream",
		Method:      "POST",
		Path:        "/api/v1/streams/{id}/validate",
		Summary:     "Validate stream",
		Description: "Probes the upstream for a few seconds and reports whether it produces usable MPEG-TS",
		Tags:        []string{"Streams"},
	}, h.Validate)

	huma.Register(api, huma.Operation{
		OperationID: "resolveChannelStream",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}/stream",
		Summary:     "Resolve channel stream",
		Description: "Returns the stream the proxy would pick for a channel: the primary stream, otherwise the earliest enabled one",
		Tags:        []string{"Streams"},
	}, h.Resolve)
}

// StreamRequest is the create/update payload for a stream.
type StreamRequest struct {
	ChannelID  string `json:"channel_id,omitempty" doc:"Channel to bind to"`
	SourceURL  string `json:"source_url" minLength:"1"`
	Protocol   string `json:"protocol,omitempty" doc:"Inferred from the URL scheme when omitted"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Headers    string `json:"headers,omitempty" doc:"JSON object of extra request headers"`
	BackupURLs string `json:"backup_urls,omitempty" doc:"JSON array of fallback URLs"`
	FFmpegArgs string `json:"ffmpeg_args,omitempty" doc:"FFmpeg argument override; must keep -i, pipe:1 and -hide_banner"`
	Primary    bool   `json:"primary,omitempty"`
	Position   int    `json:"position,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

func (req *StreamRequest) apply(stream *models.Stream) error {
	if req.ChannelID != "" {
		channelID, err := models.ParseULID(req.ChannelID)
		if err != nil {
			return err
		}
		stream.ChannelID = &channelID
	} else {
		stream.ChannelID = nil
	}
	stream.SourceURL = req.SourceURL
	stream.Protocol = models.StreamProtocol(req.Protocol)
	if req.Username != "" {
		stream.Username = req.Username
	}
	if req.Password != "" {
		stream.Password = req.Password
	}
	stream.Headers = req.Headers
	stream.BackupURLs = req.BackupURLs
	stream.FFmpegArgs = req.FFmpegArgs
	stream.Primary = req.Primary
	stream.Position = req.Position
	if req.Enabled != nil {
		stream.Enabled = req.Enabled
	}
	return nil
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct {
	ChannelID string `query:"channel_id" doc:"Limit to streams bound to this channel"`
}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []models.Stream `json:"streams"`
	}
}

// List returns streams, optionally for one channel.
func (h *StreamHandler) List(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	var (
		streams []*models.Stream
		err     error
	)
	if input.ChannelID != "" {
		channelID, parseErr := models.ParseULID(input.ChannelID)
		if parseErr != nil {
			return nil, huma.Error400BadRequest("invalid channel ID", parseErr)
		}
		streams, err = h.streams.GetByChannelID(ctx, channelID)
	} else {
		streams, err = h.streams.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list streams", err)
	}

	resp := &ListStreamsOutput{}
	resp.Body.Streams = make([]models.Stream, 0, len(streams))
	for _, s := range streams {
		resp.Body.Streams = append(resp.Body.Streams, *s)
	}
	return resp, nil
}

// GetStreamInput is the input for getting a stream.
type GetStreamInput struct {
	ID string `path:"id" doc:"Stream ID"`
}

// GetStreamOutput is the output for getting a stream.
type GetStreamOutput struct {
	Body models.Stream
}

// GetByID returns a stream by ID.
func (h *StreamHandler) GetByID(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	stream, err := h.getStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetStreamOutput{Body: *stream}, nil
}

// CreateStreamInput is the input for creating a stream.
type CreateStreamInput struct {
	Body StreamRequest
}

// CreateStreamOutput is the output for creating a stream.
type CreateStreamOutput struct {
	Body models.Stream
}

// Create creates a stream.
func (h *StreamHandler) Create(ctx context.Context, input *CreateStreamInput) (*CreateStreamOutput, error) {
	stream := &models.Stream{}
	if err := input.Body.apply(stream); err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}
	if stream.ChannelID != nil {
		channel, err := h.channels.GetByID(ctx, *stream.ChannelID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get channel", err)
		}
		if channel == nil {
			return nil, huma.Error404NotFound("channel not found")
		}
	}
	if err := stream.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid stream", err)
	}
	if err := h.streams.Create(ctx, stream); err != nil {
		return nil, huma.Error500InternalServerError("failed to create stream", err)
	}

	h.logger.Info("stream created",
		slog.String("stream_id", stream.ID.String()),
		slog.String("protocol", string(stream.Protocol)),
	)

	return &CreateStreamOutput{Body: *stream}, nil
}

// UpdateStreamInput is the input for updating a stream.
type UpdateStreamInput struct {
	ID   string `path:"id" doc:"Stream ID"`
	Body StreamRequest
}

// UpdateStreamOutput is the output for updating a stream.
type UpdateStreamOutput struct {
	Body models.Stream
}

// Update updates an existing stream. Omitted credentials keep their stored
// values so a read-modify-write round trip never wipes them.
func (h *StreamHandler) Update(ctx context.Context, input *UpdateStreamInput) (*UpdateStreamOutput, error) {
	stream, err := h.getStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := input.Body.apply(stream); err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}
	if err := stream.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid stream", err)
	}
	if err := h.streams.Update(ctx, stream); err != nil {
		return nil, huma.Error500InternalServerError("failed to update stream", err)
	}
	return &UpdateStreamOutput{Body: *stream}, nil
}

// DeleteStreamInput is the input for deleting a stream.
type DeleteStreamInput struct {
	ID string `path:"id" doc:"Stream ID"`
}

// DeleteStreamOutput is the output for deleting a stream.
type DeleteStreamOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Delete deletes a stream.
func (h *StreamHandler) Delete(ctx context.Context, input *DeleteStreamInput) (*DeleteStreamOutput, error) {
	stream, err := h.getStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.streams.Delete(ctx, stream.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete stream", err)
	}

	resp := &DeleteStreamOutput{}
	resp.Body.Message = "stream deleted"
	return resp, nil
}

// ValidateStreamInput is the input for validating a stream.
type ValidateStreamInput struct {
	ID string `path:"id" doc:"Stream ID"`
}

// ValidateStreamOutput is the output for validating a stream.
type ValidateStreamOutput struct {
	Body proxy.ValidationResult
}

// Validate probes a stream's upstream and reports the detected type.
func (h *StreamHandler) Validate(ctx context.Context, input *ValidateStreamInput) (*ValidateStreamOutput, error) {
	stream, err := h.getStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	result := h.validator.Validate(ctx, stream.SourceURL)
	return &ValidateStreamOutput{Body: *result}, nil
}

// ResolveStreamInput is the input for resolving a channel's stream.
type ResolveStreamInput struct {
	ID string `path:"id" doc:"Channel ID"`
}

// ResolveStreamOutput is the output for resolving a channel's stream.
type ResolveStreamOutput struct {
	Body models.Stream
}

// Resolve returns the stream the proxy would pick for a channel.
func (h *StreamHandler) Resolve(ctx context.Context, input *ResolveStreamInput) (*ResolveStreamOutput, error) {
	channelID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID", err)
	}

	stream, err := h.streams.ResolveForChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, models.ErrStreamNotFound) {
			return nil, huma.Error404NotFound("no enabled stream for channel")
		}
		return nil, huma.Error500InternalServerError("failed to resolve stream", err)
	}

	return &ResolveStreamOutput{Body: *stream}, nil
}

func (h *StreamHandler) getStream(ctx context.Context, rawID string) (*models.Stream, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid stream ID", err)
	}
	stream, err := h.streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	if stream == nil {
		return nil, huma.Error404NotFound("stream not found")
	}
	return stream, nil
}
