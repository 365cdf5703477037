package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/ingest"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// IngestHandler handles playlist parse and import endpoints. The streaming
// SSE variant lives on the raw router; everything here is plain JSON.
type IngestHandler struct {
	service   *ingest.Service
	estimator *ingest.Estimator
	importer  *ingest.Importer
	logger    *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(service *ingest.Service, estimator *ingest.Estimator, importer *ingest.Importer, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		service:   service,
		estimator: estimator,
		importer:  importer,
		logger:    logger,
	}
}

// Register registers the ingest routes with the API.
func (h *IngestHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "estimatePlaylist",
		Method:      "GET",
		Path:        "/api/streams/parse/m3u/estimate",
		Summary:     "Estimate playlist size",
		Description: "Sizes a playlist with a HEAD request and recommends the streaming endpoint for large ones",
		Tags:        []string{"Ingest"},
	}, h.Estimate)

	huma.Register(api, huma.Operation{
		OperationID: "parsePlaylist",
		Method:      "POST",
		Path:        "/api/v1/streams/parse/m3u",
		Summary:     "Parse playlist",
		Description: "Fetches and parses a playlist, returning the full channel list in one response",
		Tags:        []string{"Ingest"},
	}, h.Parse)

	huma.Register(api, huma.Operation{
		OperationID: "importPlaylist",
		Method:      "POST",
		Path:        "/api/v1/streams/import/m3u",
		Summary:     "Import playlist channels",
		Description: "Upserts parsed channels and their streams into the store in one transaction",
		Tags:        []string{"Ingest"},
	}, h.Import)

	huma.Register(api, huma.Operation{
		OperationID: "listIngestSessions",
		Method:      "GET",
		Path:        "/api/v1/ingest/sessions",
		Summary:     "List ingest sessions",
		Description: "Returns active and recently finished parse sessions",
		Tags:        []string{"Ingest"},
	}, h.Sessions)
}

// EstimateInput is the input for the playlist size estimate.
type EstimateInput struct {
	URL string `query:"url" required:"true" doc:"Playlist URL"`
}

// EstimateOutput is the output for the playlist size estimate.
type EstimateOutput struct {
	Body ingest.Estimate
}

// Estimate sizes a playlist without fetching it.
func (h *IngestHandler) Estimate(ctx context.Context, input *EstimateInput) (*EstimateOutput, error) {
	estimate, err := h.estimator.Estimate(ctx, input.URL)
	if err != nil {
		return nil, huma.Error502BadGateway("failed to reach playlist", err)
	}
	return &EstimateOutput{Body: *estimate}, nil
}

// ParseInput is the input for the one-shot parse.
type ParseInput struct {
	Body struct {
		URL      string `json:"url" minLength:"1" doc:"Playlist URL"`
		UseCache bool   `json:"use_cache,omitempty" doc:"Serve a recent parse of the same URL from cache"`
	}
}

// ParseOutput is the output for the one-shot parse.
type ParseOutput struct {
	Body struct {
		Channels []ingest.Channel `json:"channels"`
		Total    int              `json:"total"`
	}
}

// Parse fetches and parses a playlist in one shot. Large playlists should use
// the SSE endpoint instead; the estimate endpoint tells clients which to pick.
func (h *IngestHandler) Parse(ctx context.Context, input *ParseInput) (*ParseOutput, error) {
	channels, err := h.service.ParseOnce(ctx, input.Body.URL, input.Body.UseCache)
	if err != nil {
		return nil, huma.Error502BadGateway("failed to parse playlist", err)
	}

	resp := &ParseOutput{}
	resp.Body.Channels = channels
	resp.Body.Total = len(channels)
	return resp, nil
}

// ImportInput is the input for importing parsed channels.
type ImportInput struct {
	Body struct {
		Channels []ingest.Channel `json:"channels" minItems:"1"`
	}
}

// ImportOutput is the output for importing parsed channels.
type ImportOutput struct {
	Body repository.UpsertResult
}

// Import upserts parsed channels into the store.
func (h *IngestHandler) Import(ctx context.Context, input *ImportInput) (*ImportOutput, error) {
	result, err := h.importer.Import(ctx, input.Body.Channels)
	if err != nil {
		return nil, huma.Error500InternalServerError("import failed", err)
	}

	h.logger.Info("playlist imported",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
	)

	return &ImportOutput{Body: *result}, nil
}

// SessionsOutput is the output for listing ingest sessions.
type SessionsOutput struct {
	Body struct {
		Sessions []*ingest.Session `json:"sessions"`
	}
}

// Sessions lists parse sessions.
func (h *IngestHandler) Sessions(ctx context.Context, input *struct{}) (*SessionsOutput, error) {
	resp := &SessionsOutput{}
	resp.Body.Sessions = h.service.Registry().Active()
	return resp, nil
}
