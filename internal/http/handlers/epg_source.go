package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// EpgSourceHandler handles EPG source API endpoints.
type EpgSourceHandler struct {
	sources   repository.EpgSourceRepository
	refresher *epg.Refresher
	scheduler *epg.Scheduler
	logger    *slog.Logger
}

// NewEpgSourceHandler creates a new EPG source handler. The scheduler is
// resynced after every mutation so cadence changes take effect immediately.
func NewEpgSourceHandler(sources repository.EpgSourceRepository, refresher *epg.Refresher, scheduler *epg.Scheduler, logger *slog.Logger) *EpgSourceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EpgSourceHandler{
		sources:   sources,
		refresher: refresher,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Register registers the EPG source routes with the API.
func (h *EpgSourceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEpgSources",
		Method:      "GET",
		Path:        "/api/v1/epg/sources",
		Summary:     "List EPG sources",
		Description: "Returns all XMLTV sources",
		Tags:        []string{"EPG Sources"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getEpgSource",
		Method:      "GET",
		Path:        "/api/v1/epg/sources/{id}",
		Summary:     "Get EPG source",
		Description: "Returns an XMLTV source by ID",
		Tags:        []string{"EPG Sources"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createEpgSource",
		Method:      "POST",
		Path:        "/api/v1/epg/sources",
		Summary:     "Create EPG source",
		Description: "Creates an XMLTV source and schedules its refresh",
		Tags:        []string{"EPG Sources"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateEpgSource",
		Method:      "PUT",
		Path:        "/api/v1/epg/sources/{id}",
		Summary:     "Update EPG source",
		Description: "Updates an XMLTV source and reschedules its refresh",
		Tags:        []string{"EPG Sources"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteEpgSource",
		Method:      "DELETE",
		Path:        "/api/v1/epg/sources/{id}",
		Summary:     "Delete EPG source",
		Description: "Deletes an XMLTV source and its ingested guide data",
		Tags:        []string{"EPG Sources"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "refreshEpgSource",
		Method:      "POST",
		Path:        "/api/v1/epg/sources/{id}/refresh",
		Summary:     "Refresh EPG source",
		Description: "Fetches and ingests the source immediately",
		Tags:        []string{"EPG Sources"},
	}, h.Refresh)
}

// EpgSourceRequest is the create/update payload for an EPG source.
type EpgSourceRequest struct {
	Name             string `json:"name" minLength:"1"`
	URL              string `json:"url" minLength:"1" doc:"XMLTV feed URL, optionally gzip/bzip2/xz compressed"`
	RefreshInterval  string `json:"refresh_interval,omitempty" doc:"One of 30m, 1h, 4h, 12h, 1d" default:"4h"`
	CategoryOverride string `json:"category_override,omitempty" doc:"Replaces all feed categories when set"`
	SecondaryGenres  string `json:"secondary_genres,omitempty" doc:"JSON array of genres appended to every program"`
	Enabled          *bool  `json:"enabled,omitempty"`
}

// ListEpgSourcesOutput is the output for listing EPG sources.
type ListEpgSourcesOutput struct {
	Body struct {
		Sources []models.EpgSource `json:"sources"`
	}
}

// List returns all EPG sources.
func (h *EpgSourceHandler) List(ctx context.Context, input *struct{}) (*ListEpgSourcesOutput, error) {
	sources, err := h.sources.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list EPG sources", err)
	}

	resp := &ListEpgSourcesOutput{}
	resp.Body.Sources = make([]models.EpgSource, 0, len(sources))
	for _, s := range sources {
		resp.Body.Sources = append(resp.Body.Sources, *s)
	}
	return resp, nil
}

// GetEpgSourceInput is the input for getting an EPG source.
type GetEpgSourceInput struct {
	ID string `path:"id" doc:"EPG source ID"`
}

// GetEpgSourceOutput is the output for getting an EPG source.
type GetEpgSourceOutput struct {
	Body models.EpgSource
}

// GetByID returns an EPG source by ID.
func (h *EpgSourceHandler) GetByID(ctx context.Context, input *GetEpgSourceInput) (*GetEpgSourceOutput, error) {
	source, err := h.getSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetEpgSourceOutput{Body: *source}, nil
}

// CreateEpgSourceInput is the input for creating an EPG source.
type CreateEpgSourceInput struct {
	Body EpgSourceRequest
}

// CreateEpgSourceOutput is the output for creating an EPG source.
type CreateEpgSourceOutput struct {
	Body models.EpgSource
}

// Create creates an EPG source.
func (h *EpgSourceHandler) Create(ctx context.Context, input *CreateEpgSourceInput) (*CreateEpgSourceOutput, error) {
	source := &models.EpgSource{
		Name:             input.Body.Name,
		URL:              input.Body.URL,
		RefreshInterval:  input.Body.RefreshInterval,
		CategoryOverride: input.Body.CategoryOverride,
		SecondaryGenres:  input.Body.SecondaryGenres,
		Enabled:          input.Body.Enabled,
	}
	if err := source.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid EPG source", err)
	}
	if err := h.sources.Create(ctx, source); err != nil {
		return nil, huma.Error500InternalServerError("failed to create EPG source", err)
	}
	h.resync(ctx)

	h.logger.Info("EPG source created",
		slog.String("source_id", source.ID.String()),
		slog.String("name", source.Name),
	)

	return &CreateEpgSourceOutput{Body: *source}, nil
}

// UpdateEpgSourceInput is the input for updating an EPG source.
type UpdateEpgSourceInput struct {
	ID   string `path:"id" doc:"EPG source ID"`
	Body EpgSourceRequest
}

// UpdateEpgSourceOutput is the output for updating an EPG source.
type UpdateEpgSourceOutput struct {
	Body models.EpgSource
}

// Update updates an existing EPG source.
func (h *EpgSourceHandler) Update(ctx context.Context, input *UpdateEpgSourceInput) (*UpdateEpgSourceOutput, error) {
	source, err := h.getSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	source.Name = input.Body.Name
	source.URL = input.Body.URL
	if input.Body.RefreshInterval != "" {
		source.RefreshInterval = input.Body.RefreshInterval
	}
	source.CategoryOverride = input.Body.CategoryOverride
	source.SecondaryGenres = input.Body.SecondaryGenres
	if input.Body.Enabled != nil {
		source.Enabled = input.Body.Enabled
	}

	if err := source.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid EPG source", err)
	}
	if err := h.sources.Update(ctx, source); err != nil {
		return nil, huma.Error500InternalServerError("failed to update EPG source", err)
	}
	h.resync(ctx)

	return &UpdateEpgSourceOutput{Body: *source}, nil
}

// DeleteEpgSourceInput is the input for deleting an EPG source.
type DeleteEpgSourceInput struct {
	ID string `path:"id" doc:"EPG source ID"`
}

// DeleteEpgSourceOutput is the output for deleting an EPG source.
type DeleteEpgSourceOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Delete deletes an EPG source together with its guide data.
func (h *EpgSourceHandler) Delete(ctx context.Context, input *DeleteEpgSourceInput) (*DeleteEpgSourceOutput, error) {
	source, err := h.getSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.sources.Delete(ctx, source.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete EPG source", err)
	}
	h.resync(ctx)

	resp := &DeleteEpgSourceOutput{}
	resp.Body.Message = "EPG source deleted"
	return resp, nil
}

// RefreshEpgSourceInput is the input for refreshing an EPG source.
type RefreshEpgSourceInput struct {
	ID string `path:"id" doc:"EPG source ID"`
}

// RefreshEpgSourceOutput is the output for refreshing an EPG source.
type RefreshEpgSourceOutput struct {
	Body epg.RefreshResult
}

// Refresh ingests the source immediately, outside its schedule.
func (h *EpgSourceHandler) Refresh(ctx context.Context, input *RefreshEpgSourceInput) (*RefreshEpgSourceOutput, error) {
	source, err := h.getSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	result, refreshErr := h.refresher.RefreshSource(ctx, source)
	if refreshErr != nil {
		return nil, huma.Error502BadGateway("EPG refresh failed", refreshErr)
	}

	return &RefreshEpgSourceOutput{Body: *result}, nil
}

func (h *EpgSourceHandler) getSource(ctx context.Context, rawID string) (*models.EpgSource, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid EPG source ID", err)
	}
	source, err := h.sources.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get EPG source", err)
	}
	if source == nil {
		return nil, huma.Error404NotFound("EPG source not found")
	}
	return source, nil
}

func (h *EpgSourceHandler) resync(ctx context.Context) {
	if h.scheduler == nil {
		return
	}
	if err := h.scheduler.Resync(ctx); err != nil {
		h.logger.Warn("EPG scheduler resync failed", slog.Any("error", err))
	}
}
