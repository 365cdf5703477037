package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/proxy"
)

// ProxyHandler exposes the TS proxy. The stream routes are raw chi handlers
// because they hold the response open and write MPEG-TS; only the session
// listing goes through huma.
type ProxyHandler struct {
	supervisor *proxy.Supervisor
}

// NewProxyHandler creates a new proxy handler.
func NewProxyHandler(supervisor *proxy.Supervisor) *ProxyHandler {
	return &ProxyHandler{supervisor: supervisor}
}

// RegisterRoutes registers the streaming routes on the raw router.
func (h *ProxyHandler) RegisterRoutes(router chi.Router) {
	router.Get("/stream/{channelID}", h.StreamChannel)
	router.Get("/streams/preview/{streamID}", h.PreviewStream)
}

// Register registers the session listing with the API.
func (h *ProxyHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listProxySessions",
		Method:      "GET",
		Path:        "/api/v1/proxy/sessions",
		Summary:     "List proxy sessions",
		Description: "Returns every active FFmpeg relay session",
		Tags:        []string{"Proxy"},
	}, h.ListSessions)
}

// StreamChannel relays a channel's resolved stream as MPEG-TS. This is the
// URL Plex gets from the lineup.
func (h *ProxyHandler) StreamChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := models.ParseULID(chi.URLParam(r, "channelID"))
	if err != nil {
		http.Error(w, "invalid channel ID", http.StatusBadRequest)
		return
	}
	h.supervisor.ServeChannel(w, r, channelID)
}

// PreviewStream relays one specific stream, bypassing channel resolution.
func (h *ProxyHandler) PreviewStream(w http.ResponseWriter, r *http.Request) {
	streamID, err := models.ParseULID(chi.URLParam(r, "streamID"))
	if err != nil {
		http.Error(w, "invalid stream ID", http.StatusBadRequest)
		return
	}
	h.supervisor.ServePreview(w, r, streamID)
}

// ListSessionsOutput is the output for listing proxy sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []proxy.SessionInfo `json:"sessions"`
	}
}

// ListSessions returns active relay sessions.
func (h *ProxyHandler) ListSessions(ctx context.Context, input *struct{}) (*ListSessionsOutput, error) {
	resp := &ListSessionsOutput{}
	resp.Body.Sessions = h.supervisor.Registry().Active()
	return resp, nil
}
