package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/ingest"
)

// SSEParseHandler streams playlist parse results as server-sent events. It
// bypasses huma because event delivery needs per-chunk flushing.
type SSEParseHandler struct {
	service *ingest.Service
	logger  *slog.Logger
}

// NewSSEParseHandler creates a new SSE parse handler.
func NewSSEParseHandler(service *ingest.Service, logger *slog.Logger) *SSEParseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEParseHandler{service: service, logger: logger}
}

// RegisterRoutes registers the SSE route on the raw router.
func (h *SSEParseHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/streams/parse/m3u/stream", h.Handle)
}

// Handle runs one parse session over SSE. Closing the connection cancels the
// pipeline through the request context.
func (h *SSEParseHandler) Handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	url := query.Get("url")
	if url == "" {
		http.Error(w, "url query parameter is required", http.StatusBadRequest)
		return
	}

	opts := ingest.Options{
		URL:      url,
		UseCache: query.Get("useCache") == "true",
		Adaptive: query.Get("adaptive") != "false",
	}
	if raw := query.Get("chunkSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			http.Error(w, "chunkSize must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.ChunkSize = size
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	emitter := &sseEmitter{w: w, rc: http.NewResponseController(w)}

	if err := h.service.Run(r.Context(), opts, emitter); err != nil {
		// The error event has already been emitted; this is for the log only.
		h.logger.Debug("SSE parse session failed",
			slog.String("error", err.Error()),
		)
	}
}

// sseEmitter writes pipeline events in SSE wire format, flushing after each
// one. The flush is the backpressure signal the adaptive batcher observes.
type sseEmitter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (e *sseEmitter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	if err := e.rc.Flush(); err != nil {
		return fmt.Errorf("flushing %s event: %w", event, err)
	}
	return nil
}

func (e *sseEmitter) Progress(ev ingest.ProgressEvent) error {
	return e.send("progress", ev)
}

func (e *sseEmitter) Channels(ev ingest.ChannelsEvent) error {
	return e.send("channels", ev)
}

func (e *sseEmitter) Complete(ev ingest.CompleteEvent) error {
	return e.send("complete", ev)
}

func (e *sseEmitter) Error(ev ingest.ErrorEvent) error {
	return e.send("error", ev)
}
