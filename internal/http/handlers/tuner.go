package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/tuner"
)

// TunerHandler serves the HDHomeRun discovery endpoints. These are raw chi
// routes: Plex matches field names and casing exactly, so the payloads must
// not pass through the OpenAPI layer.
type TunerHandler struct {
	device *tuner.Device
	logger *slog.Logger
}

// NewTunerHandler creates a new tuner handler.
func NewTunerHandler(device *tuner.Device, logger *slog.Logger) *TunerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TunerHandler{device: device, logger: logger}
}

// RegisterRoutes registers the discovery routes on the raw router.
func (h *TunerHandler) RegisterRoutes(router chi.Router) {
	router.Get("/discover.json", h.Discover)
	router.Get("/lineup.json", h.Lineup)
	router.Get("/lineup_status.json", h.LineupStatus)
	// Real tuners accept a lineup scan trigger; Plex probes it during setup.
	router.Post("/lineup.post", h.LineupPost)
}

// Discover returns the device description.
func (h *TunerHandler) Discover(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.device.Discover())
}

// Lineup returns the channel lineup. An empty lineup is a valid response.
func (h *TunerHandler) Lineup(w http.ResponseWriter, r *http.Request) {
	lineup, err := h.device.Lineup(r.Context())
	if err != nil {
		h.logger.Error("lineup projection failed", slog.Any("error", err))
		http.Error(w, "lineup unavailable", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, lineup)
}

// LineupStatus reports that no scan is needed or possible.
func (h *TunerHandler) LineupStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.device.LineupStatus())
}

// LineupPost acknowledges scan requests without doing anything; the lineup
// is always current.
func (h *TunerHandler) LineupPost(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *TunerHandler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Debug("tuner response write failed", slog.Any("error", err))
	}
}
