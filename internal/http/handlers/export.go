package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/pkg/xmltv"
)

const exportWindow = 24 * time.Hour

// ExportHandler serves the lineup guide as an XMLTV document so Plex can be
// pointed at the bridge for guide data. Channel ids are the bridge's own
// channel IDs, matching the GuideNumber mapping in the lineup.
type ExportHandler struct {
	lookup  *epg.Lookup
	version string
	logger  *slog.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(lookup *epg.Lookup, version string, logger *slog.Logger) *ExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportHandler{lookup: lookup, version: version, logger: logger}
}

// RegisterRoutes registers the export route on the raw router.
func (h *ExportHandler) RegisterRoutes(router chi.Router) {
	router.Get("/epg.xml", h.Export)
}

// Export writes the guide for the next 24 hours. Unmapped channels carry
// their synthetic placeholder entries so every lineup channel has coverage.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	from := time.Now().UTC()
	to := from.Add(exportWindow)

	guide, err := h.lookup.GetGuide(r.Context(), from, to)
	if err != nil {
		h.logger.Error("guide export failed", slog.Any("error", err))
		http.Error(w, "guide unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")

	writer := xmltv.NewWriter(w, "plexbridge/"+h.version)
	for i := range guide {
		ch := &guide[i]
		if err := writer.WriteChannel(&xmltv.Channel{
			ID:           ch.ChannelID.String(),
			DisplayNames: []string{ch.Name, ch.Number},
		}); err != nil {
			h.logger.Debug("guide export aborted", slog.Any("error", err))
			return
		}
	}
	for i := range guide {
		ch := &guide[i]
		for j := range ch.Programs {
			p := &ch.Programs[j]
			if err := writer.WriteProgramme(&xmltv.Programme{
				Start:       p.Start,
				Stop:        p.Stop,
				Channel:     ch.ChannelID.String(),
				Title:       p.Title,
				Description: p.Description,
				Categories:  p.Genres,
			}); err != nil {
				h.logger.Debug("guide export aborted", slog.Any("error", err))
				return
			}
		}
	}
	if err := writer.Close(); err != nil {
		h.logger.Debug("guide export aborted", slog.Any("error", err))
	}
}
