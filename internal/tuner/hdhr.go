// Package tuner presents the bridge to Plex as an HDHomeRun network tuner:
// the discover/lineup JSON endpoints plus an SSDP responder.
package tuner

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/plexbridge/plexbridge/internal/repository"
)

const (
	manufacturer = "PlexBridge"

	DefaultFriendlyName    = "PlexBridge"
	DefaultModelNumber     = "HDTC-2US"
	DefaultFirmwareName    = "hdhomeruntc_atsc"
	DefaultFirmwareVersion = "20200101"
	DefaultTunerCount      = 4

	// deviceIDSettingKey persists the generated device id across restarts.
	deviceIDSettingKey = "tuner.device_id"
)

// Discover is the device descriptor Plex fetches first. Field names are part
// of the HDHomeRun protocol and must not change.
type Discover struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

// LineupItem is one channel in lineup.json.
type LineupItem struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// LineupStatus is the static scan descriptor.
type LineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// Config holds tuner identity settings.
type Config struct {
	FriendlyName    string
	ModelNumber     string
	FirmwareName    string
	FirmwareVersion string
	DeviceID        string
	TunerCount      int
	BaseURL         string
}

// Device serves the HDHomeRun JSON surface.
type Device struct {
	cfg      Config
	channels repository.ChannelRepository
	logger   *slog.Logger
}

// NewDevice creates the device. An empty DeviceID is generated once and
// persisted through the settings log so Plex keeps recognizing the tuner.
func NewDevice(ctx context.Context, cfg Config, channels repository.ChannelRepository, settings repository.SettingRepository, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FriendlyName == "" {
		cfg.FriendlyName = DefaultFriendlyName
	}
	if cfg.ModelNumber == "" {
		cfg.ModelNumber = DefaultModelNumber
	}
	if cfg.FirmwareName == "" {
		cfg.FirmwareName = DefaultFirmwareName
	}
	if cfg.FirmwareVersion == "" {
		cfg.FirmwareVersion = DefaultFirmwareVersion
	}
	if cfg.TunerCount <= 0 {
		cfg.TunerCount = DefaultTunerCount
	}

	if cfg.DeviceID == "" {
		id, err := loadOrCreateDeviceID(ctx, settings)
		if err != nil {
			return nil, err
		}
		cfg.DeviceID = id
	}

	return &Device{cfg: cfg, channels: channels, logger: logger}, nil
}

// DeviceID returns the stable identifier the tuner advertises.
func (d *Device) DeviceID() string {
	return d.cfg.DeviceID
}

// Discover returns the device descriptor.
func (d *Device) Discover() Discover {
	return Discover{
		FriendlyName:    d.cfg.FriendlyName,
		Manufacturer:    manufacturer,
		ModelNumber:     d.cfg.ModelNumber,
		FirmwareName:    d.cfg.FirmwareName,
		FirmwareVersion: d.cfg.FirmwareVersion,
		DeviceID:        d.cfg.DeviceID,
		DeviceAuth:      "",
		BaseURL:         d.cfg.BaseURL,
		LineupURL:       d.cfg.BaseURL + "/lineup.json",
		TunerCount:      d.cfg.TunerCount,
	}
}

// Lineup projects the channel store into HDHomeRun lineup entries. An empty
// lineup is a valid answer, never an error, as long as the store is up.
func (d *Device) Lineup(ctx context.Context) ([]LineupItem, error) {
	entries, err := d.channels.ProjectLineup(ctx)
	if err != nil {
		return nil, fmt.Errorf("projecting lineup: %w", err)
	}

	items := make([]LineupItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, LineupItem{
			GuideNumber: entry.Number,
			GuideName:   entry.Name,
			URL:         fmt.Sprintf("%s/stream/%s", d.cfg.BaseURL, entry.ChannelID),
		})
	}
	return items, nil
}

// LineupStatus returns the static scan descriptor Plex polls.
func (d *Device) LineupStatus() LineupStatus {
	return LineupStatus{
		ScanInProgress: 0,
		ScanPossible:   1,
		Source:         "IPTV",
		SourceList:     []string{"IPTV"},
	}
}

// loadOrCreateDeviceID reads the persisted device id or mints one in the
// HDHomeRun style: 8 uppercase hex digits.
func loadOrCreateDeviceID(ctx context.Context, settings repository.SettingRepository) (string, error) {
	existing, err := settings.GetLatest(ctx, deviceIDSettingKey)
	if err != nil {
		return "", fmt.Errorf("loading device id: %w", err)
	}
	if existing != nil && existing.Value != "" {
		return existing.Value, nil
	}

	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating device id: %w", err)
	}
	id := fmt.Sprintf("%X", raw)
	if err := settings.Append(ctx, deviceIDSettingKey, id); err != nil {
		return "", fmt.Errorf("persisting device id: %w", err)
	}
	return id, nil
}
