package models

import (
	"time"

	"gorm.io/gorm"
)

// Accepted EPG refresh cadences. Mirrors config.EPGRefreshIntervals; duplicated
// here so the model layer validates without importing config.
var validRefreshIntervals = map[string]time.Duration{
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// EpgSource represents an XMLTV feed refreshed on a cadence.
type EpgSource struct {
	BaseModel

	// Name is the operator-facing label.
	Name string `gorm:"not null;size:255" json:"name"`

	// URL is the XMLTV document location.
	URL string `gorm:"not null;size:2048" json:"url"`

	// RefreshInterval is one of the enumerated cadences (30m..1d).
	RefreshInterval string `gorm:"not null;size:8;default:'4h'" json:"refresh_interval"`

	// CategoryOverride, when set, replaces every ingested program category.
	CategoryOverride string `gorm:"size:255" json:"category_override,omitempty"`

	// SecondaryGenres holds extra genres appended to each program, as a
	// JSON array string.
	SecondaryGenres string `gorm:"type:text" json:"secondary_genres,omitempty"`

	// LastSuccessAt is the completion time of the last successful refresh.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// ConsecutiveFailures counts refresh failures since the last success.
	// Three or more raises a warning; the source stays enabled.
	ConsecutiveFailures int `gorm:"default:0" json:"consecutive_failures"`

	// Enabled sources are refreshed on their cadence. Defaults to true.
	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for EpgSource.
func (EpgSource) TableName() string {
	return "epg_sources"
}

// IsEnabled reports whether the source is enabled.
func (s *EpgSource) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// RefreshDuration returns the cadence as a duration, defaulting to 4h.
func (s *EpgSource) RefreshDuration() time.Duration {
	if d, ok := validRefreshIntervals[s.RefreshInterval]; ok {
		return d
	}
	return 4 * time.Hour
}

// Validate performs basic validation on the EPG source.
func (s *EpgSource) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	if s.RefreshInterval != "" {
		if _, ok := validRefreshIntervals[s.RefreshInterval]; !ok {
			return ErrInvalidRefreshInterval
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the source and generates a ULID.
func (s *EpgSource) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the source before update.
func (s *EpgSource) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
