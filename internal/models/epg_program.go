package models

import (
	"time"

	"gorm.io/gorm"
)

// EpgProgram represents a single guide entry from an EPG source.
//
// Identity is the composite (channel_key, start); after ingest the intervals
// for a given key are half-open and non-overlapping. Overlap resolution on
// ingest: later provenance wins, and for equal starts the shorter program wins.
type EpgProgram struct {
	BaseModel

	// SourceID is the provenance: the EpgSource this entry came from.
	SourceID ULID `gorm:"type:varchar(26);not null;index" json:"source_id"`

	// ChannelKey is the EPG channel identifier (matches Channel.EpgKey).
	ChannelKey string `gorm:"not null;size:255;uniqueIndex:idx_program_key_start;index:idx_program_window" json:"channel_key"`

	// Start is the program start instant (inclusive).
	Start time.Time `gorm:"not null;uniqueIndex:idx_program_key_start;index:idx_program_window" json:"start"`

	// Stop is the program end instant (exclusive).
	Stop time.Time `gorm:"not null;index" json:"stop"`

	// Title is the program title.
	Title string `gorm:"not null;size:512" json:"title"`

	// Description is the full program description.
	Description string `gorm:"type:text" json:"description,omitempty"`

	// Genres holds program genres as a JSON array string.
	Genres string `gorm:"type:text" json:"genres,omitempty"`
}

// TableName returns the table name for EpgProgram.
func (EpgProgram) TableName() string {
	return "epg_programs"
}

// Duration returns the program duration.
func (p *EpgProgram) Duration() time.Duration {
	return p.Stop.Sub(p.Start)
}

// IsOnAir reports whether the program covers the given instant.
func (p *EpgProgram) IsOnAir(at time.Time) bool {
	return !at.Before(p.Start) && at.Before(p.Stop)
}

// Validate performs basic validation on the program.
func (p *EpgProgram) Validate() error {
	if p.ChannelKey == "" {
		return ErrChannelKeyRequired
	}
	if p.Start.IsZero() {
		return ErrStartTimeRequired
	}
	if p.Title == "" {
		return ErrTitleRequired
	}
	if !p.Stop.After(p.Start) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the program and generates a ULID.
func (p *EpgProgram) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
