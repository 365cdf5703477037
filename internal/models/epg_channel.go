package models

import "gorm.io/gorm"

// EpgChannel is a channel definition from an XMLTV feed. Display names feed
// the channel-to-EPG matching; the key joins programs to lineup channels.
type EpgChannel struct {
	BaseModel

	// SourceID is the EpgSource this definition came from.
	SourceID ULID `gorm:"type:varchar(26);not null;index" json:"source_id"`

	// ChannelKey is the XMLTV channel id.
	ChannelKey string `gorm:"not null;size:255;uniqueIndex" json:"channel_key"`

	// DisplayName is the first display-name the feed supplied.
	DisplayName string `gorm:"size:512" json:"display_name"`

	// IconURL is the channel icon, when present.
	IconURL string `gorm:"size:2048" json:"icon_url,omitempty"`
}

// TableName returns the table name for EpgChannel.
func (EpgChannel) TableName() string {
	return "epg_channels"
}

// Validate performs basic validation on the channel definition.
func (c *EpgChannel) Validate() error {
	if c.ChannelKey == "" {
		return ErrChannelKeyRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates a ULID.
func (c *EpgChannel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}
