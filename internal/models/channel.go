package models

import (
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// channelNumberPattern accepts integers and dotted decimals like "103.1".
var channelNumberPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Channel represents a single lineup channel exposed to Plex.
type Channel struct {
	BaseModel

	// Number is the human channel number, an integer or decimal like "103.1".
	// Stored as a string because HDHomeRun lineups carry it as a string;
	// ordering is numeric-aware (see CompareNumbers).
	Number string `gorm:"not null;size:16;index" json:"number"`

	// Name is the display name shown in the guide.
	Name string `gorm:"not null;size:512" json:"name"`

	// LogoURL is an optional channel logo URI, passed through untouched.
	LogoURL string `gorm:"size:2048" json:"logo_url,omitempty"`

	// EpgKey joins the channel to EPG programs (matches EpgProgram.ChannelKey).
	EpgKey string `gorm:"size:255;index" json:"epg_key,omitempty"`

	// GroupTitle is the import category, kept for operator filtering.
	GroupTitle string `gorm:"size:255;index" json:"group_title,omitempty"`

	// Enabled channels appear in the lineup. Defaults to true.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Streams are the backing streams, ordered by position.
	Streams []Stream `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// IsEnabled reports whether the channel is enabled.
func (c *Channel) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Number == "" {
		return ErrNumberRequired
	}
	if !channelNumberPattern.MatchString(c.Number) {
		return ErrInvalidNumber
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates a ULID.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}

// NumberSortKey decomposes a channel number into (major, minor) for ordering.
// "103.1" sorts after "103" and before "104"; malformed numbers sort last.
func NumberSortKey(number string) (int, int) {
	major, minor := 1<<30, 0
	parts := strings.SplitN(number, ".", 2)
	if n, err := strconv.Atoi(parts[0]); err == nil {
		major = n
	}
	if len(parts) == 2 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			minor = n
		}
	}
	return major, minor
}

// CompareNumbers orders channel numbers numerically, decimal suffix second.
// Returns a negative value if a < b, zero if equal, positive if a > b.
func CompareNumbers(a, b string) int {
	amaj, amin := NumberSortKey(a)
	bmaj, bmin := NumberSortKey(b)
	if amaj != bmaj {
		return amaj - bmaj
	}
	return amin - bmin
}
