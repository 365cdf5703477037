package models

import (
	"strings"

	"gorm.io/gorm"
)

// StreamProtocol tags the transport of a stream source URL.
type StreamProtocol string

// Recognized stream protocols.
const (
	ProtocolHLS  StreamProtocol = "hls"
	ProtocolDASH StreamProtocol = "dash"
	ProtocolRTSP StreamProtocol = "rtsp"
	ProtocolRTMP StreamProtocol = "rtmp"
	ProtocolUDP  StreamProtocol = "udp"
	ProtocolHTTP StreamProtocol = "http"
	ProtocolMMS  StreamProtocol = "mms"
	ProtocolSRT  StreamProtocol = "srt"
)

// IsValid reports whether p is a recognized protocol tag.
func (p StreamProtocol) IsValid() bool {
	switch p {
	case ProtocolHLS, ProtocolDASH, ProtocolRTSP, ProtocolRTMP,
		ProtocolUDP, ProtocolHTTP, ProtocolMMS, ProtocolSRT:
		return true
	}
	return false
}

// DetectProtocol infers the protocol tag from a stream URL.
// Scheme wins over extension; plain HTTP(S) URLs ending in .m3u8 are HLS
// and .mpd are DASH, everything else over HTTP(S) is plain http.
func DetectProtocol(url string) StreamProtocol {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "rtsp://"):
		return ProtocolRTSP
	case strings.HasPrefix(lower, "rtmp://"), strings.HasPrefix(lower, "rtmps://"):
		return ProtocolRTMP
	case strings.HasPrefix(lower, "udp://"):
		return ProtocolUDP
	case strings.HasPrefix(lower, "srt://"):
		return ProtocolSRT
	case strings.HasPrefix(lower, "mms://"), strings.HasPrefix(lower, "mmsh://"):
		return ProtocolMMS
	}

	// Strip query before looking at the extension.
	path := lower
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch {
	case strings.HasSuffix(path, ".m3u8"), strings.HasSuffix(path, ".m3u"):
		return ProtocolHLS
	case strings.HasSuffix(path, ".mpd"):
		return ProtocolDASH
	}
	return ProtocolHTTP
}

// Stream represents one backing source URL for a channel.
type Stream struct {
	BaseModel

	// ChannelID is the owning channel; nil for orphan imports awaiting binding.
	ChannelID *ULID `gorm:"type:varchar(26);index" json:"channel_id,omitempty"`

	// SourceURL is the upstream stream URL.
	SourceURL string `gorm:"not null;size:4096;index" json:"source_url"`

	// Protocol is the transport tag inferred at import or set by the operator.
	Protocol StreamProtocol `gorm:"not null;size:16" json:"protocol"`

	// Username and Password are upstream credentials. Stored opaquely and
	// never echoed by listing endpoints (masked in API responses).
	Username string `gorm:"size:255" json:"-"`
	Password string `gorm:"size:255" json:"-"`

	// Headers holds extra HTTP headers as a JSON object string.
	Headers string `gorm:"type:text" json:"headers,omitempty"`

	// BackupURLs holds ordered fallback URLs as a JSON array string.
	BackupURLs string `gorm:"type:text" json:"backup_urls,omitempty"`

	// FFmpegArgs optionally overrides the canonical FFmpeg template.
	// Overrides missing -i, pipe:1, or -hide_banner are ignored at spawn.
	FFmpegArgs string `gorm:"type:text" json:"ffmpeg_args,omitempty"`

	// Primary marks the preferred stream for its channel. At most one
	// enabled stream per channel is primary at any instant.
	Primary bool `gorm:"column:is_primary;default:false" json:"primary"`

	// Position preserves insertion order for resolution among non-primaries.
	Position int `gorm:"default:0;index" json:"position"`

	// Enabled streams are candidates for playback. Defaults to true.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Channel is the relationship back to the owning channel.
	Channel *Channel `gorm:"foreignKey:ChannelID" json:"-"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsEnabled reports whether the stream is enabled.
func (s *Stream) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.SourceURL == "" {
		return ErrURLRequired
	}
	if s.Protocol == "" {
		s.Protocol = DetectProtocol(s.SourceURL)
	}
	if !s.Protocol.IsValid() {
		return ErrInvalidProtocol
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates a ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the stream before update.
func (s *Stream) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
