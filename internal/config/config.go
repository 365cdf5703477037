// Package config provides configuration management for plexbridge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8088
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultFetchTimeout        = 120 * time.Second
	defaultReadIdleTimeout     = 30 * time.Second
	defaultChunkSize           = 1000
	defaultCacheTTL            = time.Hour
	defaultCacheMaxEntries     = 100
	defaultCacheMaxChannels    = 200000
	defaultMaxConcurrent       = 10
	defaultQueueWait           = 5 * time.Second
	defaultEPGRefreshInterval  = 4 * time.Hour
	defaultEPGMaxFileSize      = 100 * 1024 * 1024
	defaultEPGFetchTimeout     = 60 * time.Second
	defaultTunerCount          = 4
	defaultSSDPNotifyInterval  = 30 * time.Minute
	defaultValidationTimeout   = 8 * time.Second
	defaultStreamWriteChunk    = 64 * 1024
	defaultKillGrace           = 2 * time.Second
)

// EPGRefreshIntervals enumerates the accepted refresh cadences.
var EPGRefreshIntervals = map[string]time.Duration{
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	EPG      EPGConfig      `mapstructure:"epg"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Tuner    TunerConfig    `mapstructure:"tuner"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AdvertisedHost  string        `mapstructure:"advertised_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage paths.
type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	LogDir   string `mapstructure:"log_dir"`
	CacheDir string `mapstructure:"cache_dir"`
	LogoDir  string `mapstructure:"logo_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// IngestConfig holds M3U ingest pipeline configuration.
type IngestConfig struct {
	// FetchTimeout bounds the whole playlist download.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// ReadIdleTimeout bounds the gap between successive reads.
	ReadIdleTimeout time.Duration `mapstructure:"read_idle_timeout"`
	// ChunkSize is the default emit batch size before adaptation.
	ChunkSize int `mapstructure:"chunk_size"`
	// CacheTTL is the positive cache entry lifetime.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CacheMaxEntries bounds the LRU playlist cache.
	CacheMaxEntries int `mapstructure:"cache_max_entries"`
	// CacheMaxChannels suppresses caching of playlists larger than this.
	CacheMaxChannels int `mapstructure:"cache_max_channels"`
	// UserAgent is sent on playlist fetches; some providers reject unknown agents.
	UserAgent string `mapstructure:"user_agent"`
}

// EPGConfig holds EPG refresh configuration.
type EPGConfig struct {
	// RefreshInterval is the default cadence for sources without their own.
	// One of: 30m, 1h, 2h, 4h, 6h, 12h, 1d.
	RefreshInterval string        `mapstructure:"refresh_interval"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// ProxyConfig holds stream proxy supervisor configuration.
type ProxyConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	QueueWait         time.Duration `mapstructure:"queue_wait"`
	FFmpegPath        string        `mapstructure:"ffmpeg_path"`
	TranscodeEnabled  bool          `mapstructure:"transcode_enabled"`
	VideoCodec        string        `mapstructure:"video_codec"`
	AudioCodec        string        `mapstructure:"audio_codec"`
	KillGrace         time.Duration `mapstructure:"kill_grace"`
	WriteChunkSize    int           `mapstructure:"write_chunk_size"`
	ValidationTimeout time.Duration `mapstructure:"validation_timeout"`
}

// TunerConfig holds HDHomeRun emulation configuration.
type TunerConfig struct {
	FriendlyName       string        `mapstructure:"friendly_name"`
	ModelNumber        string        `mapstructure:"model_number"`
	FirmwareName       string        `mapstructure:"firmware_name"`
	FirmwareVersion    string        `mapstructure:"firmware_version"`
	DeviceID           string        `mapstructure:"device_id"`
	TunerCount         int           `mapstructure:"tuner_count"`
	SSDPEnabled        bool          `mapstructure:"ssdp_enabled"`
	SSDPNotifyInterval time.Duration `mapstructure:"ssdp_notify_interval"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PLEXBRIDGE_ and use underscores
// for nesting. Example: PLEXBRIDGE_SERVER_PORT=8088.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/plexbridge")
		v.AddConfigPath("$HOME/.plexbridge")
	}

	v.SetEnvPrefix("PLEXBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.advertised_host", "")
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // streaming responses must not time out
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "plexbridge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("storage.cache_dir", "cache")
	v.SetDefault("storage.logo_dir", "logos")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Ingest defaults
	v.SetDefault("ingest.fetch_timeout", defaultFetchTimeout)
	v.SetDefault("ingest.read_idle_timeout", defaultReadIdleTimeout)
	v.SetDefault("ingest.chunk_size", defaultChunkSize)
	v.SetDefault("ingest.cache_ttl", defaultCacheTTL)
	v.SetDefault("ingest.cache_max_entries", defaultCacheMaxEntries)
	v.SetDefault("ingest.cache_max_channels", defaultCacheMaxChannels)
	v.SetDefault("ingest.user_agent", "VLC/3.0.20 LibVLC/3.0.20")

	// EPG defaults
	v.SetDefault("epg.refresh_interval", "4h")
	v.SetDefault("epg.max_file_size", defaultEPGMaxFileSize)
	v.SetDefault("epg.fetch_timeout", defaultEPGFetchTimeout)

	// Proxy defaults
	v.SetDefault("proxy.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("proxy.queue_wait", defaultQueueWait)
	v.SetDefault("proxy.ffmpeg_path", "ffmpeg")
	v.SetDefault("proxy.transcode_enabled", true)
	v.SetDefault("proxy.video_codec", "libx264")
	v.SetDefault("proxy.audio_codec", "aac")
	v.SetDefault("proxy.kill_grace", defaultKillGrace)
	v.SetDefault("proxy.write_chunk_size", defaultStreamWriteChunk)
	v.SetDefault("proxy.validation_timeout", defaultValidationTimeout)

	// Tuner defaults
	v.SetDefault("tuner.friendly_name", "PlexBridge")
	v.SetDefault("tuner.model_number", "HDTC-2US")
	v.SetDefault("tuner.firmware_name", "hdhomeruntc_atsc")
	v.SetDefault("tuner.firmware_version", "20200101")
	v.SetDefault("tuner.device_id", "PLEXBRIDGE01")
	v.SetDefault("tuner.tuner_count", defaultTunerCount)
	v.SetDefault("tuner.ssdp_enabled", true)
	v.SetDefault("tuner.ssdp_notify_interval", defaultSSDPNotifyInterval)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("ingest.chunk_size must be at least 1")
	}

	if _, ok := EPGRefreshIntervals[c.EPG.RefreshInterval]; !ok {
		return fmt.Errorf("epg.refresh_interval must be one of: 30m, 1h, 2h, 4h, 6h, 12h, 1d")
	}

	if c.Proxy.MaxConcurrent < 1 {
		return fmt.Errorf("proxy.max_concurrent must be at least 1")
	}

	if c.Tuner.TunerCount < 1 {
		return fmt.Errorf("tuner.tuner_count must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the externally reachable base URL of the server.
// The advertised host takes precedence over the bind host because the bridge
// usually binds 0.0.0.0 while Plex must be told a routable address.
func (c *ServerConfig) BaseURL() string {
	host := c.AdvertisedHost
	if host == "" {
		host = c.Host
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// EPGRefreshDuration returns the configured default refresh cadence.
func (c *EPGConfig) EPGRefreshDuration() time.Duration {
	if d, ok := EPGRefreshIntervals[c.RefreshInterval]; ok {
		return d
	}
	return defaultEPGRefreshInterval
}

// LogoPath returns the full path to the logo directory.
func (c *StorageConfig) LogoPath() string {
	return fmt.Sprintf("%s/%s", c.DataDir, c.LogoDir)
}

// CachePath returns the full path to the cache directory.
func (c *StorageConfig) CachePath() string {
	return fmt.Sprintf("%s/%s", c.DataDir, c.CacheDir)
}

// LogPath returns the full path to the log directory.
func (c *StorageConfig) LogPath() string {
	return fmt.Sprintf("%s/%s", c.DataDir, c.LogDir)
}
