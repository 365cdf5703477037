// Package cmd implements the CLI commands for plexbridge.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "plexbridge",
	Short:   "IPTV to Plex bridge",
	Version: version.Short(),
	Long: `plexbridge bridges IPTV sources to Plex by emulating an HDHomeRun
network tuner.

It imports M3U playlists into a channel lineup, ingests XMLTV guide data,
and relays any upstream stream protocol to Plex as MPEG-TS through FFmpeg.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., $HOME/.config/plexbridge, /etc/plexbridge)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig loads configuration and applies the logging flags. CLI flags
// override env and file values only when explicitly set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if flags := rootCmd.PersistentFlags(); flags.Changed("log-level") {
		cfg.Logging.Level = strings.ToLower(flagString(flags, "log-level"))
	}
	if flags := rootCmd.PersistentFlags(); flags.Changed("log-format") {
		cfg.Logging.Format = strings.ToLower(flagString(flags, "log-format"))
	}
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)

	return cfg, nil
}

func flagString(flags *pflag.FlagSet, name string) string {
	value, _ := flags.GetString(name)
	return value
}
