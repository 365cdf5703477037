package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/epg"
	internalhttp "github.com/plexbridge/plexbridge/internal/http"
	"github.com/plexbridge/plexbridge/internal/http/handlers"
	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/ingest"
	"github.com/plexbridge/plexbridge/internal/proxy"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/internal/tuner"
	"github.com/plexbridge/plexbridge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the plexbridge server",
	Long: `Start the plexbridge HTTP server.

The server provides:
- HDHomeRun discovery endpoints and SSDP presence for Plex
- MPEG-TS stream relay at /stream/{channelID}
- REST API for channels, streams and EPG sources
- XMLTV guide export at /epg.xml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("database", "", "SQLite database path")
	serveCmd.Flags().String("ffmpeg", "", "FFmpeg binary path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}
	if cmd.Flags().Changed("ffmpeg") {
		cfg.Proxy.FFmpegPath, _ = cmd.Flags().GetString("ffmpeg")
	}

	logger := slog.Default()
	baseURL := cfg.Server.BaseURL()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	channelRepo := repository.NewChannelRepository(db.DB)
	streamRepo := repository.NewStreamRepository(db.DB)
	epgSourceRepo := repository.NewEpgSourceRepository(db.DB)
	epgChannelRepo := repository.NewEpgChannelRepository(db.DB)
	epgProgramRepo := repository.NewEpgProgramRepository(db.DB)
	settingRepo := repository.NewSettingRepository(db.DB)

	ingestClient := httpclient.New(httpclient.Config{
		Timeout:         cfg.Ingest.FetchTimeout,
		IdleReadTimeout: cfg.Ingest.ReadIdleTimeout,
		RetryAttempts:   2,
		UserAgent:       cfg.Ingest.UserAgent,
		Logger:          logger,
		Decompress:      true,
	})
	ingestCache := ingest.NewCache(cfg.Ingest.CacheTTL, cfg.Ingest.CacheMaxEntries, cfg.Ingest.CacheMaxChannels)
	ingestService := ingest.NewService(ingestClient, ingestCache, ingest.NewRegistry(),
		cfg.Ingest.ChunkSize, cfg.Ingest.FetchTimeout, logger)
	estimator := ingest.NewEstimator(ingestClient)
	importer := ingest.NewImporter(channelRepo, logger)

	// The EPG client leaves decompression to the XMLTV magic-byte sniffing
	// so bzip2 and xz feeds work the same as gzip ones.
	epgClient := httpclient.New(httpclient.Config{
		Timeout:       cfg.EPG.FetchTimeout,
		RetryAttempts: 2,
		UserAgent:     version.UserAgent(),
		Logger:        logger,
	})
	refresher := epg.NewRefresher(epgClient, epgSourceRepo, epgChannelRepo, epgProgramRepo,
		cfg.EPG.MaxFileSize, cfg.EPG.FetchTimeout, logger)
	scheduler := epg.NewScheduler(refresher, epgSourceRepo, epgProgramRepo, logger)
	lookup := epg.NewLookup(channelRepo, epgProgramRepo)
	mapper := epg.NewMapper(channelRepo, epgChannelRepo, logger)

	supervisor := proxy.NewSupervisor(proxy.Config{
		FFmpegPath:       cfg.Proxy.FFmpegPath,
		MaxConcurrent:    cfg.Proxy.MaxConcurrent,
		QueueWait:        cfg.Proxy.QueueWait,
		KillGrace:        cfg.Proxy.KillGrace,
		WriteChunkSize:   cfg.Proxy.WriteChunkSize,
		TranscodeEnabled: cfg.Proxy.TranscodeEnabled,
		VideoCodec:       cfg.Proxy.VideoCodec,
		AudioCodec:       cfg.Proxy.AudioCodec,
	}, channelRepo, streamRepo, logger)
	validator := proxy.NewValidator(cfg.Proxy.FFmpegPath, cfg.Proxy.ValidationTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := tuner.NewDevice(ctx, tuner.Config{
		FriendlyName:    cfg.Tuner.FriendlyName,
		ModelNumber:     cfg.Tuner.ModelNumber,
		FirmwareName:    cfg.Tuner.FirmwareName,
		FirmwareVersion: cfg.Tuner.FirmwareVersion,
		DeviceID:        cfg.Tuner.DeviceID,
		TunerCount:      cfg.Tuner.TunerCount,
		BaseURL:         baseURL,
	}, channelRepo, settingRepo, logger)
	if err != nil {
		return fmt.Errorf("initializing tuner device: %w", err)
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	api := server.API()
	router := server.Router()

	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithUpstreamClient(ingestClient).
		WithProxyRegistry(supervisor.Registry()).
		Register(api)
	handlers.NewChannelHandler(channelRepo, streamRepo, logger).Register(api)
	handlers.NewStreamHandler(streamRepo, channelRepo, validator, logger).Register(api)
	handlers.NewEpgSourceHandler(epgSourceRepo, refresher, scheduler, logger).Register(api)
	handlers.NewEpgHandler(lookup, mapper, epgChannelRepo, channelRepo, logger).Register(api)
	handlers.NewIngestHandler(ingestService, estimator, importer, logger).Register(api)

	proxyHandler := handlers.NewProxyHandler(supervisor)
	proxyHandler.Register(api)
	proxyHandler.RegisterRoutes(router)
	handlers.NewSSEParseHandler(ingestService, logger).RegisterRoutes(router)
	handlers.NewTunerHandler(device, logger).RegisterRoutes(router)
	handlers.NewExportHandler(lookup, version.Version, logger).RegisterRoutes(router)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting EPG scheduler: %w", err)
	}

	var ssdp *tuner.SSDP
	if cfg.Tuner.SSDPEnabled {
		ssdp = tuner.NewSSDP(baseURL, device.DeviceID(), cfg.Tuner.SSDPNotifyInterval, logger)
		if err := ssdp.Start(ctx); err != nil {
			// Port 1900 may be held by another UPnP stack; Plex can still
			// find the tuner by address.
			logger.Warn("SSDP responder unavailable", slog.String("error", err.Error()))
			ssdp = nil
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("plexbridge started",
		slog.String("base_url", baseURL),
		slog.String("device_id", device.DeviceID()),
	)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// Shutdown order: announce byebye first, then stop scheduled work, then
	// drain HTTP connections.
	if ssdp != nil {
		ssdp.Stop()
	}
	scheduler.Stop()
	if err := server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}
