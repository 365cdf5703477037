package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/pkg/m3u"
)

// progressInterval rate-limits progress events.
const progressInterval = time.Second

// Options configure one pipeline run.
type Options struct {
	URL       string
	ChunkSize int
	UseCache  bool
	Adaptive  bool
}

// Service runs the M3U import pipeline. The cache and registry are
// process-wide; everything else is per run.
type Service struct {
	client       *httpclient.Client
	cache        *Cache
	registry     *Registry
	logger       *slog.Logger
	defaultChunk int
	fetchTimeout time.Duration
}

// NewService creates the pipeline service.
func NewService(client *httpclient.Client, cache *Cache, registry *Registry, defaultChunk int, fetchTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultChunk <= 0 {
		defaultChunk = 1000
	}
	if fetchTimeout <= 0 {
		fetchTimeout = httpclient.DefaultTimeout
	}
	return &Service{
		client:       client,
		cache:        cache,
		registry:     registry,
		logger:       logger,
		defaultChunk: defaultChunk,
		fetchTimeout: fetchTimeout,
	}
}

// Registry exposes the session registry for listing endpoints.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Run executes fetch, parse, batch, emit for one request. It returns after
// the terminal event has been emitted; the error mirrors the terminal state.
func (s *Service) Run(ctx context.Context, opts Options, emit Emitter) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = s.defaultChunk
	}
	sessionID := s.registry.Begin(opts.URL)
	log := s.logger.With(slog.String("session_id", sessionID))

	if opts.UseCache {
		if cached := s.cache.Get(opts.URL); cached != nil {
			log.Info("playlist served from cache", slog.Int("channels", len(cached)))
			err := s.replay(cached, opts.ChunkSize, emit)
			if err != nil {
				s.registry.End(sessionID, PhaseCancelled, "")
				return err
			}
			s.registry.End(sessionID, PhaseComplete, "")
			return nil
		}
	}

	run := &pipelineRun{
		service: s,
		opts:    opts,
		emit:    emit,
		batcher: NewBatcher(opts.ChunkSize, opts.Adaptive),
		log:     log,
		started: time.Now(),
	}

	err := run.execute(ctx, sessionID)
	switch {
	case err == nil:
		s.registry.End(sessionID, PhaseComplete, "")
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		// Client closed the SSE response: no terminal event can reach it.
		log.Info("ingest session cancelled", slog.Int("parsed", run.total))
		s.registry.End(sessionID, PhaseCancelled, "")
		return err
	default:
		log.Warn("ingest session failed", slog.String("error", err.Error()))
		_ = emit.Error(ErrorEvent{Error: err.Error(), Stage: run.stage})
		s.registry.End(sessionID, PhaseError, err.Error())
		return err
	}
}

// pipelineRun is the per-request state of one ingest.
type pipelineRun struct {
	service *Service
	opts    Options
	emit    Emitter
	batcher *Batcher
	log     *slog.Logger

	started      time.Time
	stage        string
	buffer       []Channel
	collected    []Channel
	uncacheable  bool
	total        int
	chunks       int
	backpressure bool
	lastProgress time.Time
	bytesRead    *countingReader
	fetchedIn    time.Duration
}

func (r *pipelineRun) execute(ctx context.Context, sessionID string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.service.fetchTimeout)
	defer cancel()

	r.stage = "fetch"
	r.service.registry.Update(sessionID, PhaseFetching, 0)
	_ = r.emit.Progress(ProgressEvent{Stage: "fetch", Progress: 0, Message: "fetching playlist"})

	fetchStart := time.Now()
	resp, err := r.service.client.Get(fetchCtx, r.opts.URL)
	if err != nil {
		return fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	r.fetchedIn = time.Since(fetchStart)

	r.stage = "parse"
	r.service.registry.Update(sessionID, PhaseParsing, 0)
	r.bytesRead = &countingReader{r: resp.Body}

	parser := &m3u.Parser{
		OnEntry: func(entry *m3u.Entry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.buffer = append(r.buffer, channelFromEntry(entry))
			r.total++
			if len(r.buffer) >= r.batcher.Size() {
				if err := r.flushChunk(false); err != nil {
					return err
				}
				r.service.registry.Update(sessionID, PhaseParsing, r.total)
			}
			r.maybeProgress(resp.ContentLength)
			return nil
		},
		OnError: func(lineNum int, err error) {
			r.log.Debug("skipping malformed playlist line",
				slog.Int("line", lineNum),
				slog.String("error", err.Error()),
			)
		},
	}

	stats, err := parser.ParseCompressed(r.bytesRead)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		if errors.Is(err, m3u.ErrNotAPlaylist) {
			return fmt.Errorf("not an M3U playlist: %w", err)
		}
		return fmt.Errorf("parsing playlist: %w", err)
	}

	// Final chunk closes the stream even when empty.
	if err := r.flushChunk(true); err != nil {
		return err
	}

	elapsed := time.Since(r.started)
	metrics := PerformanceMetrics{
		DurationMS:    elapsed.Milliseconds(),
		FetchMS:       r.fetchedIn.Milliseconds(),
		ChannelsPerS:  ratePerSecond(r.total, elapsed),
		BytesFetched:  r.bytesRead.total.Load(),
		IgnoredLines:  stats.IgnoredLines,
		ChunksEmitted: r.chunks,
	}
	if err := r.emit.Complete(CompleteEvent{TotalChannels: r.total, PerformanceMetrics: metrics}); err != nil {
		return err
	}

	if r.opts.UseCache {
		if r.uncacheable {
			r.log.Debug("playlist too large to cache", slog.Int("channels", r.total))
		} else if stored := r.service.cache.Put(r.opts.URL, r.collected); !stored {
			r.log.Debug("playlist too large to cache", slog.Int("channels", r.total))
		}
	}
	return nil
}

// flushChunk emits the buffered channels and adapts the batch size from how
// long the previous emit took to acknowledge.
func (r *pipelineRun) flushChunk(final bool) error {
	if !final && len(r.buffer) == 0 {
		return nil
	}

	chunk := r.buffer
	r.buffer = nil
	if r.opts.UseCache && !r.uncacheable {
		// Past the cache ceiling Put would refuse the list anyway, so the
		// copy is dropped instead of growing with the playlist.
		if len(r.collected)+len(chunk) > r.service.cache.MaxChannels() {
			r.uncacheable = true
			r.collected = nil
		} else {
			r.collected = append(r.collected, chunk...)
		}
	}

	flagged := r.backpressure
	emitStart := time.Now()
	err := r.emit.Channels(ChannelsEvent{
		Channels:     chunk,
		TotalParsed:  r.total,
		IsComplete:   final,
		ChunkSize:    len(chunk),
		Backpressure: flagged,
	})
	if err != nil {
		return err
	}
	// The emit blocks until the consumer drains it, so its duration is the
	// acknowledgement latency that drives the next chunk size.
	r.backpressure = r.batcher.Observe(time.Since(emitStart))
	r.chunks++
	return nil
}

// maybeProgress emits a parse progress event at most once per second.
func (r *pipelineRun) maybeProgress(contentLength int64) {
	now := time.Now()
	if now.Sub(r.lastProgress) < progressInterval {
		return
	}
	r.lastProgress = now

	elapsed := now.Sub(r.started)
	rate := ratePerSecond(r.total, elapsed)
	ev := ProgressEvent{
		Stage:          "parse",
		Progress:       -1,
		Message:        fmt.Sprintf("parsed %d channels", r.total),
		ProcessingRate: rate,
	}
	if contentLength > 0 {
		read := r.bytesRead.total.Load()
		pct := float64(read) / float64(contentLength) * 100
		if pct > 100 {
			pct = 100
		}
		ev.Progress = pct
		if rate > 0 && pct > 0 {
			remaining := elapsed.Seconds() * (100 - pct) / pct
			ev.ETASeconds = remaining
		}
	}
	_ = r.emit.Progress(ev)
}

// replay serves a cached parse as if fresh, with stage "cache".
func (s *Service) replay(channels []Channel, chunkSize int, emit Emitter) error {
	start := time.Now()
	if err := emit.Progress(ProgressEvent{Stage: "cache", Progress: 100, Message: "serving cached playlist"}); err != nil {
		return err
	}

	chunks := 0
	for offset := 0; ; offset += chunkSize {
		end := offset + chunkSize
		final := end >= len(channels)
		if final {
			end = len(channels)
		}
		if err := emit.Channels(ChannelsEvent{
			Channels:    channels[offset:end],
			TotalParsed: end,
			IsComplete:  final,
			ChunkSize:   end - offset,
		}); err != nil {
			return err
		}
		chunks++
		if final {
			break
		}
	}

	return emit.Complete(CompleteEvent{
		TotalChannels: len(channels),
		PerformanceMetrics: PerformanceMetrics{
			DurationMS:    time.Since(start).Milliseconds(),
			ChannelsPerS:  ratePerSecond(len(channels), time.Since(start)),
			ChunksEmitted: chunks,
			FromCache:     true,
		},
	})
}

// ParseOnce is the legacy one-shot path: the whole playlist in a single
// response. Clients use the estimator to decide this is safe first.
func (s *Service) ParseOnce(ctx context.Context, url string, useCache bool) ([]Channel, error) {
	if useCache {
		if cached := s.cache.Get(url); cached != nil {
			return cached, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	resp, err := s.client.Get(fetchCtx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var channels []Channel
	parser := &m3u.Parser{OnEntry: func(entry *m3u.Entry) error {
		channels = append(channels, channelFromEntry(entry))
		return nil
	}}
	if _, err := parser.ParseCompressed(resp.Body); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	if useCache {
		s.cache.Put(url, channels)
	}
	return channels, nil
}

// channelFromEntry converts a parsed playlist record to the wire shape.
func channelFromEntry(entry *m3u.Entry) Channel {
	name := entry.TvgName
	if name == "" {
		name = entry.Title
	}
	var attrs map[string]string
	if len(entry.Extra) > 0 {
		attrs = entry.Extra
	}
	return Channel{
		Name:       name,
		Number:     entry.TvgChno,
		LogoURL:    entry.TvgLogo,
		EpgKey:     entry.TvgID,
		GroupTitle: entry.GroupTitle,
		URL:        entry.URL,
		Protocol:   string(models.DetectProtocol(entry.URL)),
		Attributes: attrs,
	}
}

func ratePerSecond(count int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed.Seconds()
}

// countingReader counts bytes consumed from the upstream body. The count is
// read from the progress path while the parse goroutine advances it.
type countingReader struct {
	r     io.Reader
	total atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total.Add(int64(n))
	return n, err
}
