package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// Supervisor defaults.
const (
	DefaultMaxConcurrent  = 10
	DefaultQueueWait      = 5 * time.Second
	DefaultKillGrace      = 2 * time.Second
	DefaultWriteChunkSize = 64 * 1024
	stderrTailSize        = 4 * 1024
)

// contentTypeMPEGTS is the response content type for every proxied stream.
const contentTypeMPEGTS = "video/mp2t"

// ErrOverCapacity reports that the concurrency cap held the request past
// the queue wait.
var ErrOverCapacity = errors.New("proxy at concurrency capacity")

// Config holds supervisor settings.
type Config struct {
	FFmpegPath       string
	MaxConcurrent    int
	QueueWait        time.Duration
	KillGrace        time.Duration
	WriteChunkSize   int
	TranscodeEnabled bool
	VideoCodec       string
	AudioCodec       string
}

// Supervisor owns the process-wide FFmpeg concurrency cap and the active
// session registry. Sessions are independent; only the semaphore is shared.
type Supervisor struct {
	cfg      Config
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	registry *SessionRegistry
	sem      *semaphore.Weighted
	logger   *slog.Logger

	failMu   sync.Mutex
	failures map[models.ULID]int
}

// NewSupervisor creates the supervisor.
func NewSupervisor(cfg Config, channels repository.ChannelRepository, streams repository.StreamRepository, logger *slog.Logger) *Supervisor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = DefaultQueueWait
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.WriteChunkSize <= 0 {
		cfg.WriteChunkSize = DefaultWriteChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		channels: channels,
		streams:  streams,
		registry: NewSessionRegistry(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger,
		failures: make(map[models.ULID]int),
	}
}

// Registry exposes the session registry for listing endpoints.
func (s *Supervisor) Registry() *SessionRegistry {
	return s.registry
}

// FailureCount returns how many sessions for a stream ended in a
// non-graceful exit after sending bytes.
func (s *Supervisor) FailureCount(streamID models.ULID) int {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failures[streamID]
}

// ServeChannel proxies a channel's resolved stream to the client.
func (s *Supervisor) ServeChannel(w http.ResponseWriter, r *http.Request, channelID models.ULID) {
	session := s.registry.Begin(&channelID, models.ULID{}, clientIP(r))

	channel, err := s.channels.GetByID(r.Context(), channelID)
	if err != nil {
		s.registry.End(session, StateExited)
		s.logger.Error("getting channel",
			slog.String("channel_id", channelID.String()),
			slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if channel == nil {
		s.registry.End(session, StateExited)
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}

	stream, err := s.streams.ResolveForChannel(r.Context(), channelID)
	if err != nil {
		s.registry.End(session, StateExited)
		if errors.Is(err, models.ErrStreamNotFound) {
			http.Error(w, "no stream for channel", http.StatusNotFound)
			return
		}
		s.logger.Error("resolving stream for channel",
			slog.String("channel_id", channelID.String()),
			slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	session.setStream(stream.ID)
	transcode := s.cfg.TranscodeEnabled && r.URL.Query().Get("transcode") == "true"
	s.serve(w, r, session, stream, transcode)
}

// ServePreview proxies a single stream regardless of channel binding.
func (s *Supervisor) ServePreview(w http.ResponseWriter, r *http.Request, streamID models.ULID) {
	session := s.registry.Begin(nil, streamID, clientIP(r))

	stream, err := s.streams.GetByID(r.Context(), streamID)
	if err != nil {
		s.registry.End(session, StateExited)
		s.logger.Error("getting stream",
			slog.String("stream_id", streamID.String()),
			slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if stream == nil {
		s.registry.End(session, StateExited)
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	transcode := r.URL.Query().Get("transcode") == "true"
	s.serve(w, r, session, stream, transcode)
}

// serve runs resolve-classify-spawn-pump-reap for one session. The semaphore
// is released and the session removed on every path out.
func (s *Supervisor) serve(w http.ResponseWriter, r *http.Request, session *Session, stream *models.Stream, transcode bool) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	waitCtx, waitCancel := context.WithTimeout(ctx, s.cfg.QueueWait)
	err := s.sem.Acquire(waitCtx, 1)
	waitCancel()
	if err != nil {
		s.registry.End(session, StateExited)
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.QueueWait.Seconds())))
		http.Error(w, ErrOverCapacity.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	pipeline := Classify(stream.Protocol, transcode)
	session.setPipeline(pipeline)
	session.setState(StateSpawning)

	args := BuildArgs(ArgSpec{
		SourceURL:  stream.SourceURL,
		Pipeline:   pipeline,
		VideoCodec: s.cfg.VideoCodec,
		AudioCodec: s.cfg.AudioCodec,
		Override:   stream.FFmpegArgs,
	})

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.KillGrace

	tail := newTailWriter(stderrTailSize)
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.registry.End(session, StateExited)
		http.Error(w, "spawning ffmpeg", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		s.registry.End(session, StateExited)
		s.logger.Error("starting ffmpeg",
			slog.String("stream_id", stream.ID.String()),
			slog.String("error", err.Error()))
		http.Error(w, "ffmpeg unavailable", http.StatusBadGateway)
		return
	}
	session.pid.Store(int64(cmd.Process.Pid))

	s.logger.Info("proxy session started",
		slog.String("session_id", session.ID),
		slog.String("stream_id", stream.ID.String()),
		slog.String("url", httpclient.ObfuscateURLString(stream.SourceURL)),
		slog.String("pipeline", string(pipeline)),
		slog.Int("pid", cmd.Process.Pid))

	finalState, sentData := s.pump(ctx, cancel, w, session, stdout)
	waitErr := cmd.Wait()

	if finalState == StateExited && !sentData {
		// Wait has drained stderr, so the tail holds FFmpeg's last output.
		body := "upstream produced no data"
		if msg := tail.String(); msg != "" {
			body = msg
		}
		http.Error(w, body, http.StatusBadGateway)
	}

	bytesSent := session.BytesSent()
	if waitErr != nil && ctx.Err() == nil && bytesSent > 0 {
		s.failMu.Lock()
		s.failures[stream.ID]++
		count := s.failures[stream.ID]
		s.failMu.Unlock()
		s.logger.Warn("ffmpeg exited abnormally mid-stream",
			slog.String("session_id", session.ID),
			slog.String("stream_id", stream.ID.String()),
			slog.Int64("bytes_sent", bytesSent),
			slog.Int("failure_count", count),
			slog.String("error", waitErr.Error()),
			slog.String("stderr", tail.String()))
	}

	s.registry.End(session, finalState)
	s.logger.Info("proxy session ended",
		slog.String("session_id", session.ID),
		slog.String("state", string(finalState)),
		slog.Int64("bytes_sent", bytesSent),
		slog.Duration("duration", time.Since(session.StartedAt)))
}

// pump copies FFmpeg stdout to the response in fixed chunks. Headers are
// written on the first chunk; a zero-byte exit leaves them unsent so the
// caller can answer 502 once the process is reaped and stderr is complete.
// Reports the final state and whether any data reached the client.
func (s *Supervisor) pump(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, session *Session, stdout io.Reader) (SessionState, bool) {
	rc := http.NewResponseController(w)
	buf := make([]byte, s.cfg.WriteChunkSize)
	headersSent := false

	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			if !headersSent {
				w.Header().Set("Content-Type", contentTypeMPEGTS)
				w.WriteHeader(http.StatusOK)
				headersSent = true
				session.setState(StateStreaming)
			}
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; stop FFmpeg and reap.
				session.setState(StateKilled)
				cancel()
				return StateKilled, true
			}
			session.bytesSent.Add(int64(n))
			_ = rc.Flush()
		}
		if readErr != nil {
			if ctx.Err() != nil {
				session.setState(StateKilled)
				return StateKilled, headersSent
			}
			if !headersSent {
				return StateExited, false
			}
			session.setState(StateDraining)
			return StateExited, true
		}
	}
}

// clientIP extracts the remote host for session listings.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// tailWriter keeps the last max bytes written, for stderr reporting.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
