package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/asticode/go-astits"
)

// Probe limits. The probe only needs enough output to see a PAT/PMT.
const (
	DefaultValidationTimeout = 8 * time.Second
	probeMaxBytes            = 2 << 20
	probeRunSeconds          = "4"
)

// ValidationResult reports what a probe found.
type ValidationResult struct {
	Valid        bool   `json:"valid"`
	DetectedType string `json:"detectedType"`
	Error        string `json:"error,omitempty"`
}

// Validator probes stream URLs with a short FFmpeg run and inspects the
// transport stream it produces.
type Validator struct {
	ffmpegPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewValidator creates the validator.
func NewValidator(ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Validator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = DefaultValidationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{ffmpegPath: ffmpegPath, timeout: timeout, logger: logger}
}

// Validate runs the probe. A URL is valid when FFmpeg produced parseable
// MPEG-TS output within the timeout.
func (v *Validator) Validate(ctx context.Context, sourceURL string) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", sourceURL,
		"-t", probeRunSeconds,
		"-c:v", "copy", "-c:a", "copy",
		"-f", "mpegts",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, v.ffmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = DefaultKillGrace

	tail := newTailWriter(stderrTailSize)
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ValidationResult{Error: err.Error()}
	}
	if err := cmd.Start(); err != nil {
		return &ValidationResult{Error: err.Error()}
	}

	output, readErr := io.ReadAll(io.LimitReader(stdout, probeMaxBytes))
	// Enough output collected; the probe run can end now.
	cancel()
	waitErr := cmd.Wait()

	if len(output) == 0 {
		msg := tail.String()
		if msg == "" && waitErr != nil {
			msg = waitErr.Error()
		}
		if msg == "" && readErr != nil {
			msg = readErr.Error()
		}
		if msg == "" {
			msg = "probe produced no output"
		}
		return &ValidationResult{Error: msg}
	}

	detected := detectStreamType(output)
	return &ValidationResult{Valid: true, DetectedType: detected}
}

// detectStreamType walks TS packets from the probe output and labels the
// stream by its PMT video entry.
func detectStreamType(output []byte) string {
	demuxer := astits.NewDemuxer(context.Background(), bytes.NewReader(output))
	for {
		data, err := demuxer.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			break
		}
		if data.PMT == nil {
			continue
		}
		for _, es := range data.PMT.ElementaryStreams {
			switch es.StreamType {
			case astits.StreamTypeH264Video:
				return "mpegts/h264"
			case astits.StreamTypeH265Video:
				return "mpegts/h265"
			case astits.StreamTypeMPEG2Video:
				return "mpegts/mpeg2"
			}
		}
		return "mpegts"
	}
	return "mpegts"
}
