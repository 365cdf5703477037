package proxy

import (
	"strings"
)

// Codec defaults for the transcode pipeline.
const (
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
)

// urlPlaceholder marks where the source URL goes in a stored override.
const urlPlaceholder = "[URL]"

// ArgSpec describes one FFmpeg invocation.
type ArgSpec struct {
	SourceURL  string
	Pipeline   Pipeline
	VideoCodec string
	AudioCodec string

	// Override, when set and valid, replaces the canonical template
	// entirely. Invalid overrides are ignored.
	Override string
}

// BuildArgs renders the FFmpeg argument list. The output container is always
// MPEG-TS on stdout.
func BuildArgs(spec ArgSpec) []string {
	if spec.Override != "" {
		if args, ok := overrideArgs(spec.Override, spec.SourceURL); ok {
			return args
		}
	}
	return canonicalArgs(spec)
}

// canonicalArgs is the template every session uses unless a valid override
// exists: silent logs, reconnect-on-EOF capped at 2 s, dump_extra bitstream
// filter, zero-delay mpegts muxing with timestamp repair.
func canonicalArgs(spec ArgSpec) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_at_eof", "1", "-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
		"-i", spec.SourceURL,
	}

	if spec.Pipeline == PipelineTranscode {
		video := spec.VideoCodec
		if video == "" {
			video = DefaultVideoCodec
		}
		audio := spec.AudioCodec
		if audio == "" {
			audio = DefaultAudioCodec
		}
		args = append(args, "-c:v", video, "-c:a", audio)
	} else {
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	}

	args = append(args,
		"-bsf:v", "dump_extra",
		"-f", "mpegts",
		"-mpegts_copyts", "1", "-avoid_negative_ts", "make_zero", "-copyts",
		"-fflags", "+genpts+igndts+discardcorrupt",
		"-muxdelay", "0", "-muxpreload", "0", "-flush_packets", "1",
		"-max_delay", "0", "-max_muxing_queue_size", "9999",
		"pipe:1",
	)
	return args
}

// overrideArgs splits a stored override and checks it retains the parts the
// pump depends on: an input flag, stdout output, and silent startup. The
// [URL] placeholder expands to the source URL.
func overrideArgs(override, sourceURL string) ([]string, bool) {
	args := splitArgs(override)
	for i, arg := range args {
		if arg == urlPlaceholder {
			args[i] = sourceURL
		}
	}
	if !ValidateOverride(args) {
		return nil, false
	}
	return args, true
}

// ValidateOverride reports whether an argument list keeps the required
// contract: -i present, pipe:1 output, -hide_banner set.
func ValidateOverride(args []string) bool {
	var hasInput, hasPipe, hasHideBanner bool
	for _, arg := range args {
		switch arg {
		case "-i":
			hasInput = true
		case "pipe:1":
			hasPipe = true
		case "-hide_banner":
			hasHideBanner = true
		}
	}
	return hasInput && hasPipe && hasHideBanner
}

// splitArgs tokenizes an override string. Single and double quotes group
// tokens; there is no escape processing.
func splitArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quote   rune
	)
	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return args
}
