package proxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		protocol  models.StreamProtocol
		transcode bool
		want      Pipeline
	}{
		{models.ProtocolHLS, false, PipelineRemux},
		{models.ProtocolDASH, false, PipelineRemux},
		{models.ProtocolHTTP, false, PipelineRemux},
		{models.ProtocolHLS, true, PipelineTranscode},
		{models.ProtocolRTSP, false, PipelineTranscode},
		{models.ProtocolRTMP, false, PipelineTranscode},
		{models.ProtocolUDP, false, PipelineTranscode},
		{models.ProtocolSRT, false, PipelineTranscode},
		{models.ProtocolMMS, false, PipelineTranscode},
	}
	for _, tt := range tests {
		got := Classify(tt.protocol, tt.transcode)
		assert.Equal(t, tt.want, got, "protocol %s transcode %v", tt.protocol, tt.transcode)
	}
}

func TestBuildArgsRemux(t *testing.T) {
	args := BuildArgs(ArgSpec{
		SourceURL: "http://example.com/stream.m3u8",
		Pipeline:  PipelineRemux,
	})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-hide_banner -loglevel error")
	assert.Contains(t, joined, "-reconnect 1 -reconnect_at_eof 1 -reconnect_streamed 1 -reconnect_delay_max 2")
	assert.Contains(t, joined, "-i http://example.com/stream.m3u8")
	assert.Contains(t, joined, "-c:v copy -c:a copy")
	assert.Contains(t, joined, "-bsf:v dump_extra")
	assert.Contains(t, joined, "-f mpegts")
	assert.Contains(t, joined, "-mpegts_copyts 1 -avoid_negative_ts make_zero -copyts")
	assert.Contains(t, joined, "-fflags +genpts+igndts+discardcorrupt")
	assert.Contains(t, joined, "-muxdelay 0 -muxpreload 0 -flush_packets 1 -max_delay 0 -max_muxing_queue_size 9999")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestBuildArgsTranscode(t *testing.T) {
	args := BuildArgs(ArgSpec{
		SourceURL:  "rtsp://cam.local/feed",
		Pipeline:   PipelineTranscode,
		VideoCodec: "libx264",
		AudioCodec: "aac",
	})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-c:v libx264 -c:a aac")
	assert.NotContains(t, joined, "-c:v copy")
	// The container never changes on the transcode path.
	assert.Contains(t, joined, "-f mpegts")
}

func TestBuildArgsTranscodeDefaults(t *testing.T) {
	args := BuildArgs(ArgSpec{SourceURL: "udp://239.0.0.1:1234", Pipeline: PipelineTranscode})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-c:v "+DefaultVideoCodec)
	assert.Contains(t, joined, "-c:a "+DefaultAudioCodec)
}

func TestBuildArgsValidOverride(t *testing.T) {
	args := BuildArgs(ArgSpec{
		SourceURL: "http://example.com/live",
		Pipeline:  PipelineRemux,
		Override:  "-hide_banner -i [URL] -c copy -f mpegts pipe:1",
	})
	assert.Equal(t, []string{"-hide_banner", "-i", "http://example.com/live", "-c", "copy", "-f", "mpegts", "pipe:1"}, args)
}

func TestBuildArgsInvalidOverrideFallsBack(t *testing.T) {
	// Missing pipe:1 output, so the canonical template applies.
	args := BuildArgs(ArgSpec{
		SourceURL: "http://example.com/live",
		Pipeline:  PipelineRemux,
		Override:  "-hide_banner -i [URL] -f mpegts out.ts",
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-bsf:v dump_extra")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestValidateOverride(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"complete", []string{"-hide_banner", "-i", "url", "pipe:1"}, true},
		{"missing input", []string{"-hide_banner", "pipe:1"}, false},
		{"missing pipe", []string{"-hide_banner", "-i", "url", "out.ts"}, false},
		{"missing hide_banner", []string{"-i", "url", "pipe:1"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateOverride(tt.args))
		})
	}
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-i", "http://example.com/a b", "-metadata", "title=My Feed"},
		splitArgs(`-i "http://example.com/a b" -metadata 'title=My Feed'`))
	assert.Empty(t, splitArgs("   "))
}

func TestTailWriterKeepsTail(t *testing.T) {
	tail := newTailWriter(8)
	tail.Write([]byte("0123456789abcdef"))
	assert.Equal(t, "89abcdef", tail.String())

	tail.Write([]byte("XY"))
	assert.Equal(t, "abcdefXY", tail.String())
}
