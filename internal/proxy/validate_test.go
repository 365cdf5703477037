package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateProbeSuccess(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `printf 'not-actually-ts-but-bytes'`)
	v := NewValidator(ffmpeg, 5*time.Second, nil)

	result := v.Validate(context.Background(), "http://example.com/live.m3u8")
	assert.True(t, result.Valid)
	assert.Equal(t, "mpegts", result.DetectedType)
	assert.Empty(t, result.Error)
}

func TestValidateProbeNoOutput(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `echo 'Invalid data found' 1>&2; exit 1`)
	v := NewValidator(ffmpeg, 5*time.Second, nil)

	result := v.Validate(context.Background(), "http://example.com/broken")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "Invalid data found")
}

func TestValidateProbeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the probe timeout")
	}
	ffmpeg := fakeFFmpeg(t, `sleep 30`)
	v := NewValidator(ffmpeg, 500*time.Millisecond, nil)

	start := time.Now()
	result := v.Validate(context.Background(), "http://example.com/hang")
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Error)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestValidateMissingBinary(t *testing.T) {
	v := NewValidator("/nonexistent/ffmpeg", time.Second, nil)
	result := v.Validate(context.Background(), "http://example.com/live")
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Error)
}
