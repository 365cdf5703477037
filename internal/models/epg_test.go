package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpgSourceValidate(t *testing.T) {
	src := EpgSource{Name: "guide", URL: "http://example.com/epg.xml", RefreshInterval: "1h"}
	assert.NoError(t, src.Validate())
	assert.Equal(t, time.Hour, src.RefreshDuration())

	src.RefreshInterval = "45m"
	assert.ErrorIs(t, src.Validate(), ErrInvalidRefreshInterval)

	src = EpgSource{URL: "http://example.com/epg.xml"}
	assert.ErrorIs(t, src.Validate(), ErrNameRequired)

	src = EpgSource{Name: "guide"}
	assert.ErrorIs(t, src.Validate(), ErrURLRequired)
}

func TestEpgProgramValidate(t *testing.T) {
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	p := EpgProgram{ChannelKey: "bbc.uk", Start: start, Stop: start.Add(time.Hour), Title: "News"}
	assert.NoError(t, p.Validate())
	assert.Equal(t, time.Hour, p.Duration())
	assert.True(t, p.IsOnAir(start))
	assert.True(t, p.IsOnAir(start.Add(59*time.Minute)))
	assert.False(t, p.IsOnAir(start.Add(time.Hour))) // half-open interval

	p.Stop = start
	assert.ErrorIs(t, p.Validate(), ErrInvalidTimeRange)

	p = EpgProgram{Start: start, Stop: start.Add(time.Hour), Title: "News"}
	assert.ErrorIs(t, p.Validate(), ErrChannelKeyRequired)
}
