package xmltv

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="bbc.one">
    <display-name>BBC One</display-name>
    <display-name>BBC 1</display-name>
    <icon src="http://logos/bbc1.png"/>
  </channel>
  <channel id="itv.one">
    <display-name>ITV</display-name>
  </channel>
  <programme start="20260830120000 +0000" stop="20260830130000 +0000" channel="bbc.one">
    <title>Lunchtime News</title>
    <desc>The headlines.</desc>
    <category>News</category>
    <category>Current Affairs</category>
  </programme>
  <programme start="20260830130000 +0000" stop="20260830140000 +0000" channel="itv.one">
    <title>Afternoon Show</title>
  </programme>
</tv>
`

func parseSample(t *testing.T, input string) ([]*Channel, []*Programme) {
	t.Helper()
	var channels []*Channel
	var programmes []*Programme
	p := &Parser{
		OnChannel: func(c *Channel) error {
			channels = append(channels, c)
			return nil
		},
		OnProgramme: func(pr *Programme) error {
			programmes = append(programmes, pr)
			return nil
		},
	}
	require.NoError(t, p.Parse(strings.NewReader(input)))
	return channels, programmes
}

func TestParseChannelsAndProgrammes(t *testing.T) {
	channels, programmes := parseSample(t, sampleXMLTV)

	require.Len(t, channels, 2)
	assert.Equal(t, "bbc.one", channels[0].ID)
	assert.Equal(t, []string{"BBC One", "BBC 1"}, channels[0].DisplayNames)
	assert.Equal(t, "BBC One", channels[0].DisplayName())
	assert.Equal(t, "http://logos/bbc1.png", channels[0].Icon)

	require.Len(t, programmes, 2)
	first := programmes[0]
	assert.Equal(t, "bbc.one", first.Channel)
	assert.Equal(t, "Lunchtime News", first.Title)
	assert.Equal(t, "The headlines.", first.Description)
	assert.Equal(t, []string{"News", "Current Affairs"}, first.Categories)
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), first.Start)
	assert.Equal(t, time.Hour, first.Stop.Sub(first.Start))
}

func TestParseTimeFormats(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"20260830120000 +0000", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		{"20260830120000 +0200", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		{"20260830120000", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		{"202608301200", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		{"20260830", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.input)
		require.NoError(t, err, tt.input)
		assert.True(t, got.Equal(tt.want), "%s parsed to %v", tt.input, got)
	}

	_, err := ParseTime("not a time")
	assert.Error(t, err)
	_, err = ParseTime("")
	assert.Error(t, err)
}

func TestParseSkipsBrokenProgramme(t *testing.T) {
	input := `<tv>
  <programme start="garbage" stop="20260830130000" channel="x">
    <title>Broken</title>
  </programme>
  <programme start="20260830120000" stop="20260830130000" channel="x">
    <title>Fine</title>
  </programme>
</tv>`

	var programmes []*Programme
	var errs int
	p := &Parser{
		OnProgramme: func(pr *Programme) error {
			programmes = append(programmes, pr)
			return nil
		},
		OnError: func(err error) { errs++ },
	}
	require.NoError(t, p.Parse(strings.NewReader(input)))
	require.Len(t, programmes, 1)
	assert.Equal(t, "Fine", programmes[0].Title)
	assert.Equal(t, 1, errs)
}

func TestParseCompressedGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sampleXMLTV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	var count int
	p := &Parser{OnProgramme: func(pr *Programme) error {
		count++
		return nil
	}}
	require.NoError(t, p.ParseCompressed(&buf))
	assert.Equal(t, 2, count)
}

func TestParseSizeLimit(t *testing.T) {
	p := &Parser{
		MaxBytes:    64,
		OnProgramme: func(pr *Programme) error { return nil },
	}
	err := p.Parse(strings.NewReader(sampleXMLTV))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "plexbridge")

	require.NoError(t, w.WriteChannel(&Channel{
		ID:           "bbc.one",
		DisplayNames: []string{"BBC One"},
		Icon:         "http://logos/bbc1.png",
	}))
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Stop:        time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC),
		Channel:     "bbc.one",
		Title:       `News & "Weather"`,
		Description: "Headlines <live>",
		Categories:  []string{"News"},
	}))
	require.NoError(t, w.Close())

	channels, programmes := parseSample(t, buf.String())
	require.Len(t, channels, 1)
	assert.Equal(t, "BBC One", channels[0].DisplayName())
	require.Len(t, programmes, 1)
	assert.Equal(t, `News & "Weather"`, programmes[0].Title)
	assert.Equal(t, "Headlines <live>", programmes[0].Description)
	assert.Equal(t, time.Hour, programmes[0].Stop.Sub(programmes[0].Start))
}

func TestWriterRejectsChannelAfterProgramme(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "plexbridge")
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "x",
		Title:   "T",
	}))
	assert.Error(t, w.WriteChannel(&Channel{ID: "late"}))
}
