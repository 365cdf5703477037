package m3u

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) ([]*Entry, Stats, error) {
	t.Helper()
	var entries []*Entry
	p := &Parser{OnEntry: func(e *Entry) error {
		entries = append(entries, e)
		return nil
	}}
	stats, err := p.Parse(strings.NewReader(input))
	return entries, stats, err
}

func TestParseBasicPlaylist(t *testing.T) {
	input := `#EXTM3U
#EXTINF:-1 tvg-id="test1.uk" tvg-name="Test Channel 1" tvg-logo="http://logo/1.png" group-title="News",Test Channel 1
http://example.com/stream1.m3u8
#EXTINF:-1 tvg-id="test2.uk",Test Channel 2
http://example.com/stream2.m3u8
`
	entries, stats, err := collect(t, input)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, stats.Entries)

	first := entries[0]
	assert.Equal(t, "test1.uk", first.TvgID)
	assert.Equal(t, "Test Channel 1", first.TvgName)
	assert.Equal(t, "http://logo/1.png", first.TvgLogo)
	assert.Equal(t, "News", first.GroupTitle)
	assert.Equal(t, "Test Channel 1", first.Title)
	assert.Equal(t, "http://example.com/stream1.m3u8", first.URL)
	assert.Equal(t, -1, first.Duration)
}

func TestParseDecimalChannelNumber(t *testing.T) {
	input := `#EXTINF:-1 tvg-chno="103.1",Decimal
http://example.com/x.m3u8
`
	entries, _, err := collect(t, input)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "103.1", entries[0].TvgChno)
}

func TestParseUnknownAttributesPreserved(t *testing.T) {
	input := `#EXTINF:-1 tvg-id="a" catchup-days="7" timeshift="1",Channel
http://example.com/x.m3u8
`
	entries, _, err := collect(t, input)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "7", entries[0].Extra["catchup-days"])
	assert.Equal(t, "1", entries[0].Extra["timeshift"])
}

func TestParseTitleWithCommaInQuotedAttr(t *testing.T) {
	input := `#EXTINF:-1 group-title="News, Sports",The Title
http://example.com/x.m3u8
`
	entries, _, err := collect(t, input)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "News, Sports", entries[0].GroupTitle)
	assert.Equal(t, "The Title", entries[0].Title)
}

func TestParseRejectsPlaylistWithoutExtinf(t *testing.T) {
	input := `#EXTM3U
http://example.com/orphan.m3u8
`
	_, stats, err := collect(t, input)
	require.ErrorIs(t, err, ErrNotAPlaylist)
	assert.Equal(t, 1, stats.IgnoredLines, "orphan URL counted")
}

func TestParseHeaderOptional(t *testing.T) {
	input := `#EXTINF:-1,No Header
http://example.com/x.m3u8
`
	entries, _, err := collect(t, input)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "No Header", entries[0].Title)
}

func TestParseSchemeClosesRecord(t *testing.T) {
	input := `#EXTM3U
#EXTINF:-1,RTSP Camera
rtsp://camera.local/feed
#EXTINF:-1,UDP Multicast
udp://239.0.0.1:1234
#EXTINF:-1,File Entry
/local/path/not/a/stream.ts
#EXTINF:-1,Recovered
srt://host:9000
`
	entries, stats, err := collect(t, input)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "rtsp://camera.local/feed", entries[0].URL)
	assert.Equal(t, "udp://239.0.0.1:1234", entries[1].URL)
	// The local path does not close a record, so "File Entry" is dropped when
	// the next EXTINF arrives.
	assert.Equal(t, "Recovered", entries[2].Title)
	assert.Equal(t, 1, stats.IgnoredLines)
}

func TestParseIgnoredLineCounting(t *testing.T) {
	input := `#EXTM3U
garbage line
#EXTINF:-1,Ok
another stray
http://example.com/x.m3u8
`
	entries, stats, err := collect(t, input)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 2, stats.IgnoredLines)
}

func TestParseCompressedGzip(t *testing.T) {
	plain := "#EXTM3U\n#EXTINF:-1,Zipped\nhttp://example.com/x.m3u8\n"
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(plain))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	var entries []*Entry
	p := &Parser{OnEntry: func(e *Entry) error {
		entries = append(entries, e)
		return nil
	}}
	stats, err := p.ParseCompressed(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, "Zipped", entries[0].Title)
}

func TestParseCompressedPlainPassthrough(t *testing.T) {
	plain := "#EXTM3U\n#EXTINF:-1,Plain\nhttp://example.com/x.m3u8\n"
	var entries []*Entry
	p := &Parser{OnEntry: func(e *Entry) error {
		entries = append(entries, e)
		return nil
	}}
	_, err := p.ParseCompressed(strings.NewReader(plain))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParseOnErrorCallback(t *testing.T) {
	input := `#EXTINF:bogus,Broken
#EXTINF:-1,Fine
http://example.com/x.m3u8
`
	var reported int
	var entries []*Entry
	p := &Parser{
		OnEntry: func(e *Entry) error {
			entries = append(entries, e)
			return nil
		},
		OnError: func(lineNum int, err error) { reported++ },
	}
	_, err := p.Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, reported)
	require.Len(t, entries, 1)
	assert.Equal(t, "Fine", entries[0].Title)
}

func TestRoundTrip(t *testing.T) {
	original := []*Entry{
		{
			Duration:   -1,
			TvgID:      "one.uk",
			TvgName:    "One",
			TvgChno:    "1",
			TvgLogo:    "http://logo/1.png",
			GroupTitle: "General",
			Title:      "One",
			URL:        "http://example.com/one.m3u8",
			Extra:      map[string]string{"catchup-days": "7"},
		},
		{
			Duration: -1,
			Title:    "Bare",
			URL:      "rtsp://cam/live",
			Extra:    map[string]string{},
		},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, e := range original {
		require.NoError(t, w.WriteEntry(e))
	}

	var parsed []*Entry
	p := &Parser{OnEntry: func(e *Entry) error {
		parsed = append(parsed, e)
		return nil
	}}
	_, err := p.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, len(original))
	for i := range original {
		assert.Equal(t, original[i], parsed[i])
	}
}
