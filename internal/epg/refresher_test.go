package epg

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/xmltv"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="bbc1.uk">
    <display-name>BBC One</display-name>
    <icon src="http://example.com/bbc1.png"/>
  </channel>
  <channel id="itv.uk">
    <display-name>ITV</display-name>
  </channel>
  <programme start="20260101180000 +0000" stop="20260101190000 +0000" channel="bbc1.uk">
    <title>Evening News</title>
    <desc>Headlines and weather.</desc>
    <category>News</category>
  </programme>
  <programme start="20260101190000 +0000" stop="20260101200000 +0000" channel="bbc1.uk">
    <title>Quiz Night</title>
    <category>Game Show</category>
  </programme>
  <programme start="20260101180000 +0000" stop="20260101183000 +0000" channel="itv.uk">
    <title>Local Report</title>
  </programme>
</tv>`

type epgTestEnv struct {
	db          *gorm.DB
	sources     repository.EpgSourceRepository
	epgChannels repository.EpgChannelRepository
	programs    repository.EpgProgramRepository
}

func setupEpgTest(t *testing.T) *epgTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgProgram{},
		&models.Setting{},
	))

	return &epgTestEnv{
		db:          db,
		sources:     repository.NewEpgSourceRepository(db),
		epgChannels: repository.NewEpgChannelRepository(db),
		programs:    repository.NewEpgProgramRepository(db),
	}
}

func (e *epgTestEnv) newRefresher(t *testing.T) *Refresher {
	t.Helper()
	client := httpclient.New(httpclient.Config{
		Timeout:       10 * time.Second,
		RetryAttempts: 1,
	})
	return NewRefresher(client, e.sources, e.epgChannels, e.programs, 0, 10*time.Second, nil)
}

func (e *epgTestEnv) createSource(t *testing.T, url string) *models.EpgSource {
	t.Helper()
	source := &models.EpgSource{Name: "guide", URL: url}
	require.NoError(t, e.sources.Create(context.Background(), source))
	return source
}

func TestRefresherIngestsFeed(t *testing.T) {
	env := setupEpgTest(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleXMLTV))
	}))
	defer server.Close()

	source := env.createSource(t, server.URL)
	result, err := env.newRefresher(t).RefreshSource(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Channels)
	assert.Equal(t, 3, result.Programs)
	assert.Zero(t, result.Skipped)

	ctx := context.Background()
	def, err := env.epgChannels.GetByKey(ctx, "bbc1.uk")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "BBC One", def.DisplayName)
	assert.Equal(t, "http://example.com/bbc1.png", def.IconURL)

	window, err := env.programs.GetWindow(ctx,
		"bbc1.uk",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "Evening News", window[0].Title)
	assert.Equal(t, `["News"]`, window[0].Genres)

	stored, err := env.sources.GetByID(ctx, source.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSuccessAt)
	assert.Zero(t, stored.ConsecutiveFailures)
}

func TestRefresherGzipFeed(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sampleXMLTV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	env := setupEpgTest(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	source := env.createSource(t, server.URL)
	result, err := env.newRefresher(t).RefreshSource(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Programs)
}

func TestRefresherFailureKeepsData(t *testing.T) {
	env := setupEpgTest(t)
	ctx := context.Background()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleXMLTV))
	}))
	defer healthy.Close()

	source := env.createSource(t, healthy.URL)
	refresher := env.newRefresher(t)
	_, err := refresher.RefreshSource(ctx, source)
	require.NoError(t, err)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	source.URL = broken.URL
	_, err = refresher.RefreshSource(ctx, source)
	require.Error(t, err)

	count, err := env.programs.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	stored, err := env.sources.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConsecutiveFailures)
}

func TestRefresherCategoryOverrideAndSecondaryGenres(t *testing.T) {
	env := setupEpgTest(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleXMLTV))
	}))
	defer server.Close()

	ctx := context.Background()
	source := &models.EpgSource{
		Name:             "guide",
		URL:              server.URL,
		CategoryOverride: "Sports",
		SecondaryGenres:  `["HD","Regional"]`,
	}
	require.NoError(t, env.sources.Create(ctx, source))

	_, err := env.newRefresher(t).RefreshSource(ctx, source)
	require.NoError(t, err)

	program, err := env.programs.GetOnAir(ctx, "bbc1.uk", time.Date(2026, 1, 1, 18, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, program)
	assert.Equal(t, `["Sports","HD","Regional"]`, program.Genres)
}

func TestRefresherSkipsBrokenProgrammes(t *testing.T) {
	feed := `<?xml version="1.0"?>
<tv>
  <programme start="garbage" stop="20260101190000 +0000" channel="x">
    <title>Broken</title>
  </programme>
  <programme start="20260101180000 +0000" stop="20260101190000 +0000" channel="x">
    <title>Fine</title>
  </programme>
</tv>`
	env := setupEpgTest(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer server.Close()

	source := env.createSource(t, server.URL)
	result, err := env.newRefresher(t).RefreshSource(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Programs)
	assert.Equal(t, 1, result.Skipped)
}

func TestRefreshAllContinuesPastFailures(t *testing.T) {
	env := setupEpgTest(t)
	ctx := context.Background()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleXMLTV))
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	require.NoError(t, env.sources.Create(ctx, &models.EpgSource{Name: "a-broken", URL: broken.URL}))
	require.NoError(t, env.sources.Create(ctx, &models.EpgSource{Name: "b-healthy", URL: healthy.URL}))

	require.NoError(t, env.newRefresher(t).RefreshAll(ctx))

	count, err := env.programs.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestRefresherMidFeedFailureRollsBack(t *testing.T) {
	env := setupEpgTest(t)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	source := env.createSource(t, "http://example.com/big.xml")
	require.NoError(t, env.programs.UpsertBatch(ctx, []*models.EpgProgram{{
		SourceID:   source.ID,
		ChannelKey: "big.one",
		Start:      start,
		Stop:       start.Add(time.Hour),
		Title:      "Before",
	}}))

	// Enough programmes that batches land before the size cap cuts the feed
	// off just ahead of the closing tag.
	var feed strings.Builder
	feed.WriteString("<?xml version=\"1.0\"?>\n<tv>\n")
	for i := 0; i < 2500; i++ {
		s := start.Add(time.Duration(i) * time.Hour)
		fmt.Fprintf(&feed, "  <programme start=%q stop=%q channel=\"big.one\"><title>Show %d</title></programme>\n",
			xmltv.FormatTime(s), xmltv.FormatTime(s.Add(time.Hour)), i)
	}
	cutoff := int64(feed.Len())
	feed.WriteString("</tv>\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed.String()))
	}))
	defer server.Close()

	client := httpclient.New(httpclient.Config{
		Timeout:       10 * time.Second,
		RetryAttempts: 1,
	})
	refresher := NewRefresher(client, env.sources, env.epgChannels, env.programs, cutoff, 10*time.Second, nil)

	source.URL = server.URL
	_, err := refresher.RefreshSource(ctx, source)
	require.Error(t, err)

	count, err := env.programs.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "failed refresh leaves the previous program set intact")

	onAir, err := env.programs.GetOnAir(ctx, "big.one", start.Add(30*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, onAir)
	assert.Equal(t, "Before", onAir.Title)

	stored, err := env.sources.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConsecutiveFailures)
}
