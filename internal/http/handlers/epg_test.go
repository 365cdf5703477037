package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func newEpgHandler(env *handlerTestEnv) *EpgHandler {
	epgChannels := repository.NewEpgChannelRepository(env.db)
	programs := repository.NewEpgProgramRepository(env.db)
	lookup := epg.NewLookup(env.channels, programs)
	mapper := epg.NewMapper(env.channels, epgChannels, nil)
	return NewEpgHandler(lookup, mapper, epgChannels, env.channels, nil)
}

func TestEpgGuideReturnsPlaceholdersForUnmappedChannel(t *testing.T) {
	env := setupHandlerTest(t)
	newEpgHandler(env).Register(env.api)

	channel := env.createChannel(t, "BBC One", "101")
	env.createStream(t, channel.ID, "http://example.com/bbc1.m3u8")

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(8 * time.Hour)
	req := httptest.NewRequest("GET", "/api/v1/epg/guide?from="+
		from.Format(time.RFC3339)+"&to="+to.Format(time.RFC3339), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	var body struct {
		Channels []epg.ChannelGuide `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	require.NotEmpty(t, body.Channels[0].Programs)
	first := body.Channels[0].Programs[0]
	assert.True(t, first.Synthetic)
	assert.Equal(t, "Live", first.Title)
}

func TestEpgGuideRejectsBadWindow(t *testing.T) {
	env := setupHandlerTest(t)
	newEpgHandler(env).Register(env.api)

	req := httptest.NewRequest("GET", "/api/v1/epg/guide?from=not-a-time", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestEpgChannelGuideUnknownChannel(t *testing.T) {
	env := setupHandlerTest(t)
	newEpgHandler(env).Register(env.api)

	req := httptest.NewRequest("GET", "/api/v1/channels/"+models.NewULID().String()+"/guide", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestEpgAutoMapAppliesExactMatch(t *testing.T) {
	env := setupHandlerTest(t)
	newEpgHandler(env).Register(env.api)

	channel := env.createChannel(t, "BBC One", "101")
	env.createStream(t, channel.ID, "http://example.com/bbc1.m3u8")

	source := &models.EpgSource{Name: "guide", URL: "http://example.com/epg.xml"}
	require.NoError(t, env.sources.Create(context.Background(), source))
	epgChannels := repository.NewEpgChannelRepository(env.db)
	require.NoError(t, epgChannels.UpsertBatch(context.Background(), []*models.EpgChannel{{
		SourceID:    source.ID,
		ChannelKey:  "bbc1.uk",
		DisplayName: "BBC One",
	}}))

	req := httptest.NewRequest("POST", "/api/v1/epg/automap", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	var result epg.AutoMapResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Mapped)

	updated, err := env.channels.GetByID(context.Background(), channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "bbc1.uk", updated.EpgKey)
}

func TestEpgExportWritesXMLTV(t *testing.T) {
	env := setupHandlerTest(t)
	programs := repository.NewEpgProgramRepository(env.db)
	lookup := epg.NewLookup(env.channels, programs)
	NewExportHandler(lookup, "test", nil).RegisterRoutes(env.router)

	channel := env.createChannel(t, "BBC One", "101")
	env.createStream(t, channel.ID, "http://example.com/bbc1.m3u8")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest("GET", "/epg.xml", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, body, `channel id="`+channel.ID.String()+`"`)
	assert.Contains(t, body, "BBC One")
	assert.Contains(t, body, "<title>Live</title>")
}
