package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestChannelHandlerCreateAssignsRequestedNumber(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)

	req := httptest.NewRequest("POST", "/api/v1/channels",
		strings.NewReader(`{"name": "BBC One", "number": "101"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	var created models.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "101", created.Number)
	assert.Equal(t, "BBC One", created.Name)
	assert.False(t, created.ID.IsZero())
}

func TestChannelHandlerCreateTakenNumberGetsNextFree(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)
	env.createChannel(t, "BBC One", "101")

	req := httptest.NewRequest("POST", "/api/v1/channels",
		strings.NewReader(`{"name": "BBC Two", "number": "101"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	var created models.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "102", created.Number)
}

func TestChannelHandlerGetIncludesStreams(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)
	channel := env.createChannel(t, "BBC One", "101")
	env.createStream(t, channel.ID, "http://example.com/bbc1.m3u8")

	req := httptest.NewRequest("GET", "/api/v1/channels/"+channel.ID.String(), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	var got models.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Streams, 1)
	assert.Equal(t, "http://example.com/bbc1.m3u8", got.Streams[0].SourceURL)
}

func TestChannelHandlerGetUnknownReturns404(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)

	req := httptest.NewRequest("GET", "/api/v1/channels/"+models.NewULID().String(), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestChannelHandlerUpdateRejectsNumberConflict(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)
	env.createChannel(t, "BBC One", "101")
	two := env.createChannel(t, "BBC Two", "102")

	req := httptest.NewRequest("PUT", "/api/v1/channels/"+two.ID.String(),
		strings.NewReader(`{"name": "BBC Two", "number": "101"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestChannelHandlerDeleteCascades(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)
	channel := env.createChannel(t, "BBC One", "101")
	stream := env.createStream(t, channel.ID, "http://example.com/bbc1.m3u8")

	req := httptest.NewRequest("DELETE", "/api/v1/channels/"+channel.ID.String(), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	gone, err := env.streams.GetByID(context.Background(), stream.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestChannelHandlerListPagination(t *testing.T) {
	env := setupHandlerTest(t)
	NewChannelHandler(env.channels, env.streams, nil).Register(env.api)
	for _, n := range []string{"3", "1", "2"} {
		env.createChannel(t, "Channel "+n, n)
	}

	req := httptest.NewRequest("GET", "/api/v1/channels?offset=1&limit=2", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())

	var body struct {
		Channels []models.Channel `json:"channels"`
		Total    int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body.Total)
	require.Len(t, body.Channels, 2)
	assert.Equal(t, "2", body.Channels[0].Number)
	assert.Equal(t, "3", body.Channels[1].Number)
}
