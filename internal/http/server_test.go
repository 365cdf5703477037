package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/config"
)

func TestServerMountsAPIAndRouter(t *testing.T) {
	server := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil, "test")

	type pingOutput struct {
		Body struct {
			Pong bool `json:"pong"`
		}
	}
	huma.Get(server.API(), "/api/v1/ping", func(ctx context.Context, input *struct{}) (*pingOutput, error) {
		out := &pingOutput{}
		out.Body.Pong = true
		return out, nil
	})
	server.Router().Get("/raw", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw"))
	})

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/ping", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pong":true`)

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/raw", nil))
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "raw", rec.Body.String())
}

func TestServerSetsRequestIDHeader(t *testing.T) {
	server := NewServer(config.ServerConfig{}, nil, "test")
	server.Router().Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/ok", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerShutdownWithoutStart(t *testing.T) {
	server := NewServer(config.ServerConfig{}, nil, "test")
	assert.NoError(t, server.Shutdown(context.Background()))
}
