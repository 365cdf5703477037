package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/httpclient"
)

// memEmitter records every event; an optional ackDelay simulates a slow SSE
// consumer.
type memEmitter struct {
	mu        sync.Mutex
	progress  []ProgressEvent
	channels  []ChannelsEvent
	completes []CompleteEvent
	errors    []ErrorEvent
	ackDelay  time.Duration
}

func (m *memEmitter) Progress(ev ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, ev)
	return nil
}

func (m *memEmitter) Channels(ev ChannelsEvent) error {
	if m.ackDelay > 0 {
		time.Sleep(m.ackDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ev)
	return nil
}

func (m *memEmitter) Complete(ev CompleteEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completes = append(m.completes, ev)
	return nil
}

func (m *memEmitter) Error(ev ErrorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, ev)
	return nil
}

func (m *memEmitter) totalChannels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, ev := range m.channels {
		total += len(ev.Channels)
	}
	return total
}

func playlistOf(n int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=\"ch%d.uk\" tvg-chno=\"%d\",Channel %d\n", i, i+1, i)
		fmt.Fprintf(&b, "http://example.com/stream%d.m3u8\n", i)
	}
	return b.String()
}

func newTestService(t *testing.T, playlist string) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playlist))
	}))
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	svc := NewService(httpclient.New(cfg), NewCache(time.Hour, 10, 200_000), NewRegistry(), 1000, time.Minute, nil)
	return svc, srv
}

func TestPipelineTinyPlaylist(t *testing.T) {
	svc, srv := newTestService(t, playlistOf(2))
	emitter := &memEmitter{}

	err := svc.Run(context.Background(), Options{URL: srv.URL, UseCache: true, Adaptive: true}, emitter)
	require.NoError(t, err)

	require.Len(t, emitter.completes, 1)
	assert.Equal(t, 2, emitter.completes[0].TotalChannels)
	assert.Equal(t, 2, emitter.totalChannels())
	assert.Empty(t, emitter.errors)

	last := emitter.channels[len(emitter.channels)-1]
	assert.True(t, last.IsComplete)
	assert.Equal(t, "Channel 0", emitter.channels[0].Channels[0].Name)
	assert.Equal(t, "hls", emitter.channels[0].Channels[0].Protocol)
	assert.Equal(t, "ch0.uk", emitter.channels[0].Channels[0].EpgKey)
	assert.Equal(t, "1", emitter.channels[0].Channels[0].Number)
}

func TestPipelineCacheReplay(t *testing.T) {
	svc, srv := newTestService(t, playlistOf(5))

	first := &memEmitter{}
	require.NoError(t, svc.Run(context.Background(), Options{URL: srv.URL, UseCache: true}, first))

	second := &memEmitter{}
	start := time.Now()
	require.NoError(t, svc.Run(context.Background(), Options{URL: srv.URL, UseCache: true}, second))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.Len(t, second.completes, 1)
	assert.Equal(t, 5, second.completes[0].TotalChannels)
	assert.True(t, second.completes[0].PerformanceMetrics.FromCache)
	require.NotEmpty(t, second.progress)
	assert.Equal(t, "cache", second.progress[0].Stage)
	assert.Equal(t, 5, second.totalChannels())
}

func TestPipelineChunkSumEqualsTotal(t *testing.T) {
	svc, srv := newTestService(t, playlistOf(2500))
	emitter := &memEmitter{}

	err := svc.Run(context.Background(), Options{URL: srv.URL, ChunkSize: 1000, Adaptive: true}, emitter)
	require.NoError(t, err)

	require.Len(t, emitter.completes, 1)
	assert.Equal(t, 2500, emitter.completes[0].TotalChannels)
	assert.Equal(t, 2500, emitter.totalChannels())
	assert.GreaterOrEqual(t, len(emitter.channels), 3)
}

func TestPipelineBackpressureShrinksChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("slow consumer simulation")
	}
	svc, srv := newTestService(t, playlistOf(700))
	emitter := &memEmitter{ackDelay: 5100 * time.Millisecond}

	err := svc.Run(context.Background(), Options{URL: srv.URL, ChunkSize: 400, Adaptive: true}, emitter)
	require.NoError(t, err)

	var sawBackpressure bool
	for _, ev := range emitter.channels {
		if ev.Backpressure {
			sawBackpressure = true
		}
	}
	assert.True(t, sawBackpressure, "slow acks must flag backpressure")
	assert.Equal(t, 700, emitter.totalChannels())

	// After the first slow ack every subsequent chunk is at most a quarter of
	// the starting size.
	for _, ev := range emitter.channels[2:] {
		assert.LessOrEqual(t, ev.ChunkSize, 100)
	}
}

func TestPipelineNotAPlaylist(t *testing.T) {
	svc, srv := newTestService(t, "<html>not a playlist</html>")
	emitter := &memEmitter{}

	err := svc.Run(context.Background(), Options{URL: srv.URL}, emitter)
	require.Error(t, err)
	require.Len(t, emitter.errors, 1)
	assert.Empty(t, emitter.completes)
}

func TestPipelineUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	svc := NewService(httpclient.New(cfg), NewCache(time.Hour, 10, 200_000), NewRegistry(), 1000, time.Minute, nil)

	emitter := &memEmitter{}
	err := svc.Run(context.Background(), Options{URL: srv.URL}, emitter)
	require.Error(t, err)
	require.Len(t, emitter.errors, 1)
	assert.Contains(t, emitter.errors[0].Error, "404")
}

func TestPipelineCancellation(t *testing.T) {
	svc, srv := newTestService(t, playlistOf(5000))

	ctx, cancel := context.WithCancel(context.Background())
	emitter := &memEmitter{}

	// Cancel as soon as the first chunk lands.
	cancelling := &cancellingEmitter{memEmitter: emitter, cancel: cancel}
	err := svc.Run(ctx, Options{URL: srv.URL, ChunkSize: 100}, cancelling)
	require.Error(t, err)

	assert.Empty(t, emitter.completes, "cancelled session must not complete")
	assert.Empty(t, svc.Registry().Active(), "session record released")
}

type cancellingEmitter struct {
	*memEmitter
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingEmitter) Channels(ev ChannelsEvent) error {
	c.once.Do(c.cancel)
	return c.memEmitter.Channels(ev)
}

func TestPipelineNoCacheWriteWhenDisabled(t *testing.T) {
	svc, srv := newTestService(t, playlistOf(3))
	emitter := &memEmitter{}
	require.NoError(t, svc.Run(context.Background(), Options{URL: srv.URL, UseCache: false}, emitter))
	assert.Zero(t, svc.cache.Len())
}

func TestParseOnce(t *testing.T) {
	svc, srv := newTestService(t, playlistOf(4))

	channels, err := svc.ParseOnce(context.Background(), srv.URL, true)
	require.NoError(t, err)
	assert.Len(t, channels, 4)

	// Second call is served by the cache.
	again, err := svc.ParseOnce(context.Background(), srv.URL, true)
	require.NoError(t, err)
	assert.Len(t, again, 4)
	assert.Equal(t, 1, svc.cache.Len())
}

func TestEstimator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "400000")
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	est := NewEstimator(httpclient.New(cfg))

	got, err := est.Estimate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 400000, got.ContentLength)
	assert.Equal(t, 2000, got.EstimatedChannels)
	assert.True(t, got.RecommendStreaming)
}

func TestEstimatorSmallPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	est := NewEstimator(httpclient.New(cfg))

	got, err := est.Estimate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 500, got.EstimatedChannels)
	assert.False(t, got.RecommendStreaming)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	id := r.Begin("http://example.com/a.m3u")

	s := r.Get(id)
	require.NotNil(t, s)
	assert.Equal(t, PhaseFetching, s.Phase)

	r.Update(id, PhaseParsing, 500)
	s = r.Get(id)
	assert.Equal(t, PhaseParsing, s.Phase)
	assert.Equal(t, 500, s.TotalParsed)
	assert.Len(t, r.Active(), 1)

	r.End(id, PhaseComplete, "")
	assert.Nil(t, r.Get(id))
	assert.Empty(t, r.Active())
}

func TestPipelineOverCeilingSkipsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playlistOf(30)))
	}))
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	svc := NewService(httpclient.New(cfg), NewCache(time.Hour, 10, 8), NewRegistry(), 5, time.Minute, nil)

	emitter := &memEmitter{}
	require.NoError(t, svc.Run(context.Background(), Options{URL: srv.URL, UseCache: true}, emitter))

	// Parsing streams all channels to the consumer regardless of the ceiling.
	assert.Equal(t, 30, emitter.totalChannels())
	assert.Nil(t, svc.cache.Get(srv.URL), "playlists past the cache ceiling are not stored")
}
