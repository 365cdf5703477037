package epg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestSchedulerResyncTracksEnabledSources(t *testing.T) {
	env := setupEpgTest(t)
	ctx := context.Background()

	enabled := env.createSource(t, "http://example.com/a.xml")
	disabled := &models.EpgSource{Name: "off", URL: "http://example.com/b.xml"}
	require.NoError(t, env.sources.Create(ctx, disabled))
	off := false
	disabled.Enabled = &off
	require.NoError(t, env.sources.Update(ctx, disabled))

	scheduler := NewScheduler(env.newRefresher(t), env.sources, env.programs, nil)
	require.NoError(t, scheduler.Resync(ctx))

	scheduler.mu.Lock()
	_, hasEnabled := scheduler.entries[enabled.ID]
	_, hasDisabled := scheduler.entries[disabled.ID]
	count := len(scheduler.entries)
	scheduler.mu.Unlock()

	assert.True(t, hasEnabled)
	assert.False(t, hasDisabled)
	assert.Equal(t, 1, count)

	// A second resync replaces rather than duplicates entries.
	require.NoError(t, scheduler.Resync(ctx))
	scheduler.mu.Lock()
	assert.Equal(t, 1, len(scheduler.entries))
	scheduler.mu.Unlock()
}

func TestSchedulerStartRefreshesStaleSources(t *testing.T) {
	env := setupEpgTest(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleXMLTV))
	}))
	defer server.Close()

	env.createSource(t, server.URL)

	scheduler := NewScheduler(env.newRefresher(t), env.sources, env.programs, nil)
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		count, err := env.programs.Count(context.Background())
		return err == nil && count == 3
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerStartTwice(t *testing.T) {
	env := setupEpgTest(t)
	scheduler := NewScheduler(env.newRefresher(t), env.sources, env.programs, nil)

	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()
	assert.Error(t, scheduler.Start(context.Background()))
}
