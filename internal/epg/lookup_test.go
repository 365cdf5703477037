package epg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func seedLineupChannel(t *testing.T, env *epgTestEnv, name, number, epgKey string) *models.Channel {
	t.Helper()
	ch := createChannel(t, env, name, number, epgKey)
	stream := &models.Stream{
		ChannelID: &ch.ID,
		SourceURL: "http://example.com/" + number + ".m3u8",
	}
	require.NoError(t, repository.NewStreamRepository(env.db).Create(context.Background(), stream))
	return ch
}

func seedPrograms(t *testing.T, env *epgTestEnv, key string, base time.Time, titles ...string) {
	t.Helper()
	source := &models.EpgSource{Name: "lookup-" + key, URL: "http://example.com/" + key + ".xml"}
	require.NoError(t, env.sources.Create(context.Background(), source))

	programs := make([]*models.EpgProgram, 0, len(titles))
	for i, title := range titles {
		programs = append(programs, &models.EpgProgram{
			SourceID:   source.ID,
			ChannelKey: key,
			Start:      base.Add(time.Duration(i) * time.Hour),
			Stop:       base.Add(time.Duration(i+1) * time.Hour),
			Title:      title,
		})
	}
	require.NoError(t, env.programs.UpsertBatch(context.Background(), programs))
}

func TestLookupGuideJoinsOnEpgKey(t *testing.T) {
	env := setupEpgTest(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)

	mapped := seedLineupChannel(t, env, "BBC One", "1", "bbc1.uk")
	seedPrograms(t, env, "bbc1.uk", base, "News", "Quiz")

	lookup := NewLookup(repository.NewChannelRepository(env.db), env.programs)
	guides, err := lookup.GetGuide(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, guides, 1)

	assert.Equal(t, mapped.ID, guides[0].ChannelID)
	require.Len(t, guides[0].Programs, 2)
	assert.Equal(t, "News", guides[0].Programs[0].Title)
	assert.False(t, guides[0].Programs[0].Synthetic)
}

func TestLookupUnmappedChannelGetsPlaceholders(t *testing.T) {
	env := setupEpgTest(t)
	seedLineupChannel(t, env, "Mystery", "5", "")

	lookup := NewLookup(repository.NewChannelRepository(env.db), env.programs)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(12 * time.Hour)

	guides, err := lookup.GetGuide(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, guides, 1)

	programs := guides[0].Programs
	require.Len(t, programs, 3)
	for i, p := range programs {
		assert.True(t, p.Synthetic)
		assert.Equal(t, "Live", p.Title)
		assert.Equal(t, placeholderSlot, p.Stop.Sub(p.Start))
		if i > 0 {
			assert.Equal(t, programs[i-1].Stop, p.Start)
		}
	}
}

func TestLookupUnknownKeyFallsBackToPlaceholders(t *testing.T) {
	env := setupEpgTest(t)
	seedLineupChannel(t, env, "Ghost", "7", "no.such.key")

	lookup := NewLookup(repository.NewChannelRepository(env.db), env.programs)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	guides, err := lookup.GetGuide(context.Background(), from, from.Add(placeholderSlot))
	require.NoError(t, err)
	require.Len(t, guides, 1)
	require.NotEmpty(t, guides[0].Programs)
	assert.True(t, guides[0].Programs[0].Synthetic)
}

func TestLookupChannelGuideAndOnAir(t *testing.T) {
	env := setupEpgTest(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)

	ch := seedLineupChannel(t, env, "BBC One", "1", "bbc1.uk")
	seedPrograms(t, env, "bbc1.uk", base, "News", "Quiz")

	lookup := NewLookup(repository.NewChannelRepository(env.db), env.programs)

	guide, err := lookup.GetChannelGuide(ctx, ch.ID, base, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, guide.Programs, 2)

	onAir, err := lookup.GetOnAir(ctx, ch.ID, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "News", onAir.Title)
	assert.False(t, onAir.Synthetic)

	// Outside stored data the on-air entry is synthetic.
	onAir, err = lookup.GetOnAir(ctx, ch.ID, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, onAir.Synthetic)
	assert.Equal(t, "Live", onAir.Title)
}

func TestLookupUnknownChannel(t *testing.T) {
	env := setupEpgTest(t)
	lookup := NewLookup(repository.NewChannelRepository(env.db), env.programs)

	_, err := lookup.GetChannelGuide(context.Background(), models.NewULID(), time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, models.ErrChannelNotFound)
}

func TestLookupRejectsEmptyWindow(t *testing.T) {
	env := setupEpgTest(t)
	lookup := NewLookup(repository.NewChannelRepository(env.db), env.programs)

	now := time.Now()
	_, err := lookup.GetGuide(context.Background(), now, now)
	assert.Error(t, err)
}
