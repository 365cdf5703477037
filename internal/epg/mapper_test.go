package epg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BBC One", "bbc one"},
		{"BBC-One HD", "bbc one hd"},
		{"Téléfoot", "telefoot"},
		{"  Sky   Sports  F1  ", "sky sports f1"},
		{"Canal+ (FR)", "canal fr"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeName(tt.in), "input %q", tt.in)
	}
}

func TestTokenSetDropsQualityTokens(t *testing.T) {
	set := tokenSet("sky sports f1 hd uhd")
	assert.Equal(t, map[string]bool{"sky": true, "sports": true, "f1": true}, set)
}

func TestJaccard(t *testing.T) {
	a := tokenSet("sky sports f1")
	b := tokenSet("sky sports main event")
	assert.InDelta(t, 2.0/5.0, jaccard(a, b), 0.001)

	assert.Zero(t, jaccard(nil, b))
	assert.Zero(t, jaccard(a, map[string]bool{}))
	assert.Equal(t, 1.0, jaccard(a, tokenSet("f1 sky sports")))
}

func seedGuideChannels(t *testing.T, env *epgTestEnv, defs ...*models.EpgChannel) {
	t.Helper()
	source := env.createSource(t, "http://example.com/guide.xml")
	for _, def := range defs {
		def.SourceID = source.ID
	}
	require.NoError(t, env.epgChannels.UpsertBatch(context.Background(), defs))
}

func createChannel(t *testing.T, env *epgTestEnv, name, number, epgKey string) *models.Channel {
	t.Helper()
	channels := repository.NewChannelRepository(env.db)
	ch := &models.Channel{Name: name, Number: number, EpgKey: epgKey}
	require.NoError(t, channels.Create(context.Background(), ch))
	return ch
}

func TestMapperSuggestTiers(t *testing.T) {
	env := setupEpgTest(t)
	seedGuideChannels(t, env,
		&models.EpgChannel{ChannelKey: "bbc1.uk", DisplayName: "BBC One"},
		&models.EpgChannel{ChannelKey: "bbc1hd.uk", DisplayName: "BBC One HD"},
		&models.EpgChannel{ChannelKey: "skysp.uk", DisplayName: "Sky Sports Main Event"},
	)
	mapper := NewMapper(repository.NewChannelRepository(env.db), env.epgChannels, nil)
	ctx := context.Background()

	exact := createChannel(t, env, "bbc one", "1", "")
	ranked, err := mapper.Suggest(ctx, exact)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "bbc1.uk", ranked[0].ChannelKey)
	assert.Equal(t, MatchExact, ranked[0].Method)
	assert.Equal(t, 1.0, ranked[0].Confidence)

	sub := createChannel(t, env, "UK: BBC One HD", "2", "")
	ranked, err = mapper.Suggest(ctx, sub)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "bbc1hd.uk", ranked[0].ChannelKey)
	assert.Equal(t, MatchSubstring, ranked[0].Method)
	assert.Greater(t, ranked[0].Confidence, 0.6)

	tokens := createChannel(t, env, "Main Event Sky Sports", "3", "")
	ranked, err = mapper.Suggest(ctx, tokens)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "skysp.uk", ranked[0].ChannelKey)
}

func TestMapperSuggestNoMatch(t *testing.T) {
	env := setupEpgTest(t)
	seedGuideChannels(t, env,
		&models.EpgChannel{ChannelKey: "bbc1.uk", DisplayName: "BBC One"},
	)
	mapper := NewMapper(repository.NewChannelRepository(env.db), env.epgChannels, nil)

	ch := createChannel(t, env, "Totally Unrelated Channel", "9", "")
	ranked, err := mapper.Suggest(context.Background(), ch)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestMapperAutoMap(t *testing.T) {
	env := setupEpgTest(t)
	seedGuideChannels(t, env,
		&models.EpgChannel{ChannelKey: "bbc1.uk", DisplayName: "BBC One"},
		&models.EpgChannel{ChannelKey: "itv.uk", DisplayName: "ITV"},
	)
	channels := repository.NewChannelRepository(env.db)
	mapper := NewMapper(channels, env.epgChannels, nil)
	ctx := context.Background()

	unmapped := createChannel(t, env, "BBC One", "1", "")
	already := createChannel(t, env, "ITV", "2", "manual.key")
	noMatch := createChannel(t, env, "Obscure Local", "3", "")

	result, err := mapper.AutoMap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Considered)
	assert.Equal(t, 1, result.Mapped)

	got, err := channels.GetByID(ctx, unmapped.ID)
	require.NoError(t, err)
	assert.Equal(t, "bbc1.uk", got.EpgKey)

	got, err = channels.GetByID(ctx, already.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual.key", got.EpgKey)

	got, err = channels.GetByID(ctx, noMatch.ID)
	require.NoError(t, err)
	assert.Empty(t, got.EpgKey)
}
