package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// handlerTestEnv wires real repositories over an in-memory database behind a
// chi router with the huma API mounted, mirroring the production stack.
type handlerTestEnv struct {
	db       *gorm.DB
	router   *chi.Mux
	api      huma.API
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	sources  repository.EpgSourceRepository
	settings repository.SettingRepository
}

func setupHandlerTest(t *testing.T) *handlerTestEnv {
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

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("test API", "0.0.0"))

	return &handlerTestEnv{
		db:       db,
		router:   router,
		api:      api,
		channels: repository.NewChannelRepository(db),
		streams:  repository.NewStreamRepository(db),
		sources:  repository.NewEpgSourceRepository(db),
		settings: repository.NewSettingRepository(db),
	}
}

func (env *handlerTestEnv) createChannel(t *testing.T, name, number string) *models.Channel {
	t.Helper()
	channel := &models.Channel{Name: name, Number: number}
	require.NoError(t, env.channels.Create(context.Background(), channel))
	return channel
}

func (env *handlerTestEnv) createStream(t *testing.T, channelID models.ULID, url string) *models.Stream {
	t.Helper()
	stream := &models.Stream{ChannelID: &channelID, SourceURL: url, Primary: true}
	require.NoError(t, env.streams.Create(context.Background(), stream))
	return stream
}
