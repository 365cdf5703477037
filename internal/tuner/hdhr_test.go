package tuner

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

type tunerTestEnv struct {
	db       *gorm.DB
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	settings repository.SettingRepository
}

func setupTunerTest(t *testing.T) *tunerTestEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Channel{}, &models.Stream{}, &models.Setting{}))
	return &tunerTestEnv{
		db:       db,
		channels: repository.NewChannelRepository(db),
		streams:  repository.NewStreamRepository(db),
		settings: repository.NewSettingRepository(db),
	}
}

func (e *tunerTestEnv) newDevice(t *testing.T, cfg Config) *Device {
	t.Helper()
	device, err := NewDevice(context.Background(), cfg, e.channels, e.settings, nil)
	require.NoError(t, err)
	return device
}

func (e *tunerTestEnv) addChannel(t *testing.T, name, number string) *models.Channel {
	t.Helper()
	ctx := context.Background()
	channel := &models.Channel{Name: name, Number: number}
	require.NoError(t, e.channels.Create(ctx, channel))
	stream := &models.Stream{ChannelID: &channel.ID, SourceURL: "http://example.com/" + number + ".m3u8"}
	require.NoError(t, e.streams.Create(ctx, stream))
	return channel
}

func TestDiscoverFieldNames(t *testing.T) {
	env := setupTunerTest(t)
	device := env.newDevice(t, Config{
		FriendlyName:    "My Bridge",
		ModelNumber:     "HDTC-2US",
		FirmwareName:    "hdhomeruntc_atsc",
		FirmwareVersion: "20200101",
		DeviceID:        "ABCD1234",
		TunerCount:      4,
		BaseURL:         "http://192.168.1.5:5004",
	})

	raw, err := json.Marshal(device.Discover())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	// Plex matches on these exact key names.
	for _, key := range []string{
		"FriendlyName", "Manufacturer", "ModelNumber", "FirmwareName",
		"FirmwareVersion", "DeviceID", "DeviceAuth", "BaseURL", "LineupURL",
		"TunerCount",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Len(t, fields, 10)

	assert.Equal(t, "My Bridge", fields["FriendlyName"])
	assert.Equal(t, "PlexBridge", fields["Manufacturer"])
	assert.Equal(t, "ABCD1234", fields["DeviceID"])
	assert.Equal(t, "", fields["DeviceAuth"])
	assert.Equal(t, "http://192.168.1.5:5004", fields["BaseURL"])
	assert.Equal(t, "http://192.168.1.5:5004/lineup.json", fields["LineupURL"])
	assert.EqualValues(t, 4, fields["TunerCount"])
}

func TestDeviceIDGeneratedAndPersisted(t *testing.T) {
	env := setupTunerTest(t)

	first := env.newDevice(t, Config{BaseURL: "http://localhost:5004"})
	require.Regexp(t, regexp.MustCompile(`^[0-9A-F]{8}$`), first.DeviceID())

	second := env.newDevice(t, Config{BaseURL: "http://localhost:5004"})
	assert.Equal(t, first.DeviceID(), second.DeviceID())
}

func TestLineupProjection(t *testing.T) {
	env := setupTunerTest(t)
	three := env.addChannel(t, "Three", "3")
	env.addChannel(t, "Ten", "10")
	env.addChannel(t, "Two", "2")

	device := env.newDevice(t, Config{BaseURL: "http://localhost:5004", DeviceID: "ABCD1234"})
	lineup, err := device.Lineup(context.Background())
	require.NoError(t, err)
	require.Len(t, lineup, 3)

	assert.Equal(t, "2", lineup[0].GuideNumber)
	assert.Equal(t, "3", lineup[1].GuideNumber)
	assert.Equal(t, "10", lineup[2].GuideNumber)

	assert.Equal(t, "Three", lineup[1].GuideName)
	assert.Equal(t, "http://localhost:5004/stream/"+three.ID.String(), lineup[1].URL)
}

func TestLineupEmptyIsNotAnError(t *testing.T) {
	env := setupTunerTest(t)
	device := env.newDevice(t, Config{BaseURL: "http://localhost:5004", DeviceID: "ABCD1234"})

	lineup, err := device.Lineup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lineup)
}

func TestLineupStatusStatic(t *testing.T) {
	env := setupTunerTest(t)
	device := env.newDevice(t, Config{BaseURL: "http://localhost:5004", DeviceID: "ABCD1234"})

	raw, err := json.Marshal(device.LineupStatus())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ScanInProgress":0,"ScanPossible":1,"Source":"IPTV","SourceList":["IPTV"]}`, string(raw))
}
