package database

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffstore/pkg/models"
)

func TestFailedWritesAreLogged(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	m, err := Open(ctx, testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	tests := []struct {
		name      string
		run       func() error
		operation string
		fields    logrus.Fields
	}{
		{
			name:      "record play",
			run:       func() error { return m.RecordPlay(ctx, "missing") },
			operation: "record_play",
			fields:    logrus.Fields{"track_id": "missing"},
		},
		{
			name:      "delete track",
			run:       func() error { return m.DeleteTrack(ctx, "missing") },
			operation: "delete_track",
			fields:    logrus.Fields{"track_id": "missing"},
		},
		{
			name: "update playlist",
			run: func() error {
				name := "x"
				_, err := m.UpdatePlaylist(ctx, 404, models.PlaylistUpdate{Name: &name})
				return err
			},
			operation: "update_playlist",
			fields:    logrus.Fields{"playlist_id": int64(404)},
		},
		{
			name: "add track to playlist",
			run: func() error {
				_, err := m.AddTrackToPlaylist(ctx, 404, "missing")
				return err
			},
			operation: "add_track_to_playlist",
			fields:    logrus.Fields{"playlist_id": int64(404), "track_id": "missing"},
		},
		{
			name:      "remove track from playlist",
			run:       func() error { return m.RemoveTrackFromPlaylist(ctx, 404, "missing") },
			operation: "remove_track_from_playlist",
			fields:    logrus.Fields{"playlist_id": int64(404), "track_id": "missing"},
		},
		{
			name:      "delete playlist",
			run:       func() error { return m.DeletePlaylist(ctx, 404) },
			operation: "delete_playlist",
			fields:    logrus.Fields{"playlist_id": int64(404)},
		},
		{
			name: "sync playlist",
			run: func() error {
				_, err := m.SyncPlaylist(ctx, models.PlaylistInput{Name: "Mix", ExternalID: "sp:1"}, []string{"missing"})
				return err
			},
			operation: "sync_playlist",
			fields:    logrus.Fields{"external_id": "sp:1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			require.Error(t, tt.run())

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.Equal(t, tt.operation, entry.Data["operation"])
			assert.NotNil(t, entry.Data[logrus.ErrorKey])
			for k, v := range tt.fields {
				assert.Equal(t, v, entry.Data[k], k)
			}
		})
	}
}

func TestStorageFailuresLogAsErrors(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	m, err := Open(ctx, testConfig(t), logger)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	hook.Reset()
	_, err = m.CreatePlaylist(ctx, models.PlaylistInput{Name: "Late"})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "create_playlist", entry.Data["operation"])
	assert.Equal(t, "Late", entry.Data["name"])
}

func TestSaveTrackReportsCreation(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()
	in := trackInput(t, "yt:1", "Song", "Band")

	track, created, err := m.SaveTrack(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	in.Title = "Song (Live)"
	again, created, err := m.SaveTrack(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, track.ID, again.ID)
}
