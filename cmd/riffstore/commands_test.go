package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffstore/internal/config"
	"riffstore/internal/database"
	"riffstore/internal/logging"
	"riffstore/pkg/models"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "store.db")
	cfg.Library.Path = dir

	logger := logging.Discard()
	store, err := database.Open(context.Background(), cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var out bytes.Buffer
	return &app{cfg: cfg, store: store, logger: logger, out: &out}, &out
}

func TestRunCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	path := filepath.Join(a.cfg.Library.Path, "song.mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))
	_, err := a.store.AddTrack(ctx, models.TrackInput{
		TrackID:  "yt:abc",
		Title:    "Song",
		Artist:   "Band",
		FilePath: path,
		Source:   "youtube",
	})
	require.NoError(t, err)

	require.NoError(t, a.run(ctx, "init", nil))
	assert.Contains(t, out.String(), "Database ready")

	out.Reset()
	require.NoError(t, a.run(ctx, "stats", nil))
	assert.Contains(t, out.String(), "Total downloads:")
	assert.Contains(t, out.String(), "from youtube:")

	out.Reset()
	require.NoError(t, a.run(ctx, "search", []string{"-artist", "band"}))
	assert.Contains(t, out.String(), "yt:abc")
	assert.Contains(t, out.String(), "1 of 1 matches")

	out.Reset()
	require.NoError(t, a.run(ctx, "display", []string{"-limit", "5"}))
	assert.Contains(t, out.String(), path)

	out.Reset()
	require.NoError(t, a.run(ctx, "check", nil))
	assert.Contains(t, out.String(), "healthy")
}

func TestRunRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t)

	assert.Error(t, a.run(ctx, "bogus", nil))
	assert.Error(t, a.run(ctx, "import", nil))
	assert.Error(t, a.run(ctx, "search", []string{"-video", "maybe"}))
	assert.Error(t, a.run(ctx, "import", []string{filepath.Join(t.TempDir(), "missing.mp3")}))
}
