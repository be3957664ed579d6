package library

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffstore/internal/config"
	"riffstore/internal/database"
	"riffstore/internal/logging"
	"riffstore/internal/metadata"
	"riffstore/pkg/models"
)

// writeWAV writes a silent 16-bit mono PCM file. fill varies the payload so
// different files get different checksums.
func writeWAV(t *testing.T, path string, seconds int, fill byte) {
	t.Helper()
	const sampleRate = 8000
	dataSize := sampleRate * 2 * seconds

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(bytes.Repeat([]byte{fill}, dataSize))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func newTestImporter(t *testing.T) (*Importer, *database.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "store.db")

	logger := logging.Discard()
	store, err := database.Open(context.Background(), cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewImporter(store, metadata.NewProber(cfg.Library, logger), logger), store
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	im, store := newTestImporter(t)

	path := filepath.Join(t.TempDir(), "Morning.wav")
	writeWAV(t, path, 1, 0)

	track, err := im.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(track.TrackID, "local:"))
	assert.Equal(t, LocalTrackID(track.Checksum, path), track.TrackID)
	assert.Equal(t, "Morning", track.Title)
	assert.Equal(t, metadata.UnknownArtist, track.Artist)
	assert.Equal(t, LocalSource, track.Source)
	assert.Equal(t, 1, track.Duration)
	assert.Len(t, track.Checksum, 64)

	// importing the same content again updates the existing track
	again, err := im.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, track.ID, again.ID)

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDownloads)
	assert.Equal(t, int64(1), stats.DownloadsBySource[LocalSource])
}

func TestIdenticalCopiesAreTrackedSeparately(t *testing.T) {
	ctx := context.Background()
	im, store := newTestImporter(t)

	dir := t.TempDir()
	first := filepath.Join(dir, "song.wav")
	second := filepath.Join(dir, "backup", "song.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(second), 0755))
	writeWAV(t, first, 1, 7)
	writeWAV(t, second, 1, 7)

	a, err := im.ImportFile(ctx, first)
	require.NoError(t, err)
	b, err := im.ImportFile(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, a.Checksum, b.Checksum)
	assert.NotEqual(t, a.TrackID, b.TrackID)

	removed, err := store.DeleteTracksByPath(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	kept, ok, err := store.GetTrackByID(ctx, b.TrackID)
	require.NoError(t, err)
	require.True(t, ok, "the other copy must survive")
	assert.Equal(t, second, kept.FilePath)
}

func TestLocalTrackID(t *testing.T) {
	sum := strings.Repeat("ab", 32)
	id := LocalTrackID(sum, "/music/a.wav")
	assert.True(t, strings.HasPrefix(id, "local:"+sum[:16]+"-"))
	assert.Len(t, id, len("local:")+16+1+8)
	assert.Equal(t, id, LocalTrackID(sum, "/music/./a.wav"))
	assert.NotEqual(t, id, LocalTrackID(sum, "/music/b.wav"))
}

func TestImportFileRecordsFailure(t *testing.T) {
	ctx := context.Background()
	im, store := newTestImporter(t)

	_, err := im.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.mp3"))
	require.Error(t, err)

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FailedDownloads)
	assert.Contains(t, stats.LastError, "missing.mp3")
	assert.Zero(t, stats.TotalDownloads)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	im, store := newTestImporter(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "album"), 0755))
	writeWAV(t, filepath.Join(root, "one.wav"), 1, 1)
	writeWAV(t, filepath.Join(root, "album", "two.wav"), 1, 2)
	writeWAV(t, filepath.Join(root, "album", "three.wav"), 2, 3)
	writeWAV(t, filepath.Join(root, ".hidden.wav"), 1, 4)
	require.NoError(t, os.WriteFile(filepath.Join(root, "cover.jpg"), []byte("jpg"), 0644))

	result, err := im.Scan(ctx, root, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Imported)
	assert.Zero(t, result.Failed)

	page, err := store.SearchTracks(ctx, models.TrackQuery{Source: LocalSource})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestScanMissingRoot(t *testing.T) {
	im, _ := newTestImporter(t)

	_, err := im.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), 2)
	assert.Error(t, err)
}

func TestWatcherImportsAndPrunes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	im, store := newTestImporter(t)

	root := t.TempDir()
	w := NewWatcher(im, logging.Discard())
	w.SettleDelay = 50 * time.Millisecond
	require.NoError(t, w.Start(ctx, root))
	defer w.Close()

	path := filepath.Join(root, "new.wav")
	writeWAV(t, path, 1, 9)

	require.Eventually(t, func() bool {
		page, err := store.SearchTracks(ctx, models.TrackQuery{})
		return err == nil && page.Total == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		page, err := store.SearchTracks(ctx, models.TrackQuery{})
		return err == nil && page.Total == 0
	}, 5*time.Second, 50*time.Millisecond)
}
