package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"riffstore/internal/cache"
	"riffstore/internal/config"
	"riffstore/internal/logging"
	"riffstore/pkg/models"

	"github.com/sirupsen/logrus"
)

// Manager is the download store. It owns the connection pool and composes the
// track and playlist repositories with the history aggregator; every exported
// method runs as one bounded transaction. It is safe for concurrent use.
type Manager struct {
	conn     *sql.DB
	logger   *logrus.Logger
	sessions *sessions
	stats    *cache.StatsCache
	limits   pageLimits
	path     string

	tracks    trackRepository
	playlists playlistRepository
	history   historyAggregator

	now func() time.Time
}

// dataSourceName builds the driver DSN. Writers take the lock at BEGIN
// (_txlock=immediate) and wait out contention for the busy timeout; WAL lets
// readers proceed alongside the single writer.
func dataSourceName(cfg config.DatabaseConfig) string {
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeoutMillis))
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_txlock", "immediate")
	return cfg.Path + "?" + params.Encode()
}

// Open opens (or creates) the SQLite store at cfg.Path and brings the schema
// up to date. Calling it on an initialized store is harmless. Caller should
// Close() it when finished.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, invalid("path", "database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", ErrStorageUnavailable, err)
		}
	}

	conn, err := sql.Open(driverName, dataSourceName(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStorageUnavailable, err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(cfg.MaxConnections)
	conn.SetMaxIdleConns(cfg.MaxIdleConnections)
	conn.SetConnMaxLifetime(15 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, classifyError(fmt.Errorf("failed to connect to database: %w", err))
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, classifyError(fmt.Errorf("failed to initialize schema: %w", err))
	}

	defaultSize, maxSize := cfg.DefaultPageSize, cfg.MaxPageSize
	if defaultSize < 1 {
		defaultSize = 50
	}
	if maxSize < defaultSize {
		maxSize = defaultSize
	}
	acquireTimeout := cfg.AcquireTimeout()
	if acquireTimeout <= 0 {
		acquireTimeout = 10 * time.Second
	}

	m := &Manager{
		conn:     conn,
		logger:   logger,
		sessions: &sessions{db: conn, acquireTimeout: acquireTimeout},
		stats:    cache.NewStatsCache(cfg.StatsCacheTTL()),
		limits:   pageLimits{defaultSize: defaultSize, maxSize: maxSize},
		path:     cfg.Path,
		now:      func() time.Time { return time.Now().UTC() },
	}

	logger.WithField("db_path", cfg.Path).Info("Database initialized successfully")
	return m, nil
}

// Path returns the database file location.
func (m *Manager) Path() string {
	return m.path
}

// WithSession runs work in one transaction. Calls made with the ctx handed to
// work join that transaction instead of opening their own.
//
// The write lock is held for the whole of work. AddTrack and SaveTrack stat the
// media file before touching the database, but inside a session that stat runs
// with the transaction already open; stat files first, or add tracks outside a
// session, when the files live on slow storage.
func (m *Manager) WithSession(ctx context.Context, work func(ctx context.Context) error) error {
	err := m.sessions.WithSession(ctx, func(ctx context.Context, _ *sql.Tx) error {
		return work(ctx)
	})
	m.stats.Invalidate()
	return err
}

// read runs a read-only unit of work.
func (m *Manager) read(ctx context.Context, work func(ctx context.Context, q queryer) error) error {
	return m.sessions.WithSession(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return work(ctx, tx)
	})
}

// write runs a mutation and invalidates cached statistics once it commits.
func (m *Manager) write(ctx context.Context, work func(ctx context.Context, q queryer) error) error {
	err := m.sessions.WithSession(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return work(ctx, tx)
	})
	if err == nil {
		m.stats.Invalidate()
	}
	return err
}

func (m *Manager) pageSize(limit int) int {
	if limit <= 0 {
		return m.limits.defaultSize
	}
	if limit > m.limits.maxSize {
		return m.limits.maxSize
	}
	return limit
}

// validateTrack checks required fields and stats the file before any statement
// runs. It fills FileSize from the file when it is zero.
func validateTrack(in *models.TrackInput) error {
	in.TrackID = strings.TrimSpace(in.TrackID)
	if in.TrackID == "" {
		return invalid("track_id", "is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "is required")
	}
	if strings.TrimSpace(in.Artist) == "" {
		return invalid("artist", "is required")
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return invalid("file_path", "is required")
	}
	if in.FileSize < 0 {
		return invalid("file_size", "must not be negative")
	}
	if in.Duration < 0 {
		return invalid("duration", "must not be negative")
	}
	if err := in.Metadata.Validate(); err != nil {
		return invalid("metadata", err.Error())
	}

	info, err := os.Stat(in.FilePath)
	if os.IsNotExist(err) {
		return invalid("file_path", fmt.Sprintf("%s does not exist", in.FilePath))
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", in.FilePath, err)
	}
	if info.IsDir() {
		return invalid("file_path", fmt.Sprintf("%s is a directory", in.FilePath))
	}
	if in.FileSize == 0 {
		in.FileSize = info.Size()
	}
	return nil
}

// AddTrack records a finished download. A track whose external id is already
// stored is updated in place; its download date and play history are kept and
// it is not counted as a new download.
func (m *Manager) AddTrack(ctx context.Context, in models.TrackInput) (*models.DownloadedTrack, error) {
	track, _, err := m.SaveTrack(ctx, in)
	return track, err
}

// SaveTrack is AddTrack that also reports whether the row was created, as
// decided inside the same transaction that wrote it.
func (m *Manager) SaveTrack(ctx context.Context, in models.TrackInput) (track *models.DownloadedTrack, created bool, err error) {
	if err := validateTrack(&in); err != nil {
		return nil, false, err
	}

	var previous *models.DownloadedTrack
	err = m.write(ctx, func(ctx context.Context, q queryer) error {
		now := m.now()

		var err error
		track, previous, err = m.tracks.upsert(ctx, q, in, now)
		if err != nil {
			return err
		}
		if previous == nil {
			return m.history.recordSuccess(ctx, q, track, now)
		}
		return m.history.recordReplacement(ctx, q, previous, track, now)
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation": "add_track",
		"track_id":  in.TrackID,
	})
	if err != nil {
		logFailure(log, err, "Failed to add track")
		return nil, false, err
	}

	if previous == nil {
		log.WithFields(logrus.Fields{
			"title":     track.Title,
			"artist":    track.Artist,
			"file_size": track.FileSize,
			"is_video":  track.IsVideo,
		}).Info("Track added")
	} else {
		log.Info("Track updated")
	}
	return track, previous == nil, nil
}

// MarkDownloadFailed records a failed download attempt.
func (m *Manager) MarkDownloadFailed(ctx context.Context, message string) (*models.DownloadFailure, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("message", "is required")
	}

	var failure *models.DownloadFailure
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		var err error
		failure, err = m.history.recordFailure(ctx, q, message, m.now())
		return err
	})
	if err != nil {
		m.logger.WithError(err).WithField("operation", "mark_download_failed").Error("Failed to record download failure")
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"operation":  "mark_download_failed",
		"failure_id": failure.ID,
		"error":      message,
	}).Warn("Download failed")
	return failure, nil
}

// SearchTracks returns one page of tracks matching q plus the total match
// count.
func (m *Manager) SearchTracks(ctx context.Context, q models.TrackQuery) (*models.TrackPage, error) {
	query, err := normalizeQuery(q, m.limits)
	if err != nil {
		return nil, err
	}

	var page *models.TrackPage
	err = m.read(ctx, func(ctx context.Context, q queryer) error {
		var err error
		page, err = m.tracks.search(ctx, q, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetTrackByID looks a track up by external id. ok is false when it is not
// stored.
func (m *Manager) GetTrackByID(ctx context.Context, trackID string) (track *models.DownloadedTrack, ok bool, err error) {
	err = m.read(ctx, func(ctx context.Context, q queryer) error {
		track, ok, err = m.tracks.getByExternalID(ctx, q, trackID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return track, ok, nil
}

// GetTrackByRowID looks a track up by its internal row id.
func (m *Manager) GetTrackByRowID(ctx context.Context, id int64) (track *models.DownloadedTrack, ok bool, err error) {
	err = m.read(ctx, func(ctx context.Context, q queryer) error {
		track, ok, err = m.tracks.getByID(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return track, ok, nil
}

// RecentTracks returns the newest downloads first.
func (m *Manager) RecentTracks(ctx context.Context, limit int) ([]models.DownloadedTrack, error) {
	var tracks []models.DownloadedTrack
	err := m.read(ctx, func(ctx context.Context, q queryer) error {
		var err error
		tracks, err = m.tracks.recent(ctx, q, m.pageSize(limit))
		return err
	})
	return tracks, err
}

// GetStatistics returns a snapshot of the download history. Snapshots are
// cached until the next committed change or the cache lifetime, whichever
// comes first.
func (m *Manager) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	// inside a caller's session the snapshot may include uncommitted changes
	cacheable := !inSession(ctx)
	if cacheable {
		if stats, ok := m.stats.GetStatistics(); ok {
			return stats, nil
		}
	}

	generation := m.stats.Generation()
	var stats *models.Statistics
	err := m.read(ctx, func(ctx context.Context, q queryer) error {
		var err error
		stats, err = m.history.snapshot(ctx, q)
		if err != nil {
			return err
		}
		stats.UniqueArtists, stats.UniqueAlbums, err = m.tracks.uniqueCounts(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		m.stats.SetStatistics(generation, stats)
	}
	return stats, nil
}

// RecentFailures returns the newest failed-download entries.
func (m *Manager) RecentFailures(ctx context.Context, limit int) ([]models.DownloadFailure, error) {
	var failures []models.DownloadFailure
	err := m.read(ctx, func(ctx context.Context, q queryer) error {
		var err error
		failures, err = m.history.recentFailures(ctx, q, m.pageSize(limit))
		return err
	})
	return failures, err
}

// RecordPlay counts one playback of the track.
func (m *Manager) RecordPlay(ctx context.Context, trackID string) error {
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		return m.tracks.recordPlay(ctx, q, trackID, m.now())
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation": "record_play",
		"track_id":  trackID,
	})
	if err != nil {
		logFailure(log, err, "Failed to record play")
		return err
	}
	log.Debug("Play recorded")
	return nil
}

// DeleteTrack removes the track, its playlist memberships and its share of the
// download totals.
func (m *Manager) DeleteTrack(ctx context.Context, trackID string) error {
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		track, err := m.tracks.delete(ctx, q, trackID)
		if err != nil {
			return err
		}
		return m.history.recordRemoval(ctx, q, track)
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation": "delete_track",
		"track_id":  trackID,
	})
	if err != nil {
		logFailure(log, err, "Failed to delete track")
		return err
	}
	log.Info("Track deleted")
	return nil
}

// DeleteTracksByPath removes every track stored at filePath and returns how
// many were removed. Zero matches is not an error.
func (m *Manager) DeleteTracksByPath(ctx context.Context, filePath string) (int, error) {
	var removed int
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		tracks, err := m.tracks.deleteByPath(ctx, q, filePath)
		if err != nil {
			return err
		}
		for i := range tracks {
			if err := m.history.recordRemoval(ctx, q, &tracks[i]); err != nil {
				return err
			}
		}
		removed = len(tracks)
		return nil
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation": "delete_tracks_by_path",
		"file_path": filePath,
	})
	if err != nil {
		logFailure(log, err, "Failed to remove tracks")
		return 0, err
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("Tracks removed")
	}
	return removed, nil
}

// CreatePlaylist creates a playlist and counts it in the history.
func (m *Manager) CreatePlaylist(ctx context.Context, in models.PlaylistInput) (*models.Playlist, error) {
	var playlist *models.Playlist
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		var err error
		playlist, err = m.playlists.create(ctx, q, in, m.now())
		if err != nil {
			return err
		}
		return m.history.recordPlaylistCreated(ctx, q)
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation": "create_playlist",
		"name":      in.Name,
	})
	if err != nil {
		logFailure(log, err, "Failed to create playlist")
		return nil, err
	}
	log.WithField("playlist_id", playlist.ID).Info("Playlist created")
	return playlist, nil
}

// UpdatePlaylist applies a partial metadata update.
func (m *Manager) UpdatePlaylist(ctx context.Context, id int64, u models.PlaylistUpdate) (*models.Playlist, error) {
	var playlist *models.Playlist
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		var err error
		playlist, err = m.playlists.update(ctx, q, id, u, m.now())
		return err
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation":   "update_playlist",
		"playlist_id": id,
	})
	if err != nil {
		logFailure(log, err, "Failed to update playlist")
		return nil, err
	}
	log.Debug("Playlist updated")
	return playlist, nil
}

// GetPlaylist looks a playlist up by id.
func (m *Manager) GetPlaylist(ctx context.Context, id int64) (playlist *models.Playlist, ok bool, err error) {
	err = m.read(ctx, func(ctx context.Context, q queryer) error {
		playlist, ok, err = m.playlists.get(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return playlist, ok, nil
}

// GetPlaylistByExternalID looks a playlist up by its source-service id.
func (m *Manager) GetPlaylistByExternalID(ctx context.Context, externalID string) (playlist *models.Playlist, ok bool, err error) {
	err = m.read(ctx, func(ctx context.Context, q queryer) error {
		playlist, ok, err = m.playlists.getByExternalID(ctx, q, externalID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return playlist, ok, nil
}

// ListPlaylists returns every playlist with its track count.
func (m *Manager) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	err := m.read(ctx, func(ctx context.Context, q queryer) error {
		var err error
		playlists, err = m.playlists.list(ctx, q)
		return err
	})
	return playlists, err
}

// AddTrackToPlaylist appends a stored track to the playlist, moving it to the
// end if it is already a member.
func (m *Manager) AddTrackToPlaylist(ctx context.Context, playlistID int64, trackID string) (*models.PlaylistEntry, error) {
	var entry *models.PlaylistEntry
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		var err error
		entry, err = m.playlists.addTrack(ctx, q, playlistID, trackID, m.now())
		return err
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation":   "add_track_to_playlist",
		"playlist_id": playlistID,
		"track_id":    trackID,
	})
	if err != nil {
		logFailure(log, err, "Failed to add track to playlist")
		return nil, err
	}
	log.WithField("position", entry.Position).Debug("Track added to playlist")
	return entry, nil
}

// RemoveTrackFromPlaylist drops the track from the playlist. The track itself
// is kept.
func (m *Manager) RemoveTrackFromPlaylist(ctx context.Context, playlistID int64, trackID string) error {
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		return m.playlists.removeTrack(ctx, q, playlistID, trackID, m.now())
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation":   "remove_track_from_playlist",
		"playlist_id": playlistID,
		"track_id":    trackID,
	})
	if err != nil {
		logFailure(log, err, "Failed to remove track from playlist")
		return err
	}
	log.Debug("Track removed from playlist")
	return nil
}

// PlaylistTracks lists the playlist's tracks by position.
func (m *Manager) PlaylistTracks(ctx context.Context, playlistID int64) ([]models.PlaylistEntry, error) {
	var entries []models.PlaylistEntry
	err := m.read(ctx, func(ctx context.Context, q queryer) error {
		var err error
		entries, err = m.playlists.tracks(ctx, q, playlistID)
		return err
	})
	return entries, err
}

// DeletePlaylist removes the playlist and its memberships. Tracks are kept and
// the cumulative playlist total is not reduced.
func (m *Manager) DeletePlaylist(ctx context.Context, id int64) error {
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		return m.playlists.delete(ctx, q, id)
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation":   "delete_playlist",
		"playlist_id": id,
	})
	if err != nil {
		logFailure(log, err, "Failed to delete playlist")
		return err
	}
	log.Info("Playlist deleted")
	return nil
}

// SyncPlaylist mirrors a source-service playlist: it creates or updates the
// playlist bound to in.ExternalID and replaces its membership with trackIDs in
// order. Every track must already be stored.
func (m *Manager) SyncPlaylist(ctx context.Context, in models.PlaylistInput, trackIDs []string) (*models.Playlist, error) {
	var playlist *models.Playlist
	var created bool
	err := m.write(ctx, func(ctx context.Context, q queryer) error {
		var err error
		playlist, created, err = m.playlists.sync(ctx, q, in, trackIDs, m.now())
		if err != nil || !created {
			return err
		}
		return m.history.recordPlaylistCreated(ctx, q)
	})

	log := m.logger.WithFields(logrus.Fields{
		"operation":   "sync_playlist",
		"external_id": in.ExternalID,
	})
	if err != nil {
		logFailure(log, err, "Failed to sync playlist")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"playlist_id": playlist.ID,
		"tracks":      playlist.TrackCount,
		"created":     created,
	}).Info("Playlist synced")
	return playlist, nil
}

// MissingColumns reports expected columns absent from the store, as
// "table.column". An up-to-date store returns none.
func (m *Manager) MissingColumns(ctx context.Context) ([]string, error) {
	return missingColumns(ctx, m.conn)
}

// Ping checks that the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.conn.PingContext(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// Close releases the pool. Operations after Close fail with
// ErrStorageUnavailable.
func (m *Manager) Close() error {
	m.stats.Close()
	if m.conn == nil {
		return nil
	}
	if _, err := m.conn.Exec("PRAGMA optimize;"); err != nil {
		m.logger.WithError(err).Warn("Failed to optimize database before closing")
	}
	return m.conn.Close()
}
