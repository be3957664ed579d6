package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"riffstore/pkg/models"
)

const trackColumns = `id, track_id, title, artist, album, duration, thumbnail_url,
	download_source, source_uri, lookup_id, file_path, file_size,
	media_format, media_quality, lyrics_file, subtitle_file, checksum,
	is_video, download_date, last_played, play_count, additional_metadata`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// trackRepository owns the downloaded_tracks table. Every method runs against
// the caller's transaction.
type trackRepository struct{}

// qualifiedTrackColumns prefixes every track column with alias for use in
// joins.
func qualifiedTrackColumns(alias string) string {
	columns := strings.Split(trackColumns, ",")
	for i, c := range columns {
		columns[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(columns, ", ")
}

// scanTrack scans the trackColumns of one row. extra receives any columns
// selected after them.
func scanTrack(row rowScanner, extra ...any) (*models.DownloadedTrack, error) {
	var track models.DownloadedTrack
	var lastPlayed sql.NullTime

	dest := []any{
		&track.ID, &track.TrackID, &track.Title, &track.Artist, &track.Album,
		&track.Duration, &track.ThumbnailURL, &track.Source, &track.SourceURI,
		&track.LookupID, &track.FilePath, &track.FileSize, &track.Format,
		&track.Quality, &track.LyricsFile, &track.SubtitleFile, &track.Checksum,
		&track.IsVideo, &track.DownloadDate, &lastPlayed, &track.PlayCount,
		&track.Metadata,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	track.DownloadDate = track.DownloadDate.UTC()
	if lastPlayed.Valid {
		t := lastPlayed.Time.UTC()
		track.LastPlayed = &t
	}
	return &track, nil
}

func collectTracks(rows *sql.Rows) ([]models.DownloadedTrack, error) {
	defer rows.Close()

	tracks := []models.DownloadedTrack{}
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, *track)
	}
	return tracks, rows.Err()
}

// getByExternalID returns the track with the given external id. The boolean is
// false, with a nil error, when no such track exists.
func (trackRepository) getByExternalID(ctx context.Context, q queryer, trackID string) (*models.DownloadedTrack, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM downloaded_tracks WHERE track_id = ?`, trackID)
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get track %q: %w", trackID, err)
	}
	return track, true, nil
}

// getByID looks a track up by its internal row id.
func (trackRepository) getByID(ctx context.Context, q queryer, id int64) (*models.DownloadedTrack, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM downloaded_tracks WHERE id = ?`, id)
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get track %d: %w", id, err)
	}
	return track, true, nil
}

// upsert inserts the track or, when its external id is already present,
// overwrites the mutable fields in place. download_date, play_count and
// last_played survive an update. previous is nil when the row was created.
func (r trackRepository) upsert(ctx context.Context, q queryer, in models.TrackInput, now time.Time) (track, previous *models.DownloadedTrack, err error) {
	previous, exists, err := r.getByExternalID(ctx, q, in.TrackID)
	if err != nil {
		return nil, nil, err
	}

	if exists {
		_, err = q.ExecContext(ctx, `
			UPDATE downloaded_tracks SET
				title = ?, artist = ?, album = ?, duration = ?, thumbnail_url = ?,
				download_source = ?, source_uri = ?, lookup_id = ?, file_path = ?,
				file_size = ?, media_format = ?, media_quality = ?, lyrics_file = ?,
				subtitle_file = ?, checksum = ?, is_video = ?, additional_metadata = ?
			WHERE track_id = ?`,
			in.Title, in.Artist, in.Album, in.Duration, in.ThumbnailURL,
			in.Source, in.SourceURI, in.LookupID, in.FilePath,
			in.FileSize, in.Format, in.Quality, in.LyricsFile,
			in.SubtitleFile, in.Checksum, in.IsVideo, in.Metadata,
			in.TrackID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to update track %q: %w", in.TrackID, err)
		}
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT INTO downloaded_tracks (
				track_id, title, artist, album, duration, thumbnail_url,
				download_source, source_uri, lookup_id, file_path, file_size,
				media_format, media_quality, lyrics_file, subtitle_file, checksum,
				is_video, download_date, play_count, additional_metadata
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			in.TrackID, in.Title, in.Artist, in.Album, in.Duration, in.ThumbnailURL,
			in.Source, in.SourceURI, in.LookupID, in.FilePath, in.FileSize,
			in.Format, in.Quality, in.LyricsFile, in.SubtitleFile, in.Checksum,
			in.IsVideo, now, in.Metadata,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert track %q: %w", in.TrackID, err)
		}
		previous = nil
	}

	track, _, err = r.getByExternalID(ctx, q, in.TrackID)
	if err != nil {
		return nil, nil, err
	}
	return track, previous, nil
}

// recordPlay bumps play_count and stamps last_played. It returns ErrNotFound
// when the track does not exist.
func (trackRepository) recordPlay(ctx context.Context, q queryer, trackID string, now time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE downloaded_tracks
		SET play_count = play_count + 1, last_played = ?
		WHERE track_id = ?`, now, trackID)
	if err != nil {
		return fmt.Errorf("failed to record play for %q: %w", trackID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("track %q: %w", trackID, ErrNotFound)
	}
	return nil
}

// delete removes the track and, through the foreign key cascade, its playlist
// memberships. The removed row is returned so the caller can adjust totals.
func (r trackRepository) delete(ctx context.Context, q queryer, trackID string) (*models.DownloadedTrack, error) {
	track, exists, err := r.getByExternalID(ctx, q, trackID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("track %q: %w", trackID, ErrNotFound)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM downloaded_tracks WHERE id = ?`, track.ID); err != nil {
		return nil, fmt.Errorf("failed to delete track %q: %w", trackID, err)
	}
	return track, nil
}

// deleteByPath removes every track stored at filePath and returns them.
func (trackRepository) deleteByPath(ctx context.Context, q queryer, filePath string) ([]models.DownloadedTrack, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+trackColumns+` FROM downloaded_tracks WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to find tracks at %q: %w", filePath, err)
	}
	tracks, err := collectTracks(rows)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return tracks, nil
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM downloaded_tracks WHERE file_path = ?`, filePath); err != nil {
		return nil, fmt.Errorf("failed to delete tracks at %q: %w", filePath, err)
	}
	return tracks, nil
}

// recent returns the most recently downloaded tracks, newest first.
func (trackRepository) recent(ctx context.Context, q queryer, limit int) ([]models.DownloadedTrack, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM downloaded_tracks
		ORDER BY download_date DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tracks: %w", err)
	}
	return collectTracks(rows)
}

// uniqueCounts returns the number of distinct artists and non-empty albums.
func (trackRepository) uniqueCounts(ctx context.Context, q queryer) (artists, albums int64, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT artist),
			COUNT(DISTINCT CASE WHEN album != '' THEN album END)
		FROM downloaded_tracks`).Scan(&artists, &albums)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count artists and albums: %w", err)
	}
	return artists, albums, nil
}
