package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"riffstore/pkg/models"
)

const unknownSource = "unknown"

// historyAggregator maintains the download_history singleton and the tables
// that reduce into it. Every method runs inside the caller's transaction so the
// counters move together with the row change that triggered them.
type historyAggregator struct{}

func sourceKey(source string) string {
	key := strings.ToLower(strings.TrimSpace(source))
	if key == "" {
		return unknownSource
	}
	return key
}

func typeColumn(isVideo bool) string {
	if isVideo {
		return "total_video_downloads"
	}
	return "total_audio_downloads"
}

func (historyAggregator) adjustSource(ctx context.Context, q queryer, source string, delta int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO download_source_counts (source, downloads) VALUES (?, MAX(?, 0))
		ON CONFLICT(source) DO UPDATE SET downloads = MAX(downloads + ?, 0)`,
		sourceKey(source), delta, delta)
	if err != nil {
		return fmt.Errorf("failed to update source counter: %w", err)
	}
	return nil
}

// recordSuccess counts a newly inserted track.
func (h historyAggregator) recordSuccess(ctx context.Context, q queryer, track *models.DownloadedTrack, now time.Time) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		UPDATE download_history SET
			total_downloads = total_downloads + 1,
			%[1]s = %[1]s + 1,
			total_file_size = total_file_size + ?,
			last_download_date = ?
		WHERE id = 1`, typeColumn(track.IsVideo)),
		track.FileSize, now)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return h.adjustSource(ctx, q, track.Source, 1)
}

// recordReplacement accounts for a re-download of an existing track. No new
// download is counted; size, type and source move from the old row's values
// to the new ones.
func (h historyAggregator) recordReplacement(ctx context.Context, q queryer, old, updated *models.DownloadedTrack, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE download_history SET
			total_file_size = MAX(total_file_size + ?, 0),
			last_download_date = ?
		WHERE id = 1`, updated.FileSize-old.FileSize, now)
	if err != nil {
		return fmt.Errorf("failed to record re-download: %w", err)
	}

	if old.IsVideo != updated.IsVideo {
		_, err := q.ExecContext(ctx, fmt.Sprintf(`
			UPDATE download_history SET
				%[1]s = MAX(%[1]s - 1, 0),
				%[2]s = %[2]s + 1
			WHERE id = 1`, typeColumn(old.IsVideo), typeColumn(updated.IsVideo)))
		if err != nil {
			return fmt.Errorf("failed to move media type counter: %w", err)
		}
	}

	if sourceKey(old.Source) != sourceKey(updated.Source) {
		if err := h.adjustSource(ctx, q, old.Source, -1); err != nil {
			return err
		}
		if err := h.adjustSource(ctx, q, updated.Source, 1); err != nil {
			return err
		}
	}
	return nil
}

// recordRemoval reverses recordSuccess for a deleted track. Counters never go
// below zero.
func (h historyAggregator) recordRemoval(ctx context.Context, q queryer, track *models.DownloadedTrack) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		UPDATE download_history SET
			total_downloads = MAX(total_downloads - 1, 0),
			%[1]s = MAX(%[1]s - 1, 0),
			total_file_size = MAX(total_file_size - ?, 0)
		WHERE id = 1`, typeColumn(track.IsVideo)),
		track.FileSize)
	if err != nil {
		return fmt.Errorf("failed to record removal: %w", err)
	}
	return h.adjustSource(ctx, q, track.Source, -1)
}

// recordFailure appends to the failure ledger and updates the last-error
// fields. Success counters are not touched.
func (historyAggregator) recordFailure(ctx context.Context, q queryer, message string, now time.Time) (*models.DownloadFailure, error) {
	failure := &models.DownloadFailure{
		ID:         uuid.NewString(),
		Message:    message,
		OccurredAt: now,
	}

	_, err := q.ExecContext(ctx, `INSERT INTO download_failures (id, message, occurred_at) VALUES (?, ?, ?)`,
		failure.ID, failure.Message, failure.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append failure: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE download_history SET
			failed_downloads = failed_downloads + 1,
			last_error = ?,
			last_error_date = ?
		WHERE id = 1`, message, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	return failure, nil
}

// recordPlaylistCreated counts a new playlist. The total is cumulative and is
// not reduced when playlists are deleted.
func (historyAggregator) recordPlaylistCreated(ctx context.Context, q queryer) error {
	if _, err := q.ExecContext(ctx, `UPDATE download_history SET total_playlists = total_playlists + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to count playlist: %w", err)
	}
	return nil
}

// snapshot reads the aggregate and derives the average file size.
func (historyAggregator) snapshot(ctx context.Context, q queryer) (*models.Statistics, error) {
	var stats models.Statistics
	var lastErrorDate, lastDownloadDate sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT total_downloads, total_video_downloads, total_audio_downloads,
			total_playlists, total_file_size, failed_downloads, last_error,
			last_error_date, last_download_date
		FROM download_history WHERE id = 1`).Scan(
		&stats.TotalDownloads, &stats.TotalVideoDownloads, &stats.TotalAudioDownloads,
		&stats.TotalPlaylists, &stats.TotalFileSize, &stats.FailedDownloads, &stats.LastError,
		&lastErrorDate, &lastDownloadDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read download history: %w", err)
	}

	if lastErrorDate.Valid {
		t := lastErrorDate.Time.UTC()
		stats.LastErrorDate = &t
	}
	if lastDownloadDate.Valid {
		t := lastDownloadDate.Time.UTC()
		stats.LastDownloadDate = &t
	}
	if stats.TotalDownloads > 0 {
		stats.AverageFileSize = float64(stats.TotalFileSize) / float64(stats.TotalDownloads)
	}

	rows, err := q.QueryContext(ctx, `SELECT source, downloads FROM download_source_counts WHERE downloads > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to read source counters: %w", err)
	}
	defer rows.Close()

	stats.DownloadsBySource = make(map[string]int64)
	for rows.Next() {
		var source string
		var downloads int64
		if err := rows.Scan(&source, &downloads); err != nil {
			return nil, fmt.Errorf("failed to scan source counter: %w", err)
		}
		stats.DownloadsBySource[source] = downloads
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// recentFailures returns the newest entries of the failure ledger.
func (historyAggregator) recentFailures(ctx context.Context, q queryer, limit int) ([]models.DownloadFailure, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, message, occurred_at
		FROM download_failures
		ORDER BY occurred_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	failures := []models.DownloadFailure{}
	for rows.Next() {
		var f models.DownloadFailure
		if err := rows.Scan(&f.ID, &f.Message, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.OccurredAt = f.OccurredAt.UTC()
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
