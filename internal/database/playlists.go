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

const playlistColumns = `p.id, COALESCE(p.spotify_id, ''), p.name, p.description, p.is_public,
	p.owner, p.thumbnail_url, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM playlist_tracks pt WHERE pt.playlist_id = p.id)`

// playlistRepository owns playlists and playlist_tracks.
type playlistRepository struct{}

func scanPlaylist(row rowScanner) (*models.Playlist, error) {
	var p models.Playlist
	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Description, &p.IsPublic,
		&p.Owner, &p.ThumbnailURL, &p.CreatedAt, &p.UpdatedAt, &p.TrackCount)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// nullableExternalID stores an empty external id as NULL so user playlists
// never collide on the unique index.
func nullableExternalID(id string) sql.NullString {
	id = strings.TrimSpace(id)
	return sql.NullString{String: id, Valid: id != ""}
}

func (playlistRepository) get(ctx context.Context, q queryer, id int64) (*models.Playlist, bool, error) {
	p, err := scanPlaylist(q.QueryRowContext(ctx, `SELECT `+playlistColumns+` FROM playlists p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get playlist %d: %w", id, err)
	}
	return p, true, nil
}

func (playlistRepository) getByExternalID(ctx context.Context, q queryer, externalID string) (*models.Playlist, bool, error) {
	p, err := scanPlaylist(q.QueryRowContext(ctx, `SELECT `+playlistColumns+` FROM playlists p WHERE p.spotify_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get playlist %q: %w", externalID, err)
	}
	return p, true, nil
}

// mustGet is get with absence reported as ErrNotFound.
func (r playlistRepository) mustGet(ctx context.Context, q queryer, id int64) (*models.Playlist, error) {
	p, ok, err := r.get(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("playlist %d: %w", id, ErrNotFound)
	}
	return p, nil
}

// list returns all playlists, newest first, with their track counts.
func (playlistRepository) list(ctx context.Context, q queryer) ([]models.Playlist, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+playlistColumns+` FROM playlists p ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	playlists := []models.Playlist{}
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, *p)
	}
	return playlists, rows.Err()
}

// create inserts a playlist. A taken external id is reported as ErrConflict.
func (r playlistRepository) create(ctx context.Context, q queryer, in models.PlaylistInput, now time.Time) (*models.Playlist, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "is required")
	}

	externalID := nullableExternalID(in.ExternalID)
	if externalID.Valid {
		if _, exists, err := r.getByExternalID(ctx, q, externalID.String); err != nil {
			return nil, err
		} else if exists {
			return nil, fmt.Errorf("playlist with external id %q: %w", externalID.String, ErrConflict)
		}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO playlists (name, description, spotify_id, is_public, owner, thumbnail_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.Description, externalID, in.IsPublic, in.Owner, in.ThumbnailURL, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.mustGet(ctx, q, id)
}

// update applies the non-nil fields of u and bumps updated_at.
func (r playlistRepository) update(ctx context.Context, q queryer, id int64, u models.PlaylistUpdate, now time.Time) (*models.Playlist, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return nil, invalid("name", "must not be empty")
		}
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *u.Description)
	}
	if u.IsPublic != nil {
		sets = append(sets, "is_public = ?")
		args = append(args, *u.IsPublic)
	}
	if u.Owner != nil {
		sets = append(sets, "owner = ?")
		args = append(args, *u.Owner)
	}
	if u.ThumbnailURL != nil {
		sets = append(sets, "thumbnail_url = ?")
		args = append(args, *u.ThumbnailURL)
	}

	result, err := q.ExecContext(ctx, `UPDATE playlists SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return nil, fmt.Errorf("failed to update playlist %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("playlist %d: %w", id, ErrNotFound)
	}
	return r.mustGet(ctx, q, id)
}

func (playlistRepository) touch(ctx context.Context, q queryer, id int64, now time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE playlists SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("failed to touch playlist %d: %w", id, err)
	}
	return nil
}

// resolveTrack maps an external track id to its row id. An unknown track is an
// ErrIntegrityViolation: membership may only reference stored tracks.
func resolveTrack(ctx context.Context, q queryer, trackID string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM downloaded_tracks WHERE track_id = ?`, trackID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("track %q is not stored: %w", trackID, ErrIntegrityViolation)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve track %q: %w", trackID, err)
	}
	return id, nil
}

// addTrack appends the track to the end of the playlist. Adding a track that
// is already a member moves it to the end instead of duplicating it.
func (r playlistRepository) addTrack(ctx context.Context, q queryer, playlistID int64, trackID string, now time.Time) (*models.PlaylistEntry, error) {
	if _, err := r.mustGet(ctx, q, playlistID); err != nil {
		return nil, err
	}
	rowID, err := resolveTrack(ctx, q, trackID)
	if err != nil {
		return nil, err
	}

	var maxPosition sql.NullInt64
	err = q.QueryRowContext(ctx, `
		SELECT MAX(position) FROM playlist_tracks
		WHERE playlist_id = ? AND track_id != ?`, playlistID, rowID).Scan(&maxPosition)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist positions: %w", err)
	}

	position := 1
	if maxPosition.Valid {
		position = int(maxPosition.Int64) + 1
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO playlist_tracks (playlist_id, track_id, position, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(playlist_id, track_id) DO UPDATE SET position = excluded.position`,
		playlistID, rowID, position, now)
	if err != nil {
		return nil, fmt.Errorf("failed to add track to playlist: %w", err)
	}
	if err := r.touch(ctx, q, playlistID, now); err != nil {
		return nil, err
	}

	entries, err := r.entries(ctx, q, playlistID, "AND t.id = ?", rowID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("track %q missing from playlist %d after add", trackID, playlistID)
	}
	return &entries[0], nil
}

// removeTrack drops one membership. ErrNotFound covers both an unknown
// playlist and a track that is not a member.
func (r playlistRepository) removeTrack(ctx context.Context, q queryer, playlistID int64, trackID string, now time.Time) error {
	if _, err := r.mustGet(ctx, q, playlistID); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		DELETE FROM playlist_tracks
		WHERE playlist_id = ?
		AND track_id = (SELECT id FROM downloaded_tracks WHERE track_id = ?)`,
		playlistID, trackID)
	if err != nil {
		return fmt.Errorf("failed to remove track from playlist: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("track %q in playlist %d: %w", trackID, playlistID, ErrNotFound)
	}
	return r.touch(ctx, q, playlistID, now)
}

// tracks lists the playlist's entries ordered by position.
func (r playlistRepository) tracks(ctx context.Context, q queryer, playlistID int64) ([]models.PlaylistEntry, error) {
	if _, err := r.mustGet(ctx, q, playlistID); err != nil {
		return nil, err
	}
	return r.entries(ctx, q, playlistID, "")
}

func (playlistRepository) entries(ctx context.Context, q queryer, playlistID int64, filter string, args ...any) ([]models.PlaylistEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+qualifiedTrackColumns("t")+`, pt.position, pt.added_at
		FROM playlist_tracks pt
		JOIN downloaded_tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ? `+filter+`
		ORDER BY pt.position ASC`, append([]any{playlistID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlist tracks: %w", err)
	}
	defer rows.Close()

	entries := []models.PlaylistEntry{}
	for rows.Next() {
		var entry models.PlaylistEntry
		track, err := scanTrack(rows, &entry.Position, &entry.AddedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		entry.Track = *track
		entry.AddedAt = entry.AddedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// delete removes the playlist; memberships go with it, tracks stay.
func (playlistRepository) delete(ctx context.Context, q queryer, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("playlist %d: %w", id, ErrNotFound)
	}
	return nil
}

// sync creates or updates the playlist bound to in.ExternalID and replaces its
// membership with trackIDs in order. Duplicate ids keep their first position.
// created reports whether a new playlist row was inserted.
func (r playlistRepository) sync(ctx context.Context, q queryer, in models.PlaylistInput, trackIDs []string, now time.Time) (playlist *models.Playlist, created bool, err error) {
	externalID := nullableExternalID(in.ExternalID)
	if !externalID.Valid {
		return nil, false, invalid("external_id", "is required to sync a playlist")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, false, invalid("name", "is required")
	}

	rowIDs := make([]int64, 0, len(trackIDs))
	seen := make(map[int64]bool, len(trackIDs))
	for _, trackID := range trackIDs {
		rowID, err := resolveTrack(ctx, q, trackID)
		if err != nil {
			return nil, false, err
		}
		if !seen[rowID] {
			seen[rowID] = true
			rowIDs = append(rowIDs, rowID)
		}
	}

	existing, exists, err := r.getByExternalID(ctx, q, externalID.String)
	if err != nil {
		return nil, false, err
	}

	var id int64
	if exists {
		id = existing.ID
		_, err = q.ExecContext(ctx, `
			UPDATE playlists
			SET name = ?, description = ?, is_public = ?, owner = ?, thumbnail_url = ?, updated_at = ?
			WHERE id = ?`,
			in.Name, in.Description, in.IsPublic, in.Owner, in.ThumbnailURL, now, id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update playlist %d: %w", id, err)
		}
	} else {
		p, err := r.create(ctx, q, in, now)
		if err != nil {
			return nil, false, err
		}
		id = p.ID
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE playlist_id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("failed to clear playlist %d: %w", id, err)
	}
	for i, rowID := range rowIDs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO playlist_tracks (playlist_id, track_id, position, added_at)
			VALUES (?, ?, ?, ?)`, id, rowID, i+1, now)
		if err != nil {
			return nil, false, fmt.Errorf("failed to add track to playlist %d: %w", id, err)
		}
	}

	playlist, err = r.mustGet(ctx, q, id)
	if err != nil {
		return nil, false, err
	}
	return playlist, !exists, nil
}
