package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS downloaded_tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		track_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		album TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL DEFAULT 0,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		download_source TEXT NOT NULL DEFAULT '',
		source_uri TEXT NOT NULL DEFAULT '',
		lookup_id TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0 CHECK (file_size >= 0),
		media_format TEXT NOT NULL DEFAULT '',
		media_quality TEXT NOT NULL DEFAULT '',
		lyrics_file TEXT NOT NULL DEFAULT '',
		subtitle_file TEXT NOT NULL DEFAULT '',
		is_video BOOLEAN NOT NULL DEFAULT FALSE,
		download_date DATETIME NOT NULL,
		last_played DATETIME,
		play_count INTEGER NOT NULL DEFAULT 0 CHECK (play_count >= 0),
		additional_metadata TEXT NOT NULL DEFAULT '{}'
	);`,

	`CREATE TABLE IF NOT EXISTS playlists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		spotify_id TEXT UNIQUE,
		is_public BOOLEAN NOT NULL DEFAULT TRUE,
		owner TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS playlist_tracks (
		playlist_id INTEGER NOT NULL,
		track_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		added_at DATETIME NOT NULL,
		FOREIGN KEY (playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
		FOREIGN KEY (track_id) REFERENCES downloaded_tracks(id) ON DELETE CASCADE,
		PRIMARY KEY (playlist_id, track_id)
	);`,

	// Singleton aggregate; the CHECK keeps it to one row.
	`CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_downloads INTEGER NOT NULL DEFAULT 0,
		total_video_downloads INTEGER NOT NULL DEFAULT 0,
		total_audio_downloads INTEGER NOT NULL DEFAULT 0,
		total_playlists INTEGER NOT NULL DEFAULT 0,
		total_file_size INTEGER NOT NULL DEFAULT 0,
		failed_downloads INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_error_date DATETIME,
		last_download_date DATETIME
	);`,

	`CREATE TABLE IF NOT EXISTS download_source_counts (
		source TEXT PRIMARY KEY,
		downloads INTEGER NOT NULL DEFAULT 0 CHECK (downloads >= 0)
	);`,

	`CREATE TABLE IF NOT EXISTS download_failures (
		id TEXT PRIMARY KEY,
		message TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	);`,
}

var schemaIndices = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_downloaded_tracks_track_id ON downloaded_tracks(track_id);",
	"CREATE INDEX IF NOT EXISTS idx_downloaded_tracks_artist ON downloaded_tracks(artist);",
	"CREATE INDEX IF NOT EXISTS idx_downloaded_tracks_is_video ON downloaded_tracks(is_video);",
	"CREATE INDEX IF NOT EXISTS idx_downloaded_tracks_download_date ON downloaded_tracks(download_date);",
	"CREATE INDEX IF NOT EXISTS idx_downloaded_tracks_file_path ON downloaded_tracks(file_path);",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_playlists_spotify_id ON playlists(spotify_id);", // NULLs never collide
	"CREATE INDEX IF NOT EXISTS idx_playlist_tracks_position ON playlist_tracks(playlist_id, position);",
	"CREATE INDEX IF NOT EXISTS idx_playlist_tracks_track ON playlist_tracks(track_id);",
	"CREATE INDEX IF NOT EXISTS idx_download_failures_occurred ON download_failures(occurred_at);",
}

// columnMigration adds a column to stores created before it existed.
type columnMigration struct {
	table  string
	column string
	ddl    string
}

var columnMigrations = []columnMigration{
	{table: "downloaded_tracks", column: "checksum", ddl: "ALTER TABLE downloaded_tracks ADD COLUMN checksum TEXT NOT NULL DEFAULT ''"},
	{table: "playlists", column: "thumbnail_url", ddl: "ALTER TABLE playlists ADD COLUMN thumbnail_url TEXT NOT NULL DEFAULT ''"},
}

// expectedColumns lists every column the current code reads or writes.
var expectedColumns = map[string][]string{
	"downloaded_tracks": {
		"id", "track_id", "title", "artist", "album", "duration", "thumbnail_url",
		"download_source", "source_uri", "lookup_id", "file_path", "file_size",
		"media_format", "media_quality", "lyrics_file", "subtitle_file", "checksum",
		"is_video", "download_date", "last_played", "play_count", "additional_metadata",
	},
	"playlists": {
		"id", "name", "description", "spotify_id", "is_public", "owner",
		"thumbnail_url", "created_at", "updated_at",
	},
	"playlist_tracks": {"playlist_id", "track_id", "position", "added_at"},
	"download_history": {
		"id", "total_downloads", "total_video_downloads", "total_audio_downloads",
		"total_playlists", "total_file_size", "failed_downloads", "last_error",
		"last_error_date", "last_download_date",
	},
	"download_source_counts": {"source", "downloads"},
	"download_failures":      {"id", "message", "occurred_at"},
}

// initSchema creates tables and indices if they do not already exist, runs the
// column migrations and seeds the history row. It is idempotent and safe to
// call on an initialized store.
func initSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range schemaTables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		return err
	}

	for _, index := range schemaIndices {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO download_history (id) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to seed download history: %w", err)
	}
	return nil
}

// runMigrations performs incremental schema updates in-place. Each migration
// is guarded by a column-presence check so re-running is a no-op.
func runMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range columnMigrations {
		exists, err := columnExists(ctx, db, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name = ?`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	return exists, nil
}

// missingColumns returns "table.column" for every expected column that is
// absent, sorted by table then declaration order.
func missingColumns(ctx context.Context, db *sql.DB) ([]string, error) {
	tables := make([]string, 0, len(expectedColumns))
	for table := range expectedColumns {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	var missing []string
	for _, table := range tables {
		rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		present := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, err
			}
			present[strings.ToLower(name)] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}

		for _, column := range expectedColumns[table] {
			if !present[column] {
				missing = append(missing, table+"."+column)
			}
		}
	}
	return missing, nil
}
