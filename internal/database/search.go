package database

import (
	"context"
	"fmt"
	"strings"

	"riffstore/pkg/models"
)

// sortColumns maps accepted sort_by values to their column.
var sortColumns = map[string]string{
	"download_date": "download_date",
	"title":         "fold(title)",
	"artist":        "fold(artist)",
	"album":         "fold(COALESCE(album, ''))",
	"play_count":    "play_count",
	"last_played":   "last_played",
	"file_size":     "file_size",
	"duration":      "duration",
}

// pageLimits bounds the page size a search may request.
type pageLimits struct {
	defaultSize int
	maxSize     int
}

// normalizeQuery validates q and fills in defaults. The returned query is the
// one the page is computed from.
func normalizeQuery(q models.TrackQuery, limits pageLimits) (models.TrackQuery, error) {
	if q.Limit < 0 {
		return q, invalid("limit", "must not be negative")
	}
	if q.Offset < 0 {
		return q, invalid("offset", "must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = limits.defaultSize
	}
	if q.Limit > limits.maxSize {
		q.Limit = limits.maxSize
	}

	q.SortBy = strings.ToLower(strings.TrimSpace(q.SortBy))
	if q.SortBy == "" {
		q.SortBy = "download_date"
	}
	if _, ok := sortColumns[q.SortBy]; !ok {
		return q, invalid("sort_by", fmt.Sprintf("unknown sort column %q", q.SortBy))
	}

	q.SortDir = strings.ToLower(strings.TrimSpace(q.SortDir))
	switch q.SortDir {
	case "":
		q.SortDir = "desc"
	case "asc", "desc":
	default:
		return q, invalid("sort_dir", fmt.Sprintf("must be asc or desc, got %q", q.SortDir))
	}
	return q, nil
}

// escapeLike escapes the LIKE wildcards in s so it matches literally under
// ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// whereClause builds the predicate shared by the page and count queries. Each
// filter that is set adds one AND condition.
func whereClause(q models.TrackQuery) (string, []any) {
	var conditions []string
	var args []any

	if query := strings.TrimSpace(q.Query); query != "" {
		pattern := "%" + escapeLike(foldCase(query)) + "%"
		conditions = append(conditions,
			`(fold(title) LIKE ? ESCAPE '\' OR fold(artist) LIKE ? ESCAPE '\' OR fold(COALESCE(album, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if q.Artist != "" {
		conditions = append(conditions, "fold(artist) = ?")
		args = append(args, foldCase(q.Artist))
	}
	if q.Album != "" {
		conditions = append(conditions, "fold(COALESCE(album, '')) = ?")
		args = append(args, foldCase(q.Album))
	}
	if q.IsVideo != nil {
		conditions = append(conditions, "is_video = ?")
		args = append(args, *q.IsVideo)
	}
	if q.Source != "" {
		conditions = append(conditions, "fold(COALESCE(download_source, '')) = ?")
		args = append(args, foldCase(q.Source))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// search returns one page of matching tracks plus the total number of
// matches. Both come from the same predicate inside the caller's transaction.
func (trackRepository) search(ctx context.Context, q queryer, query models.TrackQuery) (*models.TrackPage, error) {
	where, args := whereClause(query)

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloaded_tracks`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tracks: %w", err)
	}

	order := fmt.Sprintf(" ORDER BY %s %s, id %s", sortColumns[query.SortBy], query.SortDir, query.SortDir)
	pageArgs := append(append([]any{}, args...), query.Limit, query.Offset)

	rows, err := q.QueryContext(ctx, `SELECT `+trackColumns+` FROM downloaded_tracks`+where+order+` LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to search tracks: %w", err)
	}
	tracks, err := collectTracks(rows)
	if err != nil {
		return nil, err
	}

	return &models.TrackPage{
		Tracks: tracks,
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	}, nil
}
