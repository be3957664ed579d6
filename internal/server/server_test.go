package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffstore/internal/config"
	"riffstore/internal/database"
	"riffstore/internal/logging"
	"riffstore/pkg/models"
)

type testEnv struct {
	server *Server
	store  *database.Manager
	http   *httptest.Server
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "store.db")
	cfg.Library.Path = dir

	logger := logging.Discard()
	store, err := database.Open(context.Background(), cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := New(cfg, store, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, store: store, http: ts, dir: dir}
}

func (e *testEnv) addTrack(t *testing.T, trackID, title, artist string) *models.DownloadedTrack {
	t.Helper()
	path := filepath.Join(e.dir, trackID+".mp3")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 2048)), 0644))

	track, err := e.store.AddTrack(context.Background(), models.TrackInput{
		TrackID:  trackID,
		Title:    title,
		Artist:   artist,
		FilePath: path,
		Source:   "youtube",
	})
	require.NoError(t, err)
	return track
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil || method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "t1", "Song", "Artist")

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	health := decode[HealthStatus](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Database)
	assert.Equal(t, int64(1), health.Tracks)
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/api/stats", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestTrackLifecycle(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "hey-jude.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0644))

	in := models.TrackInput{
		TrackID:  "spotify:hey-jude",
		Title:    "Hey Jude",
		Artist:   "The Beatles",
		FilePath: path,
		Source:   "Spotify",
	}

	resp := env.do(t, http.MethodPost, "/api/tracks", in)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.DownloadedTrack](t, resp)
	assert.Equal(t, "Hey Jude", created.Title)
	assert.Equal(t, int64(5), created.FileSize)

	in.Title = "Hey Jude (Remastered)"
	resp = env.do(t, http.MethodPost, "/api/tracks", in)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.DownloadedTrack](t, resp)
	assert.Equal(t, created.ID, updated.ID)

	resp = env.do(t, http.MethodGet, "/api/tracks/spotify:hey-jude", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := decode[models.DownloadedTrack](t, resp)
	assert.Equal(t, "Hey Jude (Remastered)", fetched.Title)
	assert.Empty(t, fetched.FilePath)

	resp = env.do(t, http.MethodPost, "/api/tracks/spotify:hey-jude/play", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	played := decode[models.DownloadedTrack](t, resp)
	assert.Equal(t, int64(1), played.PlayCount)
	assert.NotNil(t, played.LastPlayed)

	resp = env.do(t, http.MethodDelete, "/api/tracks/spotify:hey-jude", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tracks/spotify:hey-jude", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddTrackValidation(t *testing.T) {
	env := newTestEnv(t)
	outside := filepath.Join(t.TempDir(), "secret.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("audio"), 0644))

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantField  string
	}{
		{
			name:       "missing title",
			body:       models.TrackInput{TrackID: "x", Artist: "A", FilePath: filepath.Join(env.dir, "x.mp3")},
			wantStatus: http.StatusBadRequest,
			wantField:  "title",
		},
		{
			name:       "file outside library",
			body:       models.TrackInput{TrackID: "x", Title: "T", Artist: "A", FilePath: outside},
			wantStatus: http.StatusBadRequest,
			wantField:  "file_path",
		},
		{
			name:       "relative escape",
			body:       models.TrackInput{TrackID: "x", Title: "T", Artist: "A", FilePath: filepath.Join(env.dir, "..", filepath.Base(filepath.Dir(outside)), "secret.mp3")},
			wantStatus: http.StatusBadRequest,
			wantField:  "file_path",
		},
		{
			name:       "unknown field",
			body:       map[string]string{"trackId": "x", "bogus": "y"},
			wantStatus: http.StatusBadRequest,
			wantField:  "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/tracks", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			result := decode[ValidationResult](t, resp)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.wantField, result.Errors[0].Field)
		})
	}
}

func TestSearchTracks(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "a", "Yesterday", "The Beatles")
	env.addTrack(t, "b", "Let It Be", "The Beatles")
	env.addTrack(t, "c", "Paranoid Android", "Radiohead")

	resp := env.do(t, http.MethodGet, "/api/tracks?artist=the+beatles&sort_by=title&sort_dir=asc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[models.TrackPage](t, resp)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Tracks, 2)
	assert.Equal(t, "Let It Be", page.Tracks[0].Title)

	resp = env.do(t, http.MethodGet, "/api/tracks?q=android&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[models.TrackPage](t, resp)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Limit)

	tests := []struct {
		name  string
		query string
		field string
	}{
		{"non numeric limit", "limit=ten", "limit"},
		{"bad boolean", "is_video=maybe", "is_video"},
		{"unknown sort column", "sort_by=checksum", "sort_by"},
		{"negative limit", "limit=-1", "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/tracks?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			result := decode[ValidationResult](t, resp)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.field, result.Errors[0].Field)
		})
	}
}

func TestStatisticsAndFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "a", "Song", "Artist")

	resp := env.do(t, http.MethodPost, "/api/failures", failureRequest{Message: "network timeout"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[models.Statistics](t, resp)
	assert.Equal(t, int64(1), stats.TotalDownloads)
	assert.Equal(t, int64(1), stats.FailedDownloads)
	assert.Equal(t, "network timeout", stats.LastError)
	assert.Equal(t, int64(1), stats.DownloadsBySource["youtube"])

	resp = env.do(t, http.MethodGet, "/api/failures?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failures := decode[[]models.DownloadFailure](t, resp)
	require.Len(t, failures, 1)
	assert.Equal(t, "network timeout", failures[0].Message)

	resp = env.do(t, http.MethodGet, "/api/failures?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlaylistEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "a", "One", "Artist")
	env.addTrack(t, "b", "Two", "Artist")

	resp := env.do(t, http.MethodPost, "/api/playlists", models.PlaylistInput{Name: "Road Trip"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	playlist := decode[models.Playlist](t, resp)
	base := fmt.Sprintf("/api/playlists/%d", playlist.ID)

	resp = env.do(t, http.MethodPost, base+"/tracks", addTrackRequest{TrackID: "a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[models.PlaylistEntry](t, resp)
	assert.Equal(t, 1, entry.Position)

	resp = env.do(t, http.MethodPost, base+"/tracks", addTrackRequest{TrackID: "b"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, base+"/tracks", addTrackRequest{TrackID: "missing"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodGet, base+"/tracks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]models.PlaylistEntry](t, resp)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Track.TrackID)
	assert.Equal(t, "b", entries[1].Track.TrackID)

	name := "Long Road Trip"
	resp = env.do(t, http.MethodPut, base, models.PlaylistUpdate{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, name, decode[models.Playlist](t, resp).Name)

	resp = env.do(t, http.MethodDelete, base+"/tracks/a", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[models.Playlist](t, resp).TrackCount)

	resp = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaylistIDValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		code string
	}{
		{"non numeric", "/api/playlists/abc", "INVALID_PLAYLIST_ID"},
		{"negative", "/api/playlists/-1", "INVALID_PLAYLIST_ID"},
		{"zero", "/api/playlists/0", "INVALID_PLAYLIST_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			result := decode[ValidationResult](t, resp)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tt.code, result.Errors[0].Code)
		})
	}
}

func TestSyncPlaylist(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "a", "One", "Artist")
	env.addTrack(t, "b", "Two", "Artist")

	req := syncPlaylistRequest{
		PlaylistInput: models.PlaylistInput{ExternalID: "sp:list", Name: "Mirror"},
		TrackIDs:      []string{"b", "a", "b"},
	}
	resp := env.do(t, http.MethodPut, "/api/playlists/sync", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	playlist := decode[models.Playlist](t, resp)
	assert.Equal(t, 2, playlist.TrackCount)

	req.TrackIDs = []string{"a"}
	resp = env.do(t, http.MethodPut, "/api/playlists/sync", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resynced := decode[models.Playlist](t, resp)
	assert.Equal(t, playlist.ID, resynced.ID)
	assert.Equal(t, 1, resynced.TrackCount)

	req.ExternalID = ""
	resp = env.do(t, http.MethodPut, "/api/playlists/sync", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamTrack(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "a", "One", "Artist")

	resp := env.do(t, http.MethodGet, "/stream/a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 2048)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/stream/a", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=100-199")
	ranged, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ranged.Body.Close()
	assert.Equal(t, http.StatusPartialContent, ranged.StatusCode)

	// only the request from the first byte counts as a play
	track, ok, err := env.store.GetTrackByID(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), track.PlayCount)

	resp = env.do(t, http.MethodGet, "/stream/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanLibraryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/library/scan", scanRequest{Path: filepath.Join(env.dir, "missing")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/library/scan", scanRequest{Path: t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/library/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{database.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", database.ErrConflict), http.StatusConflict},
		{database.ErrValidation, http.StatusBadRequest},
		{database.ErrIntegrityViolation, http.StatusUnprocessableEntity},
		{database.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestCrossOriginWritesAreNotPreflighted(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodOptions, "/api/tracks", nil)
	assert.NotEqual(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Headers"))

	resp = env.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWritesRequireJSON(t *testing.T) {
	env := newTestEnv(t)
	env.addTrack(t, "a", "One", "Artist")

	for _, contentType := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/tracks/a/play", strings.NewReader("{}"))
		require.NoError(t, err)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode, contentType)
	}

	track, _, err := env.store.GetTrackByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Zero(t, track.PlayCount)

	resp := env.do(t, http.MethodPost, "/api/tracks/a/play", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamRefusesFilesOutsideLibrary(t *testing.T) {
	env := newTestEnv(t)

	outside := filepath.Join(t.TempDir(), "passwd.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	_, err := env.store.AddTrack(context.Background(), models.TrackInput{
		TrackID:  "leak",
		Title:    "Leak",
		Artist:   "Nobody",
		FilePath: outside,
		Source:   "youtube",
	})
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/stream/leak", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWithinLibrary(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "albums"), 0755))

	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(other, link))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "root itself", path: root, want: true},
		{name: "nested file", path: filepath.Join(root, "albums", "a.mp3"), want: true},
		{name: "not yet created", path: filepath.Join(root, "new.mp3"), want: true},
		{name: "sibling directory", path: filepath.Join(other, "a.mp3"), want: false},
		{name: "dot dot", path: filepath.Join(root, "albums", "..", "..", "a.mp3"), want: false},
		{name: "symlink out", path: filepath.Join(link, "a.mp3"), want: false},
		{name: "prefix lookalike", path: root + "-evil/a.mp3", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withinLibrary(root, tt.path))
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "Road Trip", sanitizeInput("  Road\x00 Trip\n "))
	assert.Equal(t, "", sanitizeInput("\t\n"))
}
