package server

import (
	"net/http"
	"strings"

	"riffstore/pkg/models"
)

// handleListPlaylists returns all playlists (with track counts) as JSON.
func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := s.store.ListPlaylists(r.Context())
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	if playlists == nil {
		playlists = []models.Playlist{}
	}
	respondJSON(w, http.StatusOK, playlists)
}

// handleCreatePlaylist handles POST /api/playlists
func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var in models.PlaylistInput
	if verr := decodeBody(r, &in); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	in.Name = sanitizeInput(in.Name)

	playlist, err := s.store.CreatePlaylist(r.Context(), in)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, playlist)
}

// handleGetPlaylist handles GET /api/playlists/{id}
func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, verr := validatePlaylistID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	playlist, ok, err := s.store.GetPlaylist(r.Context(), id)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	if !ok {
		s.respondWithError(w, r, http.StatusNotFound, "Playlist not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, playlist)
}

// handleUpdatePlaylist handles PUT /api/playlists/{id}
func (s *Server) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	id, verr := validatePlaylistID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	var update models.PlaylistUpdate
	if verr := decodeBody(r, &update); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if update.Name != nil {
		name := sanitizeInput(*update.Name)
		update.Name = &name
	}

	playlist, err := s.store.UpdatePlaylist(r.Context(), id, update)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, playlist)
}

// handleDeletePlaylist handles DELETE /api/playlists/{id}
func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	id, verr := validatePlaylistID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := s.store.DeletePlaylist(r.Context(), id); err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePlaylistTracks returns tracks contained in the specified playlist.
func (s *Server) handlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	id, verr := validatePlaylistID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	entries, err := s.store.PlaylistTracks(r.Context(), id)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.PlaylistEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

type addTrackRequest struct {
	TrackID string `json:"trackId"`
}

// handleAddTrackToPlaylist appends a track to a playlist (POST json trackId).
func (s *Server) handleAddTrackToPlaylist(w http.ResponseWriter, r *http.Request) {
	id, verr := validatePlaylistID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	var req addTrackRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if strings.TrimSpace(req.TrackID) == "" {
		s.respondWithValidationError(w, r, []ValidationError{{
			Field:   "trackId",
			Message: "Track ID is required",
			Code:    "MISSING_TRACK_ID",
		}})
		return
	}

	entry, err := s.store.AddTrackToPlaylist(r.Context(), id, req.TrackID)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// handleRemoveTrackFromPlaylist handles DELETE /api/playlists/{id}/tracks/{trackID}
func (s *Server) handleRemoveTrackFromPlaylist(w http.ResponseWriter, r *http.Request) {
	id, verr := validatePlaylistID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	trackID, verr := validateTrackID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := s.store.RemoveTrackFromPlaylist(r.Context(), id, trackID); err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncPlaylistRequest struct {
	models.PlaylistInput
	TrackIDs []string `json:"trackIds"`
}

// handleSyncPlaylist handles PUT /api/playlists/sync, creating or replacing a
// playlist mirrored from the source service.
func (s *Server) handleSyncPlaylist(w http.ResponseWriter, r *http.Request) {
	var req syncPlaylistRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	req.Name = sanitizeInput(req.Name)

	playlist, err := s.store.SyncPlaylist(r.Context(), req.PlaylistInput, req.TrackIDs)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, playlist)
}
