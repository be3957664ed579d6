package server

import (
	"net/http"
	"strconv"
	"strings"

	"riffstore/pkg/models"

	"github.com/sirupsen/logrus"
)

const defaultRecentLimit = 20

// handleSearchTracks handles GET /api/tracks
func (s *Server) handleSearchTracks(w http.ResponseWriter, r *http.Request) {
	query, errs := parseTrackQuery(r)
	if len(errs) > 0 {
		s.respondWithValidationError(w, r, errs)
		return
	}

	page, err := s.store.SearchTracks(r.Context(), query)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// handleRecentTracks handles GET /api/tracks/recent
func (s *Server) handleRecentTracks(w http.ResponseWriter, r *http.Request) {
	limit, verr := parseLimit(r, defaultRecentLimit)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	tracks, err := s.store.RecentTracks(r.Context(), limit)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}

// handleAddTrack handles POST /api/tracks. A track that already exists is
// updated in place and answered with 200 instead of 201.
func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	var in models.TrackInput
	if verr := decodeBody(r, &in); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if verr := s.checkLibraryPath(in.FilePath); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	track, created, err := s.store.SaveTrack(r.Context(), in)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, track)
}

// handleGetTrack handles GET /api/tracks/{trackID}
func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	trackID, verr := validateTrackID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	track, ok, err := s.store.GetTrackByID(r.Context(), trackID)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	if !ok {
		s.respondWithError(w, r, http.StatusNotFound, "Track not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, track)
}

// handleDeleteTrack handles DELETE /api/tracks/{trackID}
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	trackID, verr := validateTrackID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := s.store.DeleteTrack(r.Context(), trackID); err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecordPlay handles POST /api/tracks/{trackID}/play
func (s *Server) handleRecordPlay(w http.ResponseWriter, r *http.Request) {
	trackID, verr := validateTrackID(r)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := s.store.RecordPlay(r.Context(), trackID); err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}

	track, _, err := s.store.GetTrackByID(r.Context(), trackID)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, track)
}

// handleGetStatistics handles GET /api/stats
func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStatistics(r.Context())
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleRecentFailures handles GET /api/failures
func (s *Server) handleRecentFailures(w http.ResponseWriter, r *http.Request) {
	limit, verr := parseLimit(r, defaultRecentLimit)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	failures, err := s.store.RecentFailures(r.Context(), limit)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, failures)
}

type failureRequest struct {
	Message string `json:"message"`
}

// handleMarkFailed handles POST /api/failures
func (s *Server) handleMarkFailed(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	failure, err := s.store.MarkDownloadFailed(r.Context(), req.Message)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, failure)
}

type scanRequest struct {
	Path string `json:"path,omitempty"`
}

// handleScanLibrary handles POST /api/library/scan. The body is optional and
// defaults to the configured library path.
func (s *Server) handleScanLibrary(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength != 0 {
		if verr := decodeBody(r, &req); verr != nil {
			s.respondWithValidationError(w, r, []ValidationError{*verr})
			return
		}
	}
	root := strings.TrimSpace(req.Path)
	if root == "" {
		root = s.config.Library.Path
	} else if verr := s.checkLibraryPath(root); verr != nil {
		verr.Field = "path"
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	result, err := s.importer.Scan(r.Context(), root, s.config.Library.ScanWorkers)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Library scan failed", err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"root":     root,
		"imported": result.Imported,
		"failed":   result.Failed,
	}).Info("Library scan finished")
	respondJSON(w, http.StatusOK, result)
}

func parseLimit(r *http.Request, fallback int) (int, *ValidationError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, &ValidationError{
			Field:   "limit",
			Message: "limit must be a positive number",
			Code:    "INVALID_NUMBER",
		}
	}
	return limit, nil
}
