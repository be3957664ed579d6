package server

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"riffstore/internal/metadata"

	"github.com/sirupsen/logrus"
)

// handleStreamTrack serves the file behind a track with range support. A
// request that starts from the first byte counts as one play.
func (s *Server) handleStreamTrack(w http.ResponseWriter, r *http.Request) {
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

	if !withinLibrary(s.config.Library.Path, track.FilePath) {
		s.respondWithError(w, r, http.StatusForbidden, "Track file is outside the library", nil)
		return
	}

	file, err := os.Open(track.FilePath)
	if err != nil {
		s.respondWithError(w, r, http.StatusNotFound, "Track file not found", err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Error reading file info", err)
		return
	}

	if startsAtBeginning(r.Header.Get("Range")) {
		if err := s.store.RecordPlay(r.Context(), trackID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestID(r),
				"track_id":   trackID,
			}).WithError(err).Warn("Failed to record play")
		}
	}

	// Set caching headers
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", fmt.Sprintf(`"%d-%d"`, stat.ModTime().Unix(), stat.Size()))
	w.Header().Set("Content-Type", metadata.ContentType(track.FilePath))

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
}

func startsAtBeginning(rangeHeader string) bool {
	if rangeHeader == "" {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(rangeHeader), "bytes=0-")
}
