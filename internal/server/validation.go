package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"riffstore/internal/database"
	"riffstore/pkg/models"

	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondWithValidationError sends a structured validation error response
func (s *Server) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID(r),
		"method":     r.Method,
		"path":       r.URL.Path,
		"errors":     errs,
	}).Warn("Validation failed")

	respondJSON(w, http.StatusBadRequest, ValidationResult{
		Valid:  false,
		Errors: errs,
	})
}

// respondWithError sends a structured error response
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"request_id":  requestID(r),
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	respondJSON(w, statusCode, map[string]any{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// statusFor maps store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, database.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrIntegrityViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithStoreError translates a store error into a response. Field
// validation failures keep the structured validation body.
func (s *Server) respondWithStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *database.ValidationError
	if errors.As(err, &verr) {
		s.respondWithValidationError(w, r, []ValidationError{{
			Field:   verr.Field,
			Message: verr.Message,
			Code:    "INVALID_VALUE",
		}})
		return
	}

	status := statusFor(err)
	message := http.StatusText(status)
	if status < 500 {
		message = err.Error()
	}
	s.respondWithError(w, r, status, message, err)
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) *ValidationError {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("Invalid JSON body: %v", err),
			Code:    "INVALID_JSON",
		}
	}
	return nil
}

// validatePlaylistID parses the {id} path value
func validatePlaylistID(r *http.Request) (int64, *ValidationError) {
	raw := r.PathValue("id")
	if raw == "" {
		return 0, &ValidationError{
			Field:   "playlist_id",
			Message: "Playlist ID is required",
			Code:    "MISSING_PLAYLIST_ID",
		}
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ValidationError{
			Field:   "playlist_id",
			Message: "Playlist ID must be a valid number",
			Code:    "INVALID_PLAYLIST_ID",
		}
	}

	if id <= 0 {
		return 0, &ValidationError{
			Field:   "playlist_id",
			Message: "Playlist ID must be positive",
			Code:    "INVALID_PLAYLIST_ID",
		}
	}

	return id, nil
}

// validateTrackID reads the {trackID} path value
func validateTrackID(r *http.Request) (string, *ValidationError) {
	trackID := strings.TrimSpace(r.PathValue("trackID"))
	if trackID == "" {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID is required",
			Code:    "MISSING_TRACK_ID",
		}
	}
	return trackID, nil
}

// parseTrackQuery builds a search from query parameters. Range and whitelist
// checks happen in the store.
func parseTrackQuery(r *http.Request) (models.TrackQuery, []ValidationError) {
	values := r.URL.Query()
	q := models.TrackQuery{
		Query:   sanitizeInput(values.Get("q")),
		Artist:  sanitizeInput(values.Get("artist")),
		Album:   sanitizeInput(values.Get("album")),
		Source:  sanitizeInput(values.Get("source")),
		SortBy:  values.Get("sort_by"),
		SortDir: values.Get("sort_dir"),
	}

	var errs []ValidationError
	parseInt := func(field string, dst *int) {
		raw := values.Get(field)
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s must be a valid number", field),
				Code:    "INVALID_NUMBER",
			})
			return
		}
		*dst = n
	}
	parseInt("limit", &q.Limit)
	parseInt("offset", &q.Offset)

	if raw := values.Get("is_video"); raw != "" {
		isVideo, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "is_video",
				Message: "is_video must be true or false",
				Code:    "INVALID_BOOLEAN",
			})
		} else {
			q.IsVideo = &isVideo
		}
	}

	return q, errs
}

// sanitizeInput trims whitespace and strips control characters
func sanitizeInput(input string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
}
