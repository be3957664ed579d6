package library

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"riffstore/internal/metadata"
	"riffstore/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// LocalSource is the download source recorded for files imported from disk.
const LocalSource = "local"

// Store is the part of the download store the library writes to.
type Store interface {
	AddTrack(ctx context.Context, in models.TrackInput) (*models.DownloadedTrack, error)
	MarkDownloadFailed(ctx context.Context, message string) (*models.DownloadFailure, error)
	DeleteTracksByPath(ctx context.Context, filePath string) (int, error)
}

// Importer records media files found on disk as downloaded tracks.
type Importer struct {
	store  Store
	prober *metadata.Prober
	logger *logrus.Logger
}

// NewImporter creates an importer writing to store.
func NewImporter(store Store, prober *metadata.Prober, logger *logrus.Logger) *Importer {
	return &Importer{
		store:  store,
		prober: prober,
		logger: logger,
	}
}

// LocalTrackID derives a stable external id from a content checksum and the
// file's location. Re-importing a file updates its track; identical copies at
// different paths get a track each, so pruning one path leaves the others.
func LocalTrackID(checksum, path string) string {
	if len(checksum) > 16 {
		checksum = checksum[:16]
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	location := blake2b.Sum256([]byte(filepath.Clean(path)))
	return "local:" + checksum + "-" + hex.EncodeToString(location[:4])
}

// IsSupported reports whether the importer handles files like path.
func (im *Importer) IsSupported(path string) bool {
	return im.prober.IsSupported(path)
}

// ImportFile probes path and records it. Probing happens before the store is
// touched; a file that cannot be probed is recorded as a failed download.
func (im *Importer) ImportFile(ctx context.Context, path string) (*models.DownloadedTrack, error) {
	info, err := im.prober.Probe(path)
	if err != nil {
		im.logger.WithError(err).WithField("file_path", path).Error("Error probing media file")
		if _, markErr := im.store.MarkDownloadFailed(ctx, fmt.Sprintf("import %s: %v", path, err)); markErr != nil {
			im.logger.WithError(markErr).Error("Error recording failed import")
		}
		return nil, err
	}

	track, err := im.store.AddTrack(ctx, models.TrackInput{
		TrackID:  LocalTrackID(info.Checksum, info.Path),
		Title:    info.Title,
		Artist:   info.Artist,
		Album:    info.Album,
		Duration: info.Duration,
		Source:   LocalSource,
		FilePath: info.Path,
		FileSize: info.Size,
		Format:   info.Format,
		Checksum: info.Checksum,
		IsVideo:  info.IsVideo,
		Metadata: info.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", path, err)
	}

	im.logger.WithFields(logrus.Fields{
		"artist":   track.Artist,
		"title":    track.Title,
		"album":    track.Album,
		"size":     humanize.Bytes(uint64(track.FileSize)),
		"track_id": track.TrackID,
	}).Info("Imported track")
	return track, nil
}
