package models

import "time"

// Statistics is a read-only snapshot of the download history aggregate.
type Statistics struct {
	TotalDownloads      int64            `json:"totalDownloads"`
	TotalVideoDownloads int64            `json:"totalVideoDownloads"`
	TotalAudioDownloads int64            `json:"totalAudioDownloads"`
	TotalPlaylists      int64            `json:"totalPlaylists"`
	TotalFileSize       int64            `json:"totalFileSize"`
	AverageFileSize     float64          `json:"averageFileSize"`
	DownloadsBySource   map[string]int64 `json:"downloadsBySource"`
	FailedDownloads     int64            `json:"failedDownloads"`
	LastError           string           `json:"lastError,omitempty"`
	LastErrorDate       *time.Time       `json:"lastErrorDate,omitempty"`
	LastDownloadDate    *time.Time       `json:"lastDownloadDate,omitempty"`
	UniqueArtists       int64            `json:"uniqueArtists"`
	UniqueAlbums        int64            `json:"uniqueAlbums"`
}

// DownloadFailure is one entry of the failed-download ledger.
type DownloadFailure struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}
