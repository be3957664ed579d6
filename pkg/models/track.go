package models

import "time"

// DownloadedTrack represents one downloaded audio or video item in the library.
type DownloadedTrack struct {
	ID           int64      `json:"id"`
	TrackID      string     `json:"trackId"` // external id, stable across re-downloads
	Title        string     `json:"title"`
	Artist       string     `json:"artist"`
	Album        string     `json:"album,omitempty"`
	Duration     int        `json:"duration"` // in seconds
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	Source       string     `json:"source,omitempty"`
	SourceURI    string     `json:"sourceUri,omitempty"`
	LookupID     string     `json:"lookupId,omitempty"` // resolved id on the download platform
	FilePath     string     `json:"-"`                  // don't expose file path to client
	FileSize     int64      `json:"fileSize"`
	Format       string     `json:"format,omitempty"`
	Quality      string     `json:"quality,omitempty"`
	LyricsFile   string     `json:"-"`
	SubtitleFile string     `json:"-"`
	Checksum     string     `json:"checksum,omitempty"`
	IsVideo      bool       `json:"isVideo"`
	DownloadDate time.Time  `json:"downloadDate"`
	LastPlayed   *time.Time `json:"lastPlayed,omitempty"`
	PlayCount    int64      `json:"playCount"`
	Metadata     Metadata   `json:"metadata,omitempty"`
}

// TrackInput carries everything the download pipeline knows about a finished
// download. Only TrackID, Title, Artist and FilePath are required.
type TrackInput struct {
	TrackID      string   `json:"trackId"`
	Title        string   `json:"title"`
	Artist       string   `json:"artist"`
	Album        string   `json:"album,omitempty"`
	Duration     int      `json:"duration,omitempty"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	Source       string   `json:"source,omitempty"`
	SourceURI    string   `json:"sourceUri,omitempty"`
	LookupID     string   `json:"lookupId,omitempty"`
	FilePath     string   `json:"filePath"`
	FileSize     int64    `json:"fileSize,omitempty"` // filled from the file when zero
	Format       string   `json:"format,omitempty"`
	Quality      string   `json:"quality,omitempty"`
	LyricsFile   string   `json:"lyricsFile,omitempty"`
	SubtitleFile string   `json:"subtitleFile,omitempty"`
	Checksum     string   `json:"checksum,omitempty"`
	IsVideo      bool     `json:"isVideo"`
	Metadata     Metadata `json:"metadata,omitempty"`
}

// TrackQuery describes a filtered, sorted and paginated track search. Zero
// values mean "not applied".
type TrackQuery struct {
	Query   string `json:"query,omitempty"` // substring over title, artist, album
	Artist  string `json:"artist,omitempty"`
	Album   string `json:"album,omitempty"`
	IsVideo *bool  `json:"isVideo,omitempty"`
	Source  string `json:"source,omitempty"`
	SortBy  string `json:"sortBy,omitempty"`
	SortDir string `json:"sortDir,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// TrackPage is one page of search results plus the total match count.
type TrackPage struct {
	Tracks []DownloadedTrack `json:"tracks"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}
