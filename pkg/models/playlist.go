package models

import "time"

// Playlist represents a named collection of tracks, optionally bound to a
// playlist on the source service.
type Playlist struct {
	ID           int64     `json:"id"`
	ExternalID   string    `json:"externalId,omitempty"` // empty for user-created playlists
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	IsPublic     bool      `json:"isPublic"`
	Owner        string    `json:"owner,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	TrackCount   int       `json:"trackCount"`
}

// PlaylistInput is used to create or sync a playlist.
type PlaylistInput struct {
	ExternalID   string `json:"externalId,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsPublic     bool   `json:"isPublic"`
	Owner        string `json:"owner,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// PlaylistUpdate holds a partial playlist update; nil fields are left as is.
type PlaylistUpdate struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsPublic     *bool   `json:"isPublic,omitempty"`
	Owner        *string `json:"owner,omitempty"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
}

// PlaylistEntry represents the relationship between playlists and tracks
type PlaylistEntry struct {
	Position int             `json:"position"`
	AddedAt  time.Time       `json:"addedAt"`
	Track    DownloadedTrack `json:"track"`
}
