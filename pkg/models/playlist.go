package models

// Playlist is one entry in the library registry.
type Playlist struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	SpotifyURL   string  `json:"spotify_url"`
	FolderName   string  `json:"folder_name"`
	TrackCount   int     `json:"track_count"`
	TotalSizeMB  float64 `json:"total_size_mb"`
	UniqueSizeMB float64 `json:"unique_size_mb"`
	LastSync     string  `json:"last_sync,omitempty"`
	CreatedAt    string  `json:"created_at"`
	Color        string  `json:"color"`
}

// Manifest is the per-playlist document listing every track the playlist
// should materialize as a link in its folder.
type Manifest struct {
	Version      string          `json:"version"`
	PlaylistID   string          `json:"playlist_id"`
	PlaylistURL  string          `json:"playlist_url"`
	PlaylistName string          `json:"playlist_name"`
	LastSync     string          `json:"last_sync,omitempty"`
	Tracks       []ManifestTrack `json:"tracks"`
}

// StorageStats summarizes deduplication effectiveness for the whole store.
type StorageStats struct {
	UniqueTracks    int     `json:"unique_tracks"`
	TotalReferences int     `json:"total_references"`
	ActualBytes     int64   `json:"actual_storage_bytes"`
	LogicalBytes    int64   `json:"logical_size_bytes"`
	SavingsBytes    int64   `json:"savings_bytes"`
	SavingsPercent  float64 `json:"savings_percent"`
}
