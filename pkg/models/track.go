package models

// RemoteTrack is a track as reported by the playlist metadata fetcher.
type RemoteTrack struct {
	SpotifyID string `json:"spotify_id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	URL       string `json:"url"`
	Duration  int    `json:"duration"` // in seconds, 0 when unknown
}

// ManifestTrack is one entry in a playlist manifest. The JSON layout matches
// the manifest documents already on disk in existing libraries, so renaming
// fields here breaks interop.
type ManifestTrack struct {
	SpotifyID    string  `json:"spotify_id"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	Album        string  `json:"album"`
	Filename     string  `json:"filename"`
	StorageHash  string  `json:"storage_hash"`
	FileSizeMB   float64 `json:"file_size_mb"`
	Status       string  `json:"status"`
	DownloadedAt string  `json:"downloaded_at,omitempty"`
}

// StoredTrack is the index record for one deduplicated object in the content
// store. ReferenceCount must always equal len(ReferencedBy).
type StoredTrack struct {
	Hash           string   `json:"hash"`
	Filename       string   `json:"filename"`
	OriginalName   string   `json:"original_name"`
	SizeBytes      int64    `json:"size_bytes"`
	Artist         string   `json:"artist"`
	Title          string   `json:"title"`
	Album          string   `json:"album"`
	SpotifyID      string   `json:"spotify_id"`
	DurationMS     int64    `json:"duration_ms,omitempty"`
	DownloadedAt   string   `json:"downloaded_at"`
	ReferenceCount int      `json:"reference_count"`
	ReferencedBy   []string `json:"referenced_by"`
}
