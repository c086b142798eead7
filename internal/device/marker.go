package device

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile is written to a device's root after a successful load.
const MarkerFile = ".driftsync_device.json"

const markerVersion = "1.0"

// MarkerTrack is one entry in the marker's track listing.
type MarkerTrack struct {
	Filename  string `json:"filename"`
	Hash      string `json:"hash,omitempty"`
	SizeBytes int64  `json:"size"`
}

// Marker records which playlist a device carries and the tracks that load
// put on it. A device without a readable marker is treated as never synced.
type Marker struct {
	Version        string        `json:"version"`
	PlaylistID     string        `json:"playlist_id"`
	PlaylistName   string        `json:"playlist_name"`
	DeviceName     string        `json:"device_name,omitempty"`
	LoadedAt       string        `json:"loaded_at"`
	TrackCount     int           `json:"track_count"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	Tracks         []MarkerTrack `json:"tracks,omitempty"`
}

// ReadMarker loads the marker from a device mount point. A missing file
// returns (nil, nil); an unparseable file is treated the same way, since
// a corrupt marker carries no trustworthy state.
func ReadMarker(mountPoint string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(mountPoint, MarkerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil
	}
	if m.PlaylistID == "" {
		return nil, nil
	}
	return &m, nil
}

// WriteMarker stamps a device with the playlist it now carries. Version,
// timestamp and the derived counts are filled in here. The write is atomic
// so an unplug mid-write leaves either the old marker or the new one, never
// a torn file.
func WriteMarker(mountPoint string, m Marker) error {
	m.Version = markerVersion
	m.LoadedAt = time.Now().Format(time.RFC3339)
	m.TrackCount = len(m.Tracks)
	m.TotalSizeBytes = 0
	for _, t := range m.Tracks {
		m.TotalSizeBytes += t.SizeBytes
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(mountPoint, MarkerFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RemoveMarker clears the marker, e.g. after the device was wiped.
func RemoveMarker(mountPoint string) error {
	err := os.Remove(filepath.Join(mountPoint, MarkerFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
