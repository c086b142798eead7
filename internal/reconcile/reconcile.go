// Package reconcile computes the work a sync run has to do. It compares
// desired state (the remote playlist) against recorded state (the
// manifest) and recorded state against physical state (files on disk or
// on a device). It never mutates anything itself.
package reconcile

import (
	"os"
	"path/filepath"
	"strings"

	"driftsync/internal/textutil"
	"driftsync/pkg/models"
)

// EstimatedTrackSizeMB is the planning figure used for tracks that have
// not been downloaded yet. Real sizes from the manifest always win.
const EstimatedTrackSizeMB = 8.0

// PlaylistDiff partitions a remote playlist against the local manifest.
// Every remote track lands in exactly one of New, Existing or Suspect,
// and every manifest track is either matched by a remote track or listed
// in Removed.
type PlaylistDiff struct {
	New      []models.RemoteTrack
	Existing []models.ManifestTrack
	Suspect  []models.ManifestTrack
	Removed  []models.ManifestTrack
}

// DownloadCount returns how many tracks need fetching (new plus suspect).
func (d *PlaylistDiff) DownloadCount() int {
	return len(d.New) + len(d.Suspect)
}

// EstimatedDownloadMB estimates the transfer volume for the run.
func (d *PlaylistDiff) EstimatedDownloadMB() float64 {
	total := float64(len(d.New)) * EstimatedTrackSizeMB
	for _, t := range d.Suspect {
		if t.FileSizeMB > 0 {
			total += t.FileSizeMB
		} else {
			total += EstimatedTrackSizeMB
		}
	}
	return total
}

// ComparePlaylist matches remote tracks to manifest entries. Identity is
// the track's remote ID when both sides carry one, otherwise the
// normalized artist-title key. A matched manifest entry only counts as
// existing when its file in folder is present and at least minValidSize
// bytes; anything smaller is a truncated download and goes to Suspect.
func ComparePlaylist(remote []models.RemoteTrack, manifest []models.ManifestTrack, folder string, minValidSize int64) PlaylistDiff {
	diff := PlaylistDiff{}

	byID := make(map[string]*models.ManifestTrack, len(manifest))
	byKey := make(map[string]*models.ManifestTrack, len(manifest))
	matched := make(map[*models.ManifestTrack]bool, len(manifest))
	for i := range manifest {
		t := &manifest[i]
		if t.SpotifyID != "" {
			byID[t.SpotifyID] = t
		}
		byKey[textutil.TrackKey(t.Artist, t.Title)] = t
	}

	for _, r := range remote {
		var local *models.ManifestTrack
		if r.SpotifyID != "" {
			local = byID[r.SpotifyID]
		}
		if local == nil {
			local = byKey[textutil.TrackKey(r.Artist, r.Title)]
		}

		if local == nil {
			diff.New = append(diff.New, r)
			continue
		}
		matched[local] = true

		if fileIntact(filepath.Join(folder, local.Filename), minValidSize) {
			diff.Existing = append(diff.Existing, *local)
		} else {
			diff.Suspect = append(diff.Suspect, *local)
		}
	}

	for i := range manifest {
		if !matched[&manifest[i]] {
			diff.Removed = append(diff.Removed, manifest[i])
		}
	}

	return diff
}

func fileIntact(path string, minValidSize int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() >= minValidSize
}

// DeviceDiff partitions library tracks against device contents.
type DeviceDiff struct {
	ToAdd    []models.ManifestTrack
	ToRemove []string
	InSync   []models.ManifestTrack
}

// TransferMB estimates the bytes to copy onto the device.
func (d *DeviceDiff) TransferMB() float64 {
	total := 0.0
	for _, t := range d.ToAdd {
		if t.FileSizeMB > 0 {
			total += t.FileSizeMB
		} else {
			total += EstimatedTrackSizeMB
		}
	}
	return total
}

// CompareDevice matches playlist tracks to device filenames. Devices are
// opaque storage: the filename is the only identity they preserve, so
// matching is by case-insensitive filename.
func CompareDevice(library []models.ManifestTrack, deviceFiles []string) DeviceDiff {
	diff := DeviceDiff{}

	onDevice := make(map[string]string, len(deviceFiles))
	for _, f := range deviceFiles {
		onDevice[strings.ToLower(f)] = f
	}

	wanted := make(map[string]bool, len(library))
	for _, t := range library {
		key := strings.ToLower(t.Filename)
		wanted[key] = true
		if _, ok := onDevice[key]; ok {
			diff.InSync = append(diff.InSync, t)
		} else {
			diff.ToAdd = append(diff.ToAdd, t)
		}
	}

	for _, f := range deviceFiles {
		if !wanted[strings.ToLower(f)] {
			diff.ToRemove = append(diff.ToRemove, f)
		}
	}

	return diff
}

// ListAudioFiles returns the audio filenames directly inside dir,
// ignoring hidden files and subdirectories.
func ListAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".mp3", ".flac", ".wav", ".m4a":
			files = append(files, name)
		}
	}
	return files, nil
}
