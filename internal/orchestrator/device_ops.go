package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"driftsync/internal/device"
	"driftsync/internal/library"
	"driftsync/internal/reconcile"
	"driftsync/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrInsufficientSpace is returned when a device cannot hold the playlist
// even after the files to be removed are reclaimed.
var ErrInsufficientSpace = errors.New("not enough free space on device")

// DeviceReport summarizes a device operation.
type DeviceReport struct {
	PlaylistID string   `json:"playlist_id"`
	Added      int      `json:"added"`
	Removed    int      `json:"removed"`
	InSync     int      `json:"in_sync"`
	Failed     []string `json:"failed,omitempty"`
	Cancelled  bool     `json:"cancelled,omitempty"`
}

// LoadPlaylist brings the device's contents in line with a playlist:
// files not in the playlist go, missing tracks are copied on. The marker
// is written last, after the payload it describes is actually on the
// device.
func (o *Orchestrator) LoadPlaylist(ctx context.Context, dev *device.Device, playlistID string) (DeviceReport, error) {
	report := DeviceReport{PlaylistID: playlistID}
	log := o.logger.WithFields(logrus.Fields{"mount": dev.MountPoint, "playlist": playlistID})

	playlist, err := o.lib.Playlist(playlistID)
	if err != nil {
		return report, err
	}
	tracks, err := o.lib.Tracks(playlistID)
	if err != nil {
		return report, err
	}

	deviceFiles, err := reconcile.ListAudioFiles(dev.MountPoint)
	if err != nil {
		return report, fmt.Errorf("failed to read device: %w", err)
	}
	diff := reconcile.CompareDevice(tracks, deviceFiles)
	report.InSync = len(diff.InSync)

	if err := o.checkDeviceCapacity(dev, diff); err != nil {
		return report, err
	}

	log.WithFields(logrus.Fields{
		"to_add":    len(diff.ToAdd),
		"to_remove": len(diff.ToRemove),
		"in_sync":   len(diff.InSync),
	}).Info("Loading playlist onto device")

	// Remove first so the space freed is available for the copies.
	for _, f := range diff.ToRemove {
		if err := os.Remove(filepath.Join(dev.MountPoint, f)); err != nil {
			log.WithError(err).WithField("file", f).Warn("Failed to remove file from device")
			report.Failed = append(report.Failed, f)
			continue
		}
		report.Removed++
	}

	folder := o.lib.PlaylistFolder(playlist.FolderName)
	for _, t := range diff.ToAdd {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report, nil
		}

		src, srcErr := o.sourceFor(folder, t.StorageHash, t.Filename)
		if srcErr != nil {
			log.WithError(srcErr).WithField("file", t.Filename).Warn("No local source for track")
			report.Failed = append(report.Failed, t.Filename)
			continue
		}
		if err := copyToDevice(src, filepath.Join(dev.MountPoint, t.Filename)); err != nil {
			log.WithError(err).WithField("file", t.Filename).Warn("Failed to copy track to device")
			report.Failed = append(report.Failed, t.Filename)
			continue
		}
		report.Added++
	}

	marker := device.Marker{
		PlaylistID:   playlistID,
		PlaylistName: playlist.Name,
		DeviceName:   dev.Label,
		Tracks:       o.markerTracks(dev.MountPoint, tracks),
	}
	if err := device.WriteMarker(dev.MountPoint, marker); err != nil {
		log.WithError(err).Warn("Failed to write device marker")
	}
	o.lib.RecordDeviceLoad(dev.Label, playlistID)

	log.WithFields(logrus.Fields{
		"added":   report.Added,
		"removed": report.Removed,
		"failed":  len(report.Failed),
	}).Info("Device load finished")
	return report, nil
}

// SyncDevice loads whatever playlist the device claims via its marker,
// falling back to the library's primary playlist for fresh devices.
func (o *Orchestrator) SyncDevice(ctx context.Context, dev *device.Device) (DeviceReport, error) {
	playlistID := ""
	if dev.HasMarker() {
		playlistID = dev.Marker.PlaylistID
	}
	if playlistID == "" {
		primary, err := o.lib.Primary()
		if err != nil {
			return DeviceReport{}, fmt.Errorf("device has no marker and library has no primary playlist: %w", err)
		}
		playlistID = primary.ID
	}

	// A marker may point at a playlist deleted since the last load.
	if _, err := o.lib.Playlist(playlistID); errors.Is(err, library.ErrPlaylistNotFound) {
		primary, primErr := o.lib.Primary()
		if primErr != nil {
			return DeviceReport{}, fmt.Errorf("marker playlist %q no longer exists: %w", playlistID, err)
		}
		o.logger.WithFields(logrus.Fields{
			"marker":  playlistID,
			"primary": primary.ID,
		}).Warn("Marker playlist gone, using primary")
		playlistID = primary.ID
	}

	return o.LoadPlaylist(ctx, dev, playlistID)
}

// ClearDevice removes all audio files and the marker from a device.
func (o *Orchestrator) ClearDevice(dev *device.Device) (int, error) {
	files, err := reconcile.ListAudioFiles(dev.MountPoint)
	if err != nil {
		return 0, fmt.Errorf("failed to read device: %w", err)
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(filepath.Join(dev.MountPoint, f)); err != nil {
			o.logger.WithError(err).WithField("file", f).Warn("Failed to remove file from device")
			continue
		}
		removed++
	}

	if err := device.RemoveMarker(dev.MountPoint); err != nil {
		o.logger.WithError(err).Warn("Failed to remove device marker")
	}
	o.logger.WithFields(logrus.Fields{
		"mount":   dev.MountPoint,
		"removed": removed,
	}).Info("Device cleared")
	return removed, nil
}

// checkDeviceCapacity verifies up front that the transfer fits: required
// bytes must not exceed current free space plus the space the removals
// will reclaim.
func (o *Orchestrator) checkDeviceCapacity(dev *device.Device, diff reconcile.DeviceDiff) error {
	if dev.TotalBytes == 0 {
		return nil
	}

	required := int64(diff.TransferMB() * 1024 * 1024)

	var freed int64
	for _, f := range diff.ToRemove {
		if info, err := os.Stat(filepath.Join(dev.MountPoint, f)); err == nil {
			freed += info.Size()
		}
	}

	available := int64(dev.FreeBytes) + freed
	if required > available {
		return fmt.Errorf("%w: need %d MB, have %d MB reclaimable",
			ErrInsufficientSpace, required/(1024*1024), available/(1024*1024))
	}
	return nil
}

// markerTracks lists the playlist tracks actually present on the device,
// stat'ing each so the marker never claims a track that is not there.
func (o *Orchestrator) markerTracks(mountPoint string, tracks []models.ManifestTrack) []device.MarkerTrack {
	out := make([]device.MarkerTrack, 0, len(tracks))
	for _, t := range tracks {
		info, err := os.Stat(filepath.Join(mountPoint, t.Filename))
		if err != nil {
			continue
		}
		out = append(out, device.MarkerTrack{
			Filename:  t.Filename,
			Hash:      t.StorageHash,
			SizeBytes: info.Size(),
		})
	}
	return out
}

// sourceFor picks the best local file for a device copy: the store's
// content-addressed file when the hash is known, the playlist link
// otherwise.
func (o *Orchestrator) sourceFor(folder, hash, filename string) (string, error) {
	if hash != "" {
		if path, err := o.storage.Resolve(hash); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return path, nil
			}
		}
	}
	link := filepath.Join(folder, filename)
	if _, err := os.Stat(link); err != nil {
		return "", err
	}
	return link, nil
}

// copyToDevice streams src to a temporary name and renames it into place,
// so a yanked cable never leaves a half-written track under the final name.
func copyToDevice(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Offload is ClearDevice followed by forgetting the device association in
// the registry, used when a device is repurposed.
func (o *Orchestrator) Offload(dev *device.Device) (int, error) {
	removed, err := o.ClearDevice(dev)
	if err != nil {
		return removed, err
	}
	o.lib.RecordDeviceLoad(strings.TrimSpace(dev.Label), "")
	return removed, nil
}
