package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"driftsync/internal/store"
	"driftsync/internal/textutil"
	"driftsync/pkg/models"
)

// ManifestFile is the per-playlist track manifest.
const ManifestFile = ".driftsync_manifest.json"

// Tracks returns the manifest track list for a playlist.
func (m *Manager) Tracks(id string) ([]models.ManifestTrack, error) {
	m.mu.Lock()
	p := m.findLocked(id)
	m.mu.Unlock()
	if p == nil {
		return nil, ErrPlaylistNotFound
	}

	manifest, err := m.loadManifest(id)
	if err != nil {
		return nil, err
	}
	return manifest.Tracks, nil
}

// AddTrack ingests a downloaded file into the store under this playlist's
// ownership, links it into the playlist folder and appends a manifest
// entry. Re-adding a track already present updates the entry in place.
func (m *Manager) AddTrack(playlistID, sourcePath string, meta store.TrackMeta) (models.ManifestTrack, error) {
	m.mu.Lock()
	p := m.findLocked(playlistID)
	m.mu.Unlock()
	if p == nil {
		return models.ManifestTrack{}, ErrPlaylistNotFound
	}

	hash, _, err := m.storage.Store(sourcePath, meta, playlistID)
	if err != nil {
		return models.ManifestTrack{}, err
	}

	filename := textutil.DisplayFilename(meta.Artist, meta.Title)
	if err := m.storage.LinkInto(hash, m.playlistFolder(p.FolderName), filename); err != nil {
		m.releaseUnlessRecorded(playlistID, hash)
		return models.ManifestTrack{}, err
	}

	sizeBytes := int64(0)
	if info, statErr := os.Stat(sourcePath); statErr == nil {
		sizeBytes = info.Size()
	} else if stored, infoErr := m.storage.TrackInfo(hash); infoErr == nil {
		sizeBytes = stored.SizeBytes
	}

	track := models.ManifestTrack{
		SpotifyID:    meta.SpotifyID,
		Title:        meta.Title,
		Artist:       meta.Artist,
		Album:        meta.Album,
		Filename:     filename,
		StorageHash:  hash,
		FileSizeMB:   float64(sizeBytes) / (1024 * 1024),
		Status:       "downloaded",
		DownloadedAt: time.Now().Format(time.RFC3339),
	}

	manifest, err := m.loadManifest(playlistID)
	if err != nil {
		return models.ManifestTrack{}, err
	}

	replaced := false
	for i, existing := range manifest.Tracks {
		if sameIdentity(existing, track) {
			manifest.Tracks[i] = track
			replaced = true
			break
		}
	}
	if !replaced {
		manifest.Tracks = append(manifest.Tracks, track)
	}
	manifest.LastSync = time.Now().Format(time.RFC3339)

	if err := m.saveManifest(playlistID, manifest); err != nil {
		return models.ManifestTrack{}, err
	}
	m.refreshPlaylistCounters(playlistID, manifest)
	return track, nil
}

// AttachStored adds an already stored track to a playlist without a new
// copy of the audio: a reference, a link, and a manifest entry. This is
// the dedup path for tracks another playlist downloaded first.
func (m *Manager) AttachStored(playlistID, hash string) (models.ManifestTrack, error) {
	m.mu.Lock()
	p := m.findLocked(playlistID)
	m.mu.Unlock()
	if p == nil {
		return models.ManifestTrack{}, ErrPlaylistNotFound
	}

	if err := m.storage.AddReference(hash, playlistID); err != nil {
		return models.ManifestTrack{}, err
	}

	stored, err := m.storage.TrackInfo(hash)
	if err != nil {
		m.releaseUnlessRecorded(playlistID, hash)
		return models.ManifestTrack{}, err
	}

	filename := textutil.DisplayFilename(stored.Artist, stored.Title)
	if err := m.storage.LinkInto(hash, m.playlistFolder(p.FolderName), filename); err != nil {
		m.releaseUnlessRecorded(playlistID, hash)
		return models.ManifestTrack{}, err
	}

	track := models.ManifestTrack{
		SpotifyID:    stored.SpotifyID,
		Title:        stored.Title,
		Artist:       stored.Artist,
		Album:        stored.Album,
		Filename:     filename,
		StorageHash:  hash,
		FileSizeMB:   float64(stored.SizeBytes) / (1024 * 1024),
		Status:       "downloaded",
		DownloadedAt: stored.DownloadedAt,
	}

	manifest, err := m.loadManifest(playlistID)
	if err != nil {
		return models.ManifestTrack{}, err
	}
	replaced := false
	for i, existing := range manifest.Tracks {
		if sameIdentity(existing, track) {
			manifest.Tracks[i] = track
			replaced = true
			break
		}
	}
	if !replaced {
		manifest.Tracks = append(manifest.Tracks, track)
	}
	manifest.LastSync = time.Now().Format(time.RFC3339)

	if err := m.saveManifest(playlistID, manifest); err != nil {
		return models.ManifestTrack{}, err
	}
	m.refreshPlaylistCounters(playlistID, manifest)
	return track, nil
}

// RemoveTrack releases the playlist's reference, removes the link and
// drops the manifest entry. Deletion order matters: release before unlink
// so a crash in between leaves a dangling link, not an orphaned store file.
func (m *Manager) RemoveTrack(playlistID string, track models.ManifestTrack) error {
	m.mu.Lock()
	p := m.findLocked(playlistID)
	m.mu.Unlock()
	if p == nil {
		return ErrPlaylistNotFound
	}

	if track.StorageHash != "" {
		m.storage.Release(track.StorageHash, playlistID)
	}

	link := filepath.Join(m.playlistFolder(p.FolderName), track.Filename)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).WithField("file", track.Filename).Warn("Failed to remove playlist link")
	}

	manifest, err := m.loadManifest(playlistID)
	if err != nil {
		return err
	}
	kept := manifest.Tracks[:0]
	for _, t := range manifest.Tracks {
		if !sameIdentity(t, track) {
			kept = append(kept, t)
		}
	}
	manifest.Tracks = kept
	manifest.LastSync = time.Now().Format(time.RFC3339)

	if err := m.saveManifest(playlistID, manifest); err != nil {
		return err
	}
	m.refreshPlaylistCounters(playlistID, manifest)
	return nil
}

// TouchSync stamps the manifest and registry entry after a sync run.
func (m *Manager) TouchSync(playlistID string) error {
	manifest, err := m.loadManifest(playlistID)
	if err != nil {
		return err
	}
	manifest.LastSync = time.Now().Format(time.RFC3339)
	if err := m.saveManifest(playlistID, manifest); err != nil {
		return err
	}
	m.refreshPlaylistCounters(playlistID, manifest)
	return nil
}

// RepairLinks re-creates missing or broken playlist links from the store.
// Returns the number of links repaired.
func (m *Manager) RepairLinks(playlistID string) (int, error) {
	m.mu.Lock()
	p := m.findLocked(playlistID)
	m.mu.Unlock()
	if p == nil {
		return 0, ErrPlaylistNotFound
	}

	manifest, err := m.loadManifest(playlistID)
	if err != nil {
		return 0, err
	}

	folder := m.playlistFolder(p.FolderName)
	repaired := 0
	for _, t := range manifest.Tracks {
		if t.StorageHash == "" {
			continue
		}
		link := filepath.Join(folder, t.Filename)
		if info, statErr := os.Stat(link); statErr == nil && info.Size() > 0 {
			continue
		}
		if err := m.storage.LinkInto(t.StorageHash, folder, t.Filename); err != nil {
			m.logger.WithError(err).WithField("file", t.Filename).Warn("Failed to repair link")
			continue
		}
		repaired++
	}

	if repaired > 0 {
		m.logger.WithFields(map[string]interface{}{
			"playlist": playlistID,
			"repaired": repaired,
		}).Info("Repaired playlist links")
	}
	return repaired, nil
}

// RefreshStats recomputes a playlist's track count and size figures from
// its manifest and persists them to the registry.
func (m *Manager) RefreshStats(playlistID string) error {
	manifest, err := m.loadManifest(playlistID)
	if err != nil {
		return err
	}
	m.refreshPlaylistCounters(playlistID, manifest)
	return nil
}

// releaseUnlessRecorded backs out a store reference taken during a failed
// add. The reference stays when the manifest already records the hash,
// since releasing it then would undercount a live link.
func (m *Manager) releaseUnlessRecorded(playlistID, hash string) {
	manifest, err := m.loadManifest(playlistID)
	if err == nil {
		for _, t := range manifest.Tracks {
			if t.StorageHash == hash {
				return
			}
		}
	}
	m.storage.Release(hash, playlistID)
}

func sameIdentity(a, b models.ManifestTrack) bool {
	if a.SpotifyID != "" && b.SpotifyID != "" {
		return a.SpotifyID == b.SpotifyID
	}
	return textutil.TrackKey(a.Artist, a.Title) == textutil.TrackKey(b.Artist, b.Title)
}

func (m *Manager) refreshPlaylistCounters(playlistID string, manifest *models.Manifest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findLocked(playlistID)
	if p == nil {
		return
	}

	p.TrackCount = len(manifest.Tracks)
	p.LastSync = manifest.LastSync

	total := 0.0
	unique := 0.0
	seen := make(map[string]bool)
	for _, t := range manifest.Tracks {
		total += t.FileSizeMB
		if t.StorageHash == "" || !seen[t.StorageHash] {
			unique += t.FileSizeMB
			seen[t.StorageHash] = true
		}
	}
	p.TotalSizeMB = total
	p.UniqueSizeMB = unique

	if err := m.saveRegistryLocked(); err != nil {
		m.logger.WithError(err).Error("Failed to persist playlist counters")
	}
}

// Playlist folders are named after the playlist ID, so path resolution
// needs no registry lookup.
func (m *Manager) manifestPath(playlistID string) string {
	return filepath.Join(m.playlistFolder(playlistID), ManifestFile)
}

// loadManifest reads a playlist manifest. A missing or unparseable file is
// rebuilt from the files present in the playlist folder so one corrupt
// document never strands a playlist.
func (m *Manager) loadManifest(playlistID string) (*models.Manifest, error) {
	path := m.manifestPath(playlistID)

	data, err := os.ReadFile(path)
	if err == nil {
		var manifest models.Manifest
		if jsonErr := json.Unmarshal(data, &manifest); jsonErr == nil {
			return &manifest, nil
		}
		m.logger.WithField("playlist", playlistID).Warn("Manifest unparseable, rebuilding from folder")
	}

	manifest := m.rebuildManifest(playlistID)
	if saveErr := m.saveManifest(playlistID, manifest); saveErr != nil {
		return nil, saveErr
	}
	return manifest, nil
}

// rebuildManifest reconstructs a manifest from the audio files present in
// the playlist folder, recovering store hashes where the file content is
// still indexed.
func (m *Manager) rebuildManifest(playlistID string) *models.Manifest {
	manifest := &models.Manifest{
		Version:    registryVersion,
		PlaylistID: playlistID,
		Tracks:     []models.ManifestTrack{},
	}

	m.mu.Lock()
	if p := m.findLocked(playlistID); p != nil {
		manifest.PlaylistName = p.Name
		manifest.PlaylistURL = p.SpotifyURL
	}
	m.mu.Unlock()

	folder := m.playlistFolder(playlistID)
	entries, err := os.ReadDir(folder)
	if err != nil {
		return manifest
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".mp3") {
			continue
		}
		path := filepath.Join(folder, name)
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}

		artist, title := splitDisplayName(name)
		track := models.ManifestTrack{
			Title:      title,
			Artist:     artist,
			Filename:   name,
			FileSizeMB: float64(info.Size()) / (1024 * 1024),
			Status:     "downloaded",
		}
		if hash, hashErr := m.storage.ComputeHash(path); hashErr == nil {
			if _, infoErr := m.storage.TrackInfo(hash); infoErr == nil {
				track.StorageHash = hash
			}
		}
		manifest.Tracks = append(manifest.Tracks, track)
	}
	return manifest
}

func (m *Manager) saveManifest(playlistID string, manifest *models.Manifest) error {
	path := m.manifestPath(playlistID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create playlist folder: %w", err)
	}
	return writeJSONAtomic(path, manifest)
}

func (m *Manager) loadRegistry() *registryDoc {
	doc := &registryDoc{
		Version:   registryVersion,
		Playlists: []*models.Playlist{},
	}

	data, err := os.ReadFile(filepath.Join(m.root, LibraryDir, RegistryFile))
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		m.logger.WithError(err).Warn("Registry unparseable, starting empty")
		return &registryDoc{Version: registryVersion, Playlists: []*models.Playlist{}}
	}
	if doc.Playlists == nil {
		doc.Playlists = []*models.Playlist{}
	}
	return doc
}

func (m *Manager) saveRegistryLocked() error {
	m.registry.StorageStats = m.storage.Stats()
	return writeJSONAtomic(filepath.Join(m.root, LibraryDir, RegistryFile), m.registry)
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// splitDisplayName recovers artist and title from an "Artist - Title.mp3"
// filename, tolerating files that do not follow the pattern.
func splitDisplayName(filename string) (artist, title string) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.SplitN(base, " - ", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", base
}
