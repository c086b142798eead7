// Package library manages the playlist registry and per-playlist manifests
// on top of the content store. Playlists own references into the store;
// deleting a playlist releases every reference it holds before its folder
// and manifest are removed.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"driftsync/internal/store"
	"driftsync/internal/textutil"
	"driftsync/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// LibraryDir holds the registry document under the library root.
	LibraryDir = ".driftsync"
	// RegistryFile is the library-level registry document.
	RegistryFile = "library.json"
	// PlaylistsDir holds one folder per playlist.
	PlaylistsDir = "playlists"

	registryVersion = "2.0"
)

// ErrPlaylistNotFound is returned for operations on unknown playlist IDs.
var ErrPlaylistNotFound = errors.New("playlist not found")

// registryDoc is the serialized library registry. Layout is shared with
// existing libraries on disk.
type registryDoc struct {
	Version           string              `json:"version"`
	PrimaryPlaylistID string              `json:"primary_playlist_id,omitempty"`
	Playlists         []*models.Playlist  `json:"playlists"`
	Device            deviceBlock         `json:"device"`
	StorageStats      models.StorageStats `json:"storage_stats"`
}

// deviceBlock records the last known device association in the registry.
type deviceBlock struct {
	Name               string `json:"name"`
	CapacityGB         int    `json:"capacity_gb"`
	LastConnected      string `json:"last_connected,omitempty"`
	LastPlaylistLoaded string `json:"last_playlist_loaded,omitempty"`
}

// Manager owns the playlist registry and the playlists directory tree.
type Manager struct {
	root    string
	storage *store.Store
	logger  *logrus.Logger

	mu       sync.Mutex
	registry *registryDoc
}

// NewManager opens (or initializes) the library rooted at libraryRoot.
func NewManager(libraryRoot string, storage *store.Store) (*Manager, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	for _, dir := range []string{
		filepath.Join(libraryRoot, LibraryDir),
		filepath.Join(libraryRoot, PlaylistsDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create library directory: %w", err)
		}
	}

	m := &Manager{
		root:    libraryRoot,
		storage: storage,
		logger:  logger,
	}
	m.registry = m.loadRegistry()
	return m, nil
}

// Playlist returns the registry entry for id.
func (m *Manager) Playlist(id string) (models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findLocked(id)
	if p == nil {
		return models.Playlist{}, ErrPlaylistNotFound
	}
	return *p, nil
}

// Playlists returns all playlists in the library.
func (m *Manager) Playlists() []models.Playlist {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Playlist, 0, len(m.registry.Playlists))
	for _, p := range m.registry.Playlists {
		out = append(out, *p)
	}
	return out
}

// CreatePlaylist registers a new playlist, creates its folder and an empty
// manifest. The id is a slug of the name, disambiguated with a numeric
// suffix on collision. The first playlist created becomes primary.
func (m *Manager) CreatePlaylist(name, spotifyURL, color string) (models.Playlist, error) {
	if color == "" {
		color = "#3b82f6"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.uniqueIDLocked(textutil.Slugify(name))

	p := &models.Playlist{
		ID:         id,
		Name:       name,
		SpotifyURL: spotifyURL,
		FolderName: id,
		CreatedAt:  time.Now().Format(time.RFC3339),
		Color:      color,
	}
	m.registry.Playlists = append(m.registry.Playlists, p)

	folder := m.playlistFolder(id)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return models.Playlist{}, fmt.Errorf("failed to create playlist folder: %w", err)
	}

	manifest := &models.Manifest{
		Version:      registryVersion,
		PlaylistID:   id,
		PlaylistURL:  spotifyURL,
		PlaylistName: name,
		Tracks:       []models.ManifestTrack{},
	}
	if err := m.saveManifest(id, manifest); err != nil {
		return models.Playlist{}, err
	}

	if len(m.registry.Playlists) == 1 {
		m.registry.PrimaryPlaylistID = id
	}

	if err := m.saveRegistryLocked(); err != nil {
		return models.Playlist{}, err
	}
	return *p, nil
}

// DeletePlaylist releases every store reference the playlist holds, then
// removes its folder, manifest and registry entry. The primary pointer is
// reassigned if it pointed here.
func (m *Manager) DeletePlaylist(id string) error {
	m.mu.Lock()
	p := m.findLocked(id)
	m.mu.Unlock()
	if p == nil {
		return ErrPlaylistNotFound
	}

	// Release references first: a crash mid-delete then leaves links whose
	// targets may be gone, which the next reconciliation detects, rather
	// than store entries that undercount live links.
	tracks, err := m.Tracks(id)
	if err != nil {
		return err
	}
	for _, t := range tracks {
		if t.StorageHash != "" {
			m.storage.Release(t.StorageHash, id)
		}
	}

	folder := m.playlistFolder(p.FolderName)
	if err := os.RemoveAll(folder); err != nil {
		m.logger.WithError(err).WithField("playlist", id).Error("Failed to remove playlist folder")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.registry.Playlists[:0]
	for _, pl := range m.registry.Playlists {
		if pl.ID != id {
			kept = append(kept, pl)
		}
	}
	m.registry.Playlists = kept

	if m.registry.PrimaryPlaylistID == id {
		m.registry.PrimaryPlaylistID = ""
		if len(m.registry.Playlists) > 0 {
			m.registry.PrimaryPlaylistID = m.registry.Playlists[0].ID
		}
	}

	return m.saveRegistryLocked()
}

// UpdatePlaylist changes the name, URL, or color of a playlist. Nil
// pointers leave the corresponding field untouched.
func (m *Manager) UpdatePlaylist(id string, name, spotifyURL, color *string) (models.Playlist, error) {
	m.mu.Lock()
	p := m.findLocked(id)
	if p == nil {
		m.mu.Unlock()
		return models.Playlist{}, ErrPlaylistNotFound
	}

	if name != nil {
		p.Name = *name
	}
	if spotifyURL != nil {
		p.SpotifyURL = *spotifyURL
	}
	if color != nil {
		p.Color = *color
	}

	updated := *p
	err := m.saveRegistryLocked()
	m.mu.Unlock()
	if err != nil {
		return models.Playlist{}, err
	}

	if name != nil || spotifyURL != nil {
		if manifest, loadErr := m.loadManifest(id); loadErr == nil {
			if name != nil {
				manifest.PlaylistName = *name
			}
			if spotifyURL != nil {
				manifest.PlaylistURL = *spotifyURL
			}
			if saveErr := m.saveManifest(id, manifest); saveErr != nil {
				m.logger.WithError(saveErr).WithField("playlist", id).Error("Failed to update manifest metadata")
			}
		}
	}
	return updated, nil
}

// SetPrimary marks a playlist as the process-wide default for device
// operations when the device carries no marker.
func (m *Manager) SetPrimary(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(id) == nil {
		return ErrPlaylistNotFound
	}
	m.registry.PrimaryPlaylistID = id
	return m.saveRegistryLocked()
}

// Primary returns the primary playlist, or ErrPlaylistNotFound when the
// library has none.
func (m *Manager) Primary() (models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry.PrimaryPlaylistID == "" {
		return models.Playlist{}, ErrPlaylistNotFound
	}
	p := m.findLocked(m.registry.PrimaryPlaylistID)
	if p == nil {
		return models.Playlist{}, ErrPlaylistNotFound
	}
	return *p, nil
}

// LibraryStats aggregates playlist counts with the store's dedup figures.
type LibraryStats struct {
	PlaylistCount       int                 `json:"playlist_count"`
	TotalPlaylistTracks int                 `json:"total_playlist_tracks"`
	Storage             models.StorageStats `json:"storage"`
}

// Stats returns library-wide statistics.
func (m *Manager) Stats() LibraryStats {
	m.mu.Lock()
	stats := LibraryStats{PlaylistCount: len(m.registry.Playlists)}
	for _, p := range m.registry.Playlists {
		stats.TotalPlaylistTracks += p.TrackCount
	}
	m.mu.Unlock()

	stats.Storage = m.storage.Stats()
	return stats
}

// RecordDeviceLoad updates the registry's device block after a successful
// device operation.
func (m *Manager) RecordDeviceLoad(deviceName, playlistID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if deviceName != "" {
		m.registry.Device.Name = deviceName
	}
	m.registry.Device.LastConnected = time.Now().Format(time.RFC3339)
	m.registry.Device.LastPlaylistLoaded = playlistID
	if err := m.saveRegistryLocked(); err != nil {
		m.logger.WithError(err).Error("Failed to persist device block")
	}
}

// Root returns the library root path.
func (m *Manager) Root() string {
	return m.root
}

// PlaylistFolder returns the folder holding a playlist's links.
func (m *Manager) PlaylistFolder(id string) string {
	return m.playlistFolder(id)
}

func (m *Manager) playlistFolder(folderName string) string {
	return filepath.Join(m.root, PlaylistsDir, folderName)
}

func (m *Manager) findLocked(id string) *models.Playlist {
	for _, p := range m.registry.Playlists {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (m *Manager) uniqueIDLocked(base string) string {
	existing := make(map[string]bool, len(m.registry.Playlists))
	for _, p := range m.registry.Playlists {
		existing[p.ID] = true
	}

	id := base
	for counter := 1; existing[id]; counter++ {
		id = fmt.Sprintf("%s-%d", base, counter)
	}
	return id
}
