package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"driftsync/internal/store"
	"driftsync/pkg/models"

	"github.com/sirupsen/logrus"
)

// A v1 library is a flat folder: one manifest document at the root with
// the audio files beside it, no registry, no deduplicated storage.
const v1BackupFile = ".driftsync_manifest.v1.backup.json"

const defaultMigrationName = "My Music"

// MigrationResult reports what a v1 conversion did.
type MigrationResult struct {
	PlaylistID     string
	TracksMigrated int
	Warnings       []string
}

type v1Manifest struct {
	Version      string                 `json:"version"`
	PlaylistName string                 `json:"playlist_name"`
	PlaylistURL  string                 `json:"playlist_url"`
	Tracks       []models.ManifestTrack `json:"tracks"`
}

// NeedsMigration reports whether a v1 manifest sits at the library root.
// Version "1.x" or a missing version field marks the old format.
func (m *Manager) NeedsMigration() bool {
	data, err := os.ReadFile(filepath.Join(m.root, ManifestFile))
	if err != nil {
		return false
	}
	var doc struct {
		Version string `json:"version"`
	}
	if json.Unmarshal(data, &doc) != nil {
		return false
	}
	return doc.Version == "" || strings.HasPrefix(doc.Version, "1.")
}

// MigrateV1 converts a flat v1 library into the deduplicated layout: its
// tracks move into content storage under a freshly created playlist and
// the old manifest is kept as a backup beside the registry. Tracks whose
// files are gone are skipped with a warning, never a failure.
func (m *Manager) MigrateV1(playlistName string) (MigrationResult, error) {
	var result MigrationResult

	path := filepath.Join(m.root, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return result, err
	}
	var v1 v1Manifest
	if err := json.Unmarshal(data, &v1); err != nil {
		return result, fmt.Errorf("unparseable v1 manifest: %w", err)
	}

	name := playlistName
	if name == "" {
		name = v1.PlaylistName
	}
	if name == "" {
		name = defaultMigrationName
	}

	p, err := m.CreatePlaylist(name, v1.PlaylistURL, "#22c55e")
	if err != nil {
		return result, err
	}
	result.PlaylistID = p.ID

	for _, t := range v1.Tracks {
		if t.Filename == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("track %q has no filename", t.Title))
			continue
		}
		src := filepath.Join(m.root, t.Filename)
		if _, statErr := os.Stat(src); statErr != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("file missing: %s", t.Filename))
			continue
		}

		meta := store.TrackMeta{
			Artist:    t.Artist,
			Title:     t.Title,
			Album:     t.Album,
			SpotifyID: t.SpotifyID,
		}
		if _, addErr := m.AddTrack(p.ID, src, meta); addErr != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to migrate %s: %v", t.Filename, addErr))
			continue
		}

		// The content now lives in storage; the flat copy goes.
		if rmErr := os.Remove(src); rmErr != nil {
			m.logger.WithError(rmErr).WithField("file", t.Filename).Warn("Failed to remove migrated file")
		}
		result.TracksMigrated++
	}

	if err := os.Rename(path, filepath.Join(m.root, v1BackupFile)); err != nil {
		m.logger.WithError(err).Warn("Failed to back up v1 manifest")
	}

	m.logger.WithFields(logrus.Fields{
		"playlist": result.PlaylistID,
		"tracks":   result.TracksMigrated,
		"warnings": len(result.Warnings),
	}).Info("Migrated v1 library")
	return result, nil
}

// MigrateV1IfNeeded runs the conversion when a v1 manifest is present.
// Returns (nil, nil) when the library is already in the current layout.
func (m *Manager) MigrateV1IfNeeded() (*MigrationResult, error) {
	if !m.NeedsMigration() {
		return nil, nil
	}
	result, err := m.MigrateV1("")
	if err != nil {
		return nil, err
	}
	return &result, nil
}
