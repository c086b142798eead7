package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeV1Library(t *testing.T, root string) {
	t.Helper()
	writeAudioFile(t, root, "Artist - Song A.mp3", "flat layout bytes A")
	writeAudioFile(t, root, "Artist - Song B.mp3", "flat layout bytes B")

	manifest := map[string]interface{}{
		"version":       "1.0",
		"playlist_name": "My Music",
		"playlist_url":  "https://open.spotify.com/playlist/v1",
		"tracks": []map[string]interface{}{
			{"spotify_id": "s1", "artist": "Artist", "title": "Song A", "filename": "Artist - Song A.mp3"},
			{"spotify_id": "s2", "artist": "Artist", "title": "Song B", "filename": "Artist - Song B.mp3"},
			{"spotify_id": "s3", "artist": "Artist", "title": "Gone", "filename": "Artist - Gone.mp3"},
		},
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ManifestFile), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateV1Library(t *testing.T) {
	m, st, root := newTestManager(t)
	writeV1Library(t, root)

	if !m.NeedsMigration() {
		t.Fatal("v1 manifest at the root must trigger migration")
	}

	result, err := m.MigrateV1IfNeeded()
	if err != nil {
		t.Fatalf("MigrateV1IfNeeded failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a migration result")
	}
	if result.TracksMigrated != 2 {
		t.Errorf("expected 2 tracks migrated, got %d", result.TracksMigrated)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected 1 warning for the missing file, got %v", result.Warnings)
	}

	// The playlist carries the v1 name and holds the migrated tracks.
	p, err := m.Playlist(result.PlaylistID)
	if err != nil {
		t.Fatalf("migrated playlist missing: %v", err)
	}
	if p.Name != "My Music" {
		t.Errorf("expected playlist name from v1 manifest, got %q", p.Name)
	}
	tracks, err := m.Tracks(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 manifest tracks, got %d", len(tracks))
	}
	for _, tr := range tracks {
		if tr.StorageHash == "" {
			t.Errorf("track %q has no storage hash", tr.Title)
		}
		link := filepath.Join(m.PlaylistFolder(p.ID), tr.Filename)
		if _, err := os.ReadFile(link); err != nil {
			t.Errorf("playlist link unreadable for %q: %v", tr.Filename, err)
		}
	}
	if stats := st.Stats(); stats.UniqueTracks != 2 {
		t.Errorf("expected 2 stored tracks, got %d", stats.UniqueTracks)
	}

	// Flat copies are gone, the old manifest survives as a backup.
	for _, f := range []string{"Artist - Song A.mp3", "Artist - Song B.mp3"} {
		if _, err := os.Stat(filepath.Join(root, f)); !os.IsNotExist(err) {
			t.Errorf("flat copy %q still present", f)
		}
	}
	if _, err := os.Stat(filepath.Join(root, v1BackupFile)); err != nil {
		t.Errorf("v1 backup missing: %v", err)
	}

	// A second pass is a no-op.
	if m.NeedsMigration() {
		t.Error("migration must not be needed twice")
	}
	again, err := m.MigrateV1IfNeeded()
	if err != nil || again != nil {
		t.Errorf("expected (nil, nil) on repeat, got %+v, %v", again, err)
	}
}

func TestNeedsMigrationIgnoresCurrentLayout(t *testing.T) {
	m, _, root := newTestManager(t)

	if m.NeedsMigration() {
		t.Error("fresh library must not need migration")
	}

	// A current-format document at the root does not trigger conversion.
	doc := map[string]interface{}{"version": "2.0", "tracks": []interface{}{}}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(filepath.Join(root, ManifestFile), data, 0644); err != nil {
		t.Fatal(err)
	}
	if m.NeedsMigration() {
		t.Error("v2 manifest must not trigger migration")
	}
}
