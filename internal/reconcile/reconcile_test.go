package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"driftsync/pkg/models"
)

const minValid = 1024

func remote(id, artist, title string) models.RemoteTrack {
	return models.RemoteTrack{SpotifyID: id, Artist: artist, Title: title}
}

func manifestTrack(id, artist, title, filename string) models.ManifestTrack {
	return models.ManifestTrack{
		SpotifyID: id,
		Artist:    artist,
		Title:     title,
		Filename:  filename,
		Status:    "downloaded",
	}
}

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	data := make([]byte, size)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestComparePlaylistPartitions(t *testing.T) {
	dir := t.TempDir()

	// A is intact, B's file is missing, D is no longer wanted remotely.
	writeFile(t, dir, "A - A.mp3", 4096)
	writeFile(t, dir, "D - D.mp3", 4096)

	remoteTracks := []models.RemoteTrack{
		remote("a", "A", "A"),
		remote("b", "B", "B"),
		remote("c", "C", "C"),
	}
	manifest := []models.ManifestTrack{
		manifestTrack("a", "A", "A", "A - A.mp3"),
		manifestTrack("b", "B", "B", "B - B.mp3"),
		manifestTrack("d", "D", "D", "D - D.mp3"),
	}

	diff := ComparePlaylist(remoteTracks, manifest, dir, minValid)

	if len(diff.New) != 1 || diff.New[0].SpotifyID != "c" {
		t.Errorf("expected new=[c], got %+v", diff.New)
	}
	if len(diff.Existing) != 1 || diff.Existing[0].SpotifyID != "a" {
		t.Errorf("expected existing=[a], got %+v", diff.Existing)
	}
	if len(diff.Suspect) != 1 || diff.Suspect[0].SpotifyID != "b" {
		t.Errorf("expected suspect=[b], got %+v", diff.Suspect)
	}
	if len(diff.Removed) != 1 || diff.Removed[0].SpotifyID != "d" {
		t.Errorf("expected removed=[d], got %+v", diff.Removed)
	}

	// Partition is complete: every remote track is accounted for exactly once.
	if got := len(diff.New) + len(diff.Existing) + len(diff.Suspect); got != len(remoteTracks) {
		t.Errorf("partition incomplete: %d of %d remote tracks placed", got, len(remoteTracks))
	}
	if diff.DownloadCount() != 2 {
		t.Errorf("expected 2 downloads, got %d", diff.DownloadCount())
	}
}

func TestComparePlaylistUndersizedFileIsSuspect(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A - A.mp3", 10) // truncated download

	diff := ComparePlaylist(
		[]models.RemoteTrack{remote("a", "A", "A")},
		[]models.ManifestTrack{manifestTrack("a", "A", "A", "A - A.mp3")},
		dir, minValid,
	)

	if len(diff.Suspect) != 1 || len(diff.Existing) != 0 {
		t.Errorf("expected undersized file classed suspect, got existing=%d suspect=%d",
			len(diff.Existing), len(diff.Suspect))
	}
}

func TestComparePlaylistFallsBackToTrackKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "The Band - Song.mp3", 4096)

	// Manifest entry predates remote IDs; match by normalized artist-title.
	manifest := []models.ManifestTrack{
		{Artist: "The Band", Title: "Song", Filename: "The Band - Song.mp3", Status: "downloaded"},
	}
	remoteTracks := []models.RemoteTrack{
		{SpotifyID: "z1", Artist: "The Band, Someone Else", Title: "SONG"},
	}

	diff := ComparePlaylist(remoteTracks, manifest, dir, minValid)
	if len(diff.Existing) != 1 {
		t.Fatalf("expected key-based match, got new=%d existing=%d", len(diff.New), len(diff.Existing))
	}
	if len(diff.Removed) != 0 {
		t.Errorf("matched track must not appear in removed: %+v", diff.Removed)
	}
}

func TestCompareDevice(t *testing.T) {
	library := []models.ManifestTrack{
		manifestTrack("x", "X", "X", "x.mp3"),
		manifestTrack("z", "Z", "Z", "z.mp3"),
	}
	deviceFiles := []string{"x.mp3", "y.mp3"}

	diff := CompareDevice(library, deviceFiles)

	if len(diff.ToAdd) != 1 || diff.ToAdd[0].Filename != "z.mp3" {
		t.Errorf("expected to_add=[z.mp3], got %+v", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0] != "y.mp3" {
		t.Errorf("expected to_remove=[y.mp3], got %+v", diff.ToRemove)
	}
	if len(diff.InSync) != 1 || diff.InSync[0].Filename != "x.mp3" {
		t.Errorf("expected in_sync=[x.mp3], got %+v", diff.InSync)
	}
}

func TestCompareDeviceCaseInsensitive(t *testing.T) {
	library := []models.ManifestTrack{manifestTrack("x", "X", "X", "Track One.mp3")}
	diff := CompareDevice(library, []string{"track one.MP3"})

	if len(diff.InSync) != 1 || len(diff.ToAdd) != 0 || len(diff.ToRemove) != 0 {
		t.Errorf("expected case-insensitive match, got %+v", diff)
	}
}

func TestTransferEstimates(t *testing.T) {
	diff := DeviceDiff{
		ToAdd: []models.ManifestTrack{
			{Filename: "a.mp3", FileSizeMB: 5.5},
			{Filename: "b.mp3"}, // no recorded size, falls back to estimate
		},
	}
	want := 5.5 + EstimatedTrackSizeMB
	if got := diff.TransferMB(); got != want {
		t.Errorf("TransferMB = %v, want %v", got, want)
	}
}

func TestListAudioFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "song.mp3", 10)
	writeFile(t, dir, "notes.txt", 10)
	writeFile(t, dir, ".hidden.mp3", 10)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := ListAudioFiles(dir)
	if err != nil {
		t.Fatalf("ListAudioFiles failed: %v", err)
	}
	if len(files) != 1 || files[0] != "song.mp3" {
		t.Errorf("expected [song.mp3], got %v", files)
	}
}
