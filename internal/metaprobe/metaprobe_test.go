package metaprobe

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsAudioFile(t *testing.T) {
	p := NewProber(nil)

	tests := []struct {
		path string
		want bool
	}{
		{"song.mp3", true},
		{"song.MP3", true},
		{"song.flac", true},
		{"song.wav", true},
		{"song.txt", false},
		{"song", false},
	}
	for _, tt := range tests {
		if got := p.IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	custom := NewProber([]string{".ogg"})
	if custom.IsAudioFile("song.mp3") {
		t.Error("custom format list must replace the defaults")
	}
	if !custom.IsAudioFile("song.ogg") {
		t.Error("expected .ogg supported")
	}
}

func TestProbeUntaggedFile(t *testing.T) {
	// A file with no parseable tags still yields size and a filename title.
	dir := t.TempDir()
	path := filepath.Join(dir, "Artist - Title.mp3")
	if err := os.WriteFile(path, []byte("not real mpeg data"), 0644); err != nil {
		t.Fatal(err)
	}

	info, err := NewProber(nil).Probe(path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.Title != "Artist - Title" {
		t.Errorf("expected filename fallback title, got %q", info.Title)
	}
	if info.SizeBytes != int64(len("not real mpeg data")) {
		t.Errorf("size mismatch: %d", info.SizeBytes)
	}
}

func TestProbeMissingFile(t *testing.T) {
	if _, err := NewProber(nil).Probe("/nonexistent/file.mp3"); err == nil {
		t.Error("expected error for missing file")
	}
}
