package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeScanner builds a Scanner whose mount table, removable check and
// capacity probe are all in-memory.
func fakeScanner(t *testing.T, mounts []mountEntry, fragments []string) *Scanner {
	t.Helper()
	s := NewScanner(fragments)
	s.mountPrefixes = []string{"/"}
	s.listMounts = func() ([]mountEntry, error) { return mounts, nil }
	s.isRemovable = func(string) bool { return true }
	s.statfs = func(string) (uint64, uint64, error) { return 32 << 30, 16 << 30, nil }
	return s
}

func mountDir(t *testing.T, name string) (string, mountEntry) {
	t.Helper()
	// Mount points must live under a recognized media prefix; build the
	// fake entries with real temp dirs behind them for marker IO.
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return dir, mountEntry{device: "/dev/sdb1", mountPoint: dir}
}

// scannerFor builds a scanner that treats the given dirs as media mounts
// regardless of their real path prefix.
func scannerFor(t *testing.T, fragments []string, entries ...mountEntry) *Scanner {
	t.Helper()
	s := fakeScanner(t, entries, fragments)
	return s
}

func TestScanMatchesLabelFragment(t *testing.T) {
	dir, entry := mountDir(t, "OPENSWIM")
	s := scannerFor(t, []string{"openswim"}, entry)

	d, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if d == nil {
		t.Fatal("expected device, got nil")
	}
	if d.MountPoint != dir {
		t.Errorf("mount point %q, want %q", d.MountPoint, dir)
	}
	if d.HasMarker() {
		t.Error("fresh device must not report a marker")
	}
	if d.TotalBytes != 32<<30 || d.FreeBytes != 16<<30 {
		t.Errorf("capacity not populated: total=%d free=%d", d.TotalBytes, d.FreeBytes)
	}
}

func TestScanPrefersMarkerOverLabel(t *testing.T) {
	labelDir, labelEntry := mountDir(t, "OPENSWIM")
	markerDir, markerEntry := mountDir(t, "NO_NAME")
	_ = labelDir

	marker := Marker{PlaylistID: "laps", PlaylistName: "Laps", DeviceName: "My Player"}
	if err := WriteMarker(markerDir, marker); err != nil {
		t.Fatalf("WriteMarker failed: %v", err)
	}

	s := scannerFor(t, []string{"openswim"}, labelEntry, markerEntry)
	d, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if d == nil || !d.HasMarker() {
		t.Fatalf("expected marker device, got %+v", d)
	}
	if d.Marker.PlaylistID != "laps" || d.Marker.PlaylistName != "Laps" {
		t.Errorf("marker content mismatch: %+v", d.Marker)
	}
}

func TestScanNoMatch(t *testing.T) {
	_, entry := mountDir(t, "RANDOM_USB")
	s := scannerFor(t, []string{"openswim", "shokz"}, entry)

	d, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if d != nil {
		t.Errorf("expected no device, got %+v", d)
	}
}

func TestScanSkipsNonRemovable(t *testing.T) {
	_, entry := mountDir(t, "OPENSWIM")
	s := scannerFor(t, []string{"openswim"}, entry)
	s.isRemovable = func(string) bool { return false }

	d, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if d != nil {
		t.Errorf("fixed disk must not be detected, got %+v", d)
	}
}

func TestMarkerRoundTripAndCorruption(t *testing.T) {
	dir := t.TempDir()

	// Missing marker is not an error.
	m, err := ReadMarker(dir)
	if err != nil || m != nil {
		t.Fatalf("expected (nil, nil) for missing marker, got %+v, %v", m, err)
	}

	in := Marker{
		PlaylistID:   "laps",
		PlaylistName: "Laps",
		DeviceName:   "Player",
		Tracks: []MarkerTrack{
			{Filename: "a.mp3", Hash: "0011223344556677", SizeBytes: 1024},
			{Filename: "b.mp3", Hash: "8899aabbccddeeff", SizeBytes: 2048},
			{Filename: "c.mp3", SizeBytes: 512},
		},
	}
	if err := WriteMarker(dir, in); err != nil {
		t.Fatalf("WriteMarker failed: %v", err)
	}
	m, err = ReadMarker(dir)
	if err != nil || m == nil {
		t.Fatalf("ReadMarker failed: %+v, %v", m, err)
	}
	if m.PlaylistID != "laps" || m.PlaylistName != "Laps" || m.TrackCount != 3 {
		t.Errorf("marker mismatch: %+v", m)
	}
	if m.TotalSizeBytes != 3584 || len(m.Tracks) != 3 {
		t.Errorf("track listing mismatch: total=%d tracks=%d", m.TotalSizeBytes, len(m.Tracks))
	}
	if m.Tracks[0].Filename != "a.mp3" || m.Tracks[0].Hash != "0011223344556677" {
		t.Errorf("first track mismatch: %+v", m.Tracks[0])
	}
	if m.Version == "" || m.LoadedAt == "" {
		t.Errorf("marker missing version or timestamp: %+v", m)
	}

	// Corrupt marker reads as absent.
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err = ReadMarker(dir)
	if err != nil || m != nil {
		t.Errorf("corrupt marker must read as absent, got %+v, %v", m, err)
	}

	// Remove is idempotent.
	if err := RemoveMarker(dir); err != nil {
		t.Errorf("RemoveMarker failed: %v", err)
	}
	if err := RemoveMarker(dir); err != nil {
		t.Errorf("second RemoveMarker failed: %v", err)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	_, entry := mountDir(t, "OPENSWIM")

	var mounts []mountEntry
	s := fakeScanner(t, nil, []string{"openswim"})
	s.listMounts = func() ([]mountEntry, error) { return mounts, nil }

	mon := NewMonitor(s, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)

	waitEvent := func(want EventKind) Event {
		t.Helper()
		select {
		case e := <-mon.Events():
			if e.Kind != want {
				t.Fatalf("expected %s event, got %s", want, e.Kind)
			}
			return e
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
			return Event{}
		}
	}

	mounts = []mountEntry{entry}
	e := waitEvent(EventConnected)
	if e.Device == nil || e.Device.MountPoint != entry.mountPoint {
		t.Errorf("connected event carries wrong device: %+v", e.Device)
	}

	mounts = nil
	waitEvent(EventDisconnected)

	cancel()
	for range mon.Events() {
		// drain until channel closes
	}
}
