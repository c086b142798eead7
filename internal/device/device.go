// Package device finds removable audio players among mounted filesystems
// and tracks their lifecycle. Detection is marker-first: a device that
// carries our marker file is always recognized, whatever its label says.
package device

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Device describes a detected removable player.
type Device struct {
	MountPoint string  `json:"mount_point"`
	Label      string  `json:"label"`
	TotalBytes uint64  `json:"total_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	Marker     *Marker `json:"marker,omitempty"`
}

// HasMarker reports whether the device carries a sync marker.
func (d *Device) HasMarker() bool {
	return d.Marker != nil
}

// mountEntry is one line of the mount table.
type mountEntry struct {
	device     string
	mountPoint string
}

// Scanner enumerates candidate mount points. The mount table source and
// the removable check are injectable so tests can run without real media.
type Scanner struct {
	NameFragments []string
	logger        *logrus.Logger

	mountPrefixes []string
	listMounts    func() ([]mountEntry, error)
	isRemovable   func(device string) bool
	statfs        func(path string) (total, free uint64, err error)
}

// NewScanner builds a scanner matching device labels against the given
// lowercase name fragments.
func NewScanner(nameFragments []string) *Scanner {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Scanner{
		NameFragments: nameFragments,
		logger:        logger,
		mountPrefixes: []string{"/media/", "/run/media/", "/mnt/", "/Volumes/"},
		listMounts:    readProcMounts,
		isRemovable:   sysBlockRemovable,
		statfs:        statfsUsage,
	}
}

// Scan returns the first recognized device, or nil when none is present.
// Mounts carrying a marker win over label matches, so a renamed device
// that was synced before is still picked up.
func (s *Scanner) Scan() (*Device, error) {
	mounts, err := s.listMounts()
	if err != nil {
		return nil, err
	}

	var labelMatch *Device
	for _, m := range mounts {
		if !s.plausibleMediaMount(m.mountPoint) {
			continue
		}
		if !s.isRemovable(m.device) {
			continue
		}

		d := &Device{
			MountPoint: m.mountPoint,
			Label:      filepath.Base(m.mountPoint),
		}
		if total, free, statErr := s.statfs(m.mountPoint); statErr == nil {
			d.TotalBytes = total
			d.FreeBytes = free
		}

		if marker, markerErr := ReadMarker(m.mountPoint); markerErr == nil && marker != nil {
			d.Marker = marker
			s.logger.WithFields(logrus.Fields{
				"mount":    d.MountPoint,
				"playlist": marker.PlaylistID,
			}).Debug("Found device by marker")
			return d, nil
		}

		if labelMatch == nil && s.matchesLabel(d.Label) {
			labelMatch = d
		}
	}

	return labelMatch, nil
}

func (s *Scanner) matchesLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, fragment := range s.NameFragments {
		if fragment != "" && strings.Contains(lower, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// plausibleMediaMount filters the mount table down to user media mounts.
func (s *Scanner) plausibleMediaMount(mountPoint string) bool {
	for _, prefix := range s.mountPrefixes {
		if strings.HasPrefix(mountPoint, prefix) {
			return true
		}
	}
	return false
}

// readProcMounts parses /proc/mounts into device and mount point pairs.
// Octal escapes in mount paths (spaces become \040) are decoded.
func readProcMounts() ([]mountEntry, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil, err
	}

	var entries []mountEntry
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, mountEntry{
			device:     fields[0],
			mountPoint: unescapeMountPath(fields[1]),
		})
	}
	return entries, nil
}

func unescapeMountPath(path string) string {
	replacer := strings.NewReplacer(
		`\040`, " ",
		`\011`, "\t",
		`\012`, "\n",
		`\134`, `\`,
	)
	return replacer.Replace(path)
}

// sysBlockRemovable consults the kernel's removable flag for the block
// device backing a mount. Unknown devices are treated as removable so
// markers on unusual setups still work.
func sysBlockRemovable(device string) bool {
	name := filepath.Base(device)
	if !strings.HasPrefix(device, "/dev/") {
		return false
	}

	// Partition names like sdb1 map to parent block device sdb.
	base := strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	if base == "" {
		base = name
	}

	data, err := os.ReadFile(filepath.Join("/sys/block", base, "removable"))
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(data)) == "1"
}

func statfsUsage(path string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
