package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// linkStrategy is one way of materializing a stored file under a playlist-
// visible name. Strategies are tried in a fixed order and the first success
// wins.
type linkStrategy struct {
	name string
	fn   func(source, target string) error
}

// linkStrategies is ordered cheapest-first: a symlink keeps the playlist
// folder purely a view, a hardlink shares the inode but survives
// symlink-unaware tools, and a byte copy works across filesystems.
var linkStrategies = []linkStrategy{
	{"symlink", os.Symlink},
	{"hardlink", os.Link},
	{"copy", copyFile},
}

// LinkInto materializes the stored file for hash inside dir under
// displayName, replacing any existing file or link with that name.
func (s *Store) LinkInto(hash, dir, displayName string) error {
	source, err := s.Resolve(hash)
	if err != nil {
		return err
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("source file missing for hash %s: %w", hash, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create playlist folder: %w", err)
	}

	target := filepath.Join(dir, displayName)
	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			s.logger.WithError(err).WithField("target", target).Warn("Failed to remove existing link")
		}
	}

	var lastErr error
	for _, strat := range linkStrategies {
		if err := strat.fn(source, target); err != nil {
			s.logger.WithError(err).WithField("strategy", strat.name).Debug("Link strategy failed, trying next")
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all link strategies failed for %s: %w", displayName, lastErr)
}
