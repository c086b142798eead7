package library

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the playlists tree and repairs links that were deleted
// or replaced behind the manager's back, e.g. by a file browser.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// StartWatcher begins monitoring every playlist folder. Repair runs are
// debounced per playlist so burst deletes trigger a single pass.
func (m *Manager) StartWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager: m,
		watcher: fw,
		done:    make(chan struct{}),
	}

	if err := fw.Add(filepath.Join(m.root, PlaylistsDir)); err != nil {
		fw.Close()
		return nil, err
	}
	for _, p := range m.Playlists() {
		if err := fw.Add(m.playlistFolder(p.FolderName)); err != nil {
			m.logger.WithError(err).WithField("playlist", p.ID).Warn("Failed to watch playlist folder")
		}
	}

	go w.run()
	m.logger.WithField("root", m.root).Info("Playlist watcher started")
	return w, nil
}

// Stop closes the watcher (idempotent).
func (w *Watcher) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.watcher.Close()
}

func (w *Watcher) run() {
	pending := make(map[string]bool)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if id := w.classify(event); id != "" {
				pending[id] = true
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			}

		case <-fire:
			for id := range pending {
				if repaired, err := w.manager.RepairLinks(id); err == nil && repaired > 0 {
					w.manager.logger.WithField("playlist", id).Info("Restored externally removed links")
				}
				delete(pending, id)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.manager.logger.WithError(err).Error("Playlist watcher error")
		}
	}
}

// classify maps a filesystem event to the playlist it affects, or "" for
// events the watcher does not act on. New playlist folders are added to
// the watch set as a side effect.
func (w *Watcher) classify(event fsnotify.Event) string {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return ""
	}

	parent := filepath.Base(filepath.Dir(event.Name))
	if parent == PlaylistsDir {
		if event.Has(fsnotify.Create) {
			w.watcher.Add(event.Name)
		}
		return ""
	}

	if !strings.HasSuffix(strings.ToLower(name), ".mp3") {
		return ""
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return parent
	}
	return ""
}
