// Package service assembles the application: config, store, library,
// downloader, orchestrator, sync history and the device monitor, with a
// single lifecycle for startup and shutdown.
package service

import (
	"context"
	"fmt"
	"path/filepath"

	"driftsync/internal/config"
	"driftsync/internal/device"
	"driftsync/internal/fetcher"
	"driftsync/internal/library"
	"driftsync/internal/orchestrator"
	"driftsync/internal/reconcile"
	"driftsync/internal/store"

	"github.com/sirupsen/logrus"
)

// SyncService owns every long-lived component of the application.
type SyncService struct {
	config       *config.Config
	storage      *store.Store
	library      *library.Manager
	orchestrator *orchestrator.Orchestrator
	history      *orchestrator.History
	monitor      *device.Monitor
	watcher      *library.Watcher
	logger       *logrus.Logger

	cancelMonitor context.CancelFunc
}

// New builds the service from configuration. The spotdl binary must be
// installed; everything else is created on demand.
func New(cfg *config.Config) (*SyncService, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	storage, err := store.New(cfg.Library.OutputRoot, cfg.Storage.HashPrefixLength)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	lib, err := library.NewManager(cfg.Library.OutputRoot, storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize library: %w", err)
	}

	// A pre-dedup library has one flat manifest at the root; fold it into
	// the current layout before anything else touches it.
	if result, migErr := lib.MigrateV1IfNeeded(); migErr != nil {
		logger.WithError(migErr).Warn("Library migration failed")
	} else if result != nil {
		logger.WithFields(logrus.Fields{
			"playlist": result.PlaylistID,
			"tracks":   result.TracksMigrated,
			"warnings": len(result.Warnings),
		}).Info("Migrated flat library layout")
	}

	spotdl, err := fetcher.NewSpotDL(cfg)
	if err != nil {
		return nil, err
	}

	historyPath := cfg.Library.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(cfg.Library.OutputRoot, library.LibraryDir, "history.db")
	}
	history, err := orchestrator.OpenHistory(historyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync history: %w", err)
	}

	s := &SyncService{
		config:       cfg,
		storage:      storage,
		library:      lib,
		orchestrator: orchestrator.New(cfg, storage, lib, spotdl, spotdl, history),
		history:      history,
		logger:       logger,
	}
	return s, nil
}

// Start launches the background pieces: the device monitor and, when
// configured, the playlist folder watcher.
func (s *SyncService) Start(ctx context.Context) error {
	monitorCtx, cancel := context.WithCancel(ctx)
	s.cancelMonitor = cancel

	scanner := device.NewScanner(s.config.Device.NameFragments)
	s.monitor = device.NewMonitor(scanner, s.config.DevicePollInterval())
	s.monitor.Start(monitorCtx)

	if s.config.Storage.WatchPlaylists {
		watcher, err := s.library.StartWatcher()
		if err != nil {
			s.logger.WithError(err).Warn("Playlist watcher unavailable")
		} else {
			s.watcher = watcher
		}
	}

	s.logger.WithField("library", s.config.Library.OutputRoot).Info("Sync service started")
	return nil
}

// Stop shuts down background components and closes the history database.
func (s *SyncService) Stop() {
	if s.cancelMonitor != nil {
		s.cancelMonitor()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close history database")
		}
	}
	s.logger.Info("Sync service stopped")
}

// Library exposes playlist management.
func (s *SyncService) Library() *library.Manager {
	return s.library
}

// Storage exposes the content store.
func (s *SyncService) Storage() *store.Store {
	return s.storage
}

// Orchestrator exposes sync and device operations.
func (s *SyncService) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}

// History exposes persisted sync runs.
func (s *SyncService) History() *orchestrator.History {
	return s.history
}

// PreviewSync fetches a playlist and reports what a sync would do,
// without downloading or deleting anything.
func (s *SyncService) PreviewSync(ctx context.Context, playlistID string) (reconcile.PlaylistDiff, error) {
	return s.orchestrator.PreviewSync(ctx, playlistID)
}

// CheckIntegrity audits the content store against its index.
func (s *SyncService) CheckIntegrity() store.IntegrityReport {
	return s.storage.VerifyIntegrity()
}

// CleanupOrphans removes stored files no playlist references anymore and
// returns how many were reclaimed.
func (s *SyncService) CleanupOrphans() int {
	return s.storage.CleanupOrphans()
}

// RepairPlaylist re-creates missing playlist links from the store and
// refreshes the playlist's size figures.
func (s *SyncService) RepairPlaylist(playlistID string) (int, error) {
	repaired, err := s.library.RepairLinks(playlistID)
	if err != nil {
		return repaired, err
	}
	return repaired, s.library.RefreshStats(playlistID)
}

// DeviceEvents returns the monitor's event stream. Valid after Start.
func (s *SyncService) DeviceEvents() <-chan device.Event {
	return s.monitor.Events()
}

// CurrentDevice scans for a connected device right now, outside the
// monitor's polling cadence.
func (s *SyncService) CurrentDevice() (*device.Device, error) {
	return device.NewScanner(s.config.Device.NameFragments).Scan()
}
