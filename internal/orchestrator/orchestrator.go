// Package orchestrator drives sync runs: it fetches the remote playlist,
// diffs it against local state, downloads what is missing and keeps the
// store, manifests and device in agreement. One run at a time; tracks are
// processed sequentially and a failed track never aborts the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/fetcher"
	"driftsync/internal/library"
	"driftsync/internal/metaprobe"
	"driftsync/internal/reconcile"
	"driftsync/internal/store"
	"driftsync/internal/textutil"
	"driftsync/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSyncActive is returned when a run is requested while another is in
// flight.
var ErrSyncActive = errors.New("a sync run is already active")

// Orchestrator coordinates a sync run across the other components.
type Orchestrator struct {
	cfg        *config.Config
	storage    *store.Store
	lib        *library.Manager
	fetch      fetcher.Fetcher
	downloader fetcher.Downloader
	prober     *metaprobe.Prober
	history    *History
	logger     *logrus.Logger

	mu       sync.Mutex
	active   bool
	cancelFn context.CancelFunc

	progress progressTracker
}

// New wires an orchestrator. history may be nil when run persistence is
// not wanted (tests).
func New(cfg *config.Config, storage *store.Store, lib *library.Manager,
	fetch fetcher.Fetcher, downloader fetcher.Downloader, history *History) *Orchestrator {

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Orchestrator{
		cfg:        cfg,
		storage:    storage,
		lib:        lib,
		fetch:      fetch,
		downloader: downloader,
		prober:     metaprobe.NewProber(nil),
		history:    history,
		logger:     logger,
	}
}

// Progress returns a snapshot of the current (or last) run.
func (o *Orchestrator) Progress() Progress {
	return o.progress.snapshot()
}

// Cancel requests cooperative cancellation of the active run. The run
// finishes its current track and then stops. No-op when idle.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active && o.cancelFn != nil {
		o.cancelFn()
	}
}

// PreviewSync fetches the remote playlist and diffs it against the local
// manifest without changing anything. It does not take the run slot, so a
// preview may be computed while a sync is active.
func (o *Orchestrator) PreviewSync(ctx context.Context, playlistID string) (reconcile.PlaylistDiff, error) {
	playlist, err := o.lib.Playlist(playlistID)
	if err != nil {
		return reconcile.PlaylistDiff{}, err
	}
	remote, err := o.fetch.FetchPlaylist(ctx, playlist.SpotifyURL)
	if err != nil {
		return reconcile.PlaylistDiff{}, err
	}
	manifest, err := o.lib.Tracks(playlistID)
	if err != nil {
		return reconcile.PlaylistDiff{}, err
	}
	folder := o.lib.PlaylistFolder(playlist.FolderName)
	return reconcile.ComparePlaylist(remote, manifest, folder, o.cfg.Sync.MinValidFileSize), nil
}

// SyncPlaylist runs a full sync for one playlist and returns the final
// progress. Only one run may be active at a time.
func (o *Orchestrator) SyncPlaylist(ctx context.Context, playlistID string) (Progress, error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return Progress{}, ErrSyncActive
	}
	o.active = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancelFn = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.active = false
		o.cancelFn = nil
		o.mu.Unlock()
	}()

	runID := uuid.New().String()
	o.progress.reset(runID, playlistID, 0)

	final, err := o.run(runCtx, runID, playlistID)
	if o.history != nil {
		if recErr := o.history.RecordRun(final); recErr != nil {
			o.logger.WithError(recErr).Warn("Failed to record sync run")
		}
	}
	return final, err
}

func (o *Orchestrator) run(ctx context.Context, runID, playlistID string) (Progress, error) {
	log := o.logger.WithFields(logrus.Fields{"run_id": runID, "playlist": playlistID})

	playlist, err := o.lib.Playlist(playlistID)
	if err != nil {
		return o.fail(err), err
	}

	o.progress.update(func(p *Progress) { p.Phase = "fetching playlist" })
	remote, err := o.fetch.FetchPlaylist(ctx, playlist.SpotifyURL)
	if err != nil {
		log.WithError(err).Error("Playlist fetch failed")
		return o.fail(err), err
	}

	manifest, err := o.lib.Tracks(playlistID)
	if err != nil {
		return o.fail(err), err
	}

	folder := o.lib.PlaylistFolder(playlist.FolderName)
	diff := reconcile.ComparePlaylist(remote, manifest, folder, o.cfg.Sync.MinValidFileSize)

	log.WithFields(logrus.Fields{
		"remote":   len(remote),
		"new":      len(diff.New),
		"existing": len(diff.Existing),
		"suspect":  len(diff.Suspect),
		"removed":  len(diff.Removed),
	}).Info("Playlist reconciled")

	o.checkStorageHeadroom(diff, log)

	if o.cfg.Sync.AutoDeleteRemoved {
		o.progress.update(func(p *Progress) { p.Phase = "removing tracks" })
		for _, t := range diff.Removed {
			if err := o.lib.RemoveTrack(playlistID, t); err != nil {
				log.WithError(err).WithField("title", t.Title).Warn("Failed to remove track")
				continue
			}
			o.progress.update(func(p *Progress) { p.Removed++ })
		}
	}

	work := o.buildWorkList(remote, diff)
	o.progress.update(func(p *Progress) {
		p.Phase = "downloading"
		p.TotalTracks = len(work)
	})

	for i, track := range work {
		// Cancellation is checked between tracks only; an in-flight
		// download is allowed to finish.
		if ctx.Err() != nil {
			log.Info("Sync cancelled")
			return o.finish(StatusCancelled), nil
		}

		o.progress.update(func(p *Progress) {
			p.CurrentIndex = i + 1
			p.CurrentTrack = track.Artist + " - " + track.Title
			p.TrackState = TrackDownloading
		})

		if err := o.processTrack(ctx, playlistID, track); err != nil {
			if ctx.Err() != nil {
				return o.finish(StatusCancelled), nil
			}
			log.WithError(err).WithFields(logrus.Fields{
				"artist": track.Artist,
				"title":  track.Title,
			}).Error("Track failed")
			o.progress.update(func(p *Progress) {
				p.Failed++
				p.TrackState = TrackFailed
				p.Failures = append(p.Failures, TrackFailure{
					SpotifyID: track.SpotifyID,
					Artist:    track.Artist,
					Title:     track.Title,
					Reason:    err.Error(),
				})
			})
		}
	}

	if err := o.lib.TouchSync(playlistID); err != nil {
		log.WithError(err).Warn("Failed to stamp sync time")
	}

	final := o.finish(StatusCompleted)
	log.WithFields(logrus.Fields{
		"downloaded": final.Downloaded,
		"reused":     final.Reused,
		"failed":     final.Failed,
		"removed":    final.Removed,
	}).Info("Sync run finished")
	return final, nil
}

// buildWorkList merges new tracks with the remote counterparts of suspect
// entries, so a track whose file went missing is re-fetched with a valid
// download URL.
func (o *Orchestrator) buildWorkList(remote []models.RemoteTrack, diff reconcile.PlaylistDiff) []models.RemoteTrack {
	work := append([]models.RemoteTrack(nil), diff.New...)

	byID := make(map[string]models.RemoteTrack, len(remote))
	byKey := make(map[string]models.RemoteTrack, len(remote))
	for _, r := range remote {
		if r.SpotifyID != "" {
			byID[r.SpotifyID] = r
		}
		byKey[textutil.TrackKey(r.Artist, r.Title)] = r
	}

	for _, s := range diff.Suspect {
		if r, ok := byID[s.SpotifyID]; ok && s.SpotifyID != "" {
			work = append(work, r)
			continue
		}
		if r, ok := byKey[textutil.TrackKey(s.Artist, s.Title)]; ok {
			work = append(work, r)
		}
	}
	return work
}

// processTrack gets one remote track into the playlist, via the store
// when its content is already there, via download otherwise.
func (o *Orchestrator) processTrack(ctx context.Context, playlistID string, track models.RemoteTrack) error {
	// Dedup short-circuit: content some other playlist already holds is
	// attached by reference, no network involved.
	if hash, ok := o.findStored(track); ok {
		if _, err := o.lib.AttachStored(playlistID, hash); err == nil {
			o.progress.update(func(p *Progress) {
				p.Reused++
				p.TrackState = TrackReused
			})
			return nil
		}
		// Attach failing falls through to a fresh download.
	}

	tempDir, err := os.MkdirTemp("", "driftsync-dl-"+uuid.New().String()[:8])
	if err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	path, err := o.downloader.DownloadTrack(ctx, track, tempDir)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("downloaded file missing: %w", err)
	}
	if info.Size() < o.cfg.Sync.MinValidFileSize {
		return fmt.Errorf("downloaded file too small (%d bytes), likely truncated", info.Size())
	}

	meta := store.TrackMeta{
		Artist:    track.Artist,
		Title:     track.Title,
		Album:     track.Album,
		SpotifyID: track.SpotifyID,
	}
	if probed, probeErr := o.prober.Probe(path); probeErr == nil {
		meta.DurationMS = int64(probed.DurationSeconds) * 1000
		if meta.Album == "" {
			meta.Album = probed.Album
		}
	}

	if _, err := o.lib.AddTrack(playlistID, path, meta); err != nil {
		return err
	}

	o.progress.update(func(p *Progress) {
		p.Downloaded++
		p.TrackState = TrackDownloaded
	})
	return nil
}

func (o *Orchestrator) findStored(track models.RemoteTrack) (string, bool) {
	if track.SpotifyID != "" {
		if hash, ok := o.storage.FindBySpotifyID(track.SpotifyID); ok {
			return hash, true
		}
	}
	return o.storage.FindByKey(track.Artist, track.Title)
}

// checkStorageHeadroom warns when the projected download volume pushes
// the store past its configured limit. The run proceeds; the limit is
// advisory.
func (o *Orchestrator) checkStorageHeadroom(diff reconcile.PlaylistDiff, log *logrus.Entry) {
	limit := o.cfg.StorageLimitBytes()
	if limit <= 0 {
		return
	}
	projected := o.storage.Stats().ActualBytes + int64(diff.EstimatedDownloadMB()*1024*1024)
	if projected > limit {
		log.WithFields(logrus.Fields{
			"projected_bytes": projected,
			"limit_bytes":     limit,
		}).Warn("Projected storage use exceeds configured limit")
	}
}

func (o *Orchestrator) fail(err error) Progress {
	o.progress.update(func(p *Progress) {
		p.Status = StatusError
		p.Error = err.Error()
		p.FinishedAt = time.Now()
	})
	return o.progress.snapshot()
}

func (o *Orchestrator) finish(status RunStatus) Progress {
	o.progress.update(func(p *Progress) {
		p.Status = status
		p.Phase = "done"
		p.CurrentTrack = ""
		p.FinishedAt = time.Now()
	})
	return o.progress.snapshot()
}
