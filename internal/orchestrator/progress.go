package orchestrator

import (
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
	StatusError     RunStatus = "error"
)

// TrackStatus is the per-track state within a run.
type TrackStatus string

const (
	TrackPending     TrackStatus = "pending"
	TrackDownloading TrackStatus = "downloading"
	TrackDownloaded  TrackStatus = "downloaded"
	TrackReused      TrackStatus = "reused"
	TrackFailed      TrackStatus = "failed"
)

// TrackFailure records one track that could not be processed. The run
// continues past failures; the list is reported at the end.
type TrackFailure struct {
	SpotifyID string `json:"spotify_id,omitempty"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Reason    string `json:"reason"`
}

// Progress is a point-in-time snapshot of a sync run.
type Progress struct {
	RunID      string    `json:"run_id"`
	PlaylistID string    `json:"playlist_id"`
	Status     RunStatus `json:"status"`
	Phase      string    `json:"phase"`

	TotalTracks  int         `json:"total_tracks"`
	CurrentIndex int         `json:"current_index"`
	CurrentTrack string      `json:"current_track"`
	TrackState   TrackStatus `json:"track_state"`

	Downloaded int            `json:"downloaded"`
	Reused     int            `json:"reused"`
	Removed    int            `json:"removed"`
	Failed     int            `json:"failed"`
	Failures   []TrackFailure `json:"failures,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// progressTracker guards the run snapshot. Readers get copies, never the
// live struct.
type progressTracker struct {
	mu sync.RWMutex
	p  Progress
}

func (t *progressTracker) snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.p
	out.Failures = append([]TrackFailure(nil), t.p.Failures...)
	return out
}

func (t *progressTracker) update(fn func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
}

func (t *progressTracker) reset(runID, playlistID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = Progress{
		RunID:       runID,
		PlaylistID:  playlistID,
		Status:      StatusRunning,
		Phase:       "starting",
		TotalTracks: total,
		StartedAt:   time.Now(),
	}
}
