// Package fetcher talks to the external downloader binary. Everything the
// orchestrator needs from the network goes through the two interfaces
// here, so sync logic is testable without a downloader installed.
package fetcher

import (
	"context"
	"errors"

	"driftsync/pkg/models"
)

// Error kinds the orchestrator distinguishes. Anything else is treated as
// a per-track transient failure.
var (
	// ErrPlaylistNotFound means the remote playlist does not exist or is
	// not accessible.
	ErrPlaylistNotFound = errors.New("playlist not found")
	// ErrUnreachable means the remote service could not be contacted.
	ErrUnreachable = errors.New("remote service unreachable")
	// ErrInvalidURL means the given URL is not a playlist URL.
	ErrInvalidURL = errors.New("invalid playlist url")
)

// Fetcher resolves a playlist URL to its current track list.
type Fetcher interface {
	FetchPlaylist(ctx context.Context, url string) ([]models.RemoteTrack, error)
}

// Downloader fetches one track's audio and returns the local file path.
// The file lives in a caller-owned temp directory and is consumed by the
// store; implementations must not reuse paths across calls.
type Downloader interface {
	DownloadTrack(ctx context.Context, track models.RemoteTrack, destDir string) (string, error)
}
