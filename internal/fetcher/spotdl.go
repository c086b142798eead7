package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"driftsync/internal/config"
	"driftsync/internal/textutil"
	"driftsync/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SpotDL shells out to the spotdl binary for playlist metadata and track
// audio. It implements both Fetcher and Downloader.
type SpotDL struct {
	binaryPath string
	config     *config.Config
	logger     *logrus.Logger
}

// NewSpotDL locates the spotdl binary and returns a client. The configured
// path wins; otherwise common names are tried on PATH.
func NewSpotDL(cfg *config.Config) (*SpotDL, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := &SpotDL{config: cfg, logger: logger}
	if err := s.locateBinary(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SpotDL) locateBinary() error {
	candidates := []string{s.config.Downloader.SpotdlPath, "spotdl", "./spotdl"}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if resolved, err := exec.LookPath(path); err == nil {
			s.binaryPath = resolved
			return nil
		}
	}
	return fmt.Errorf("spotdl not found in PATH. Please install spotdl")
}

// savedSong is one entry of a spotdl save file.
type savedSong struct {
	SongID   string   `json:"song_id"`
	Name     string   `json:"name"`
	Artist   string   `json:"artist"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album_name"`
	URL      string   `json:"url"`
	Duration int      `json:"duration"`
}

// FetchPlaylist runs "spotdl save" and parses the resulting metadata file.
func (s *SpotDL) FetchPlaylist(ctx context.Context, url string) ([]models.RemoteTrack, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}

	saveFile := filepath.Join(os.TempDir(), "driftsync-"+uuid.New().String()+".spotdl")
	defer os.Remove(saveFile)

	ctx, cancel := context.WithTimeout(ctx, s.config.DownloadTimeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binaryPath, "save", url, "--save-file", saveFile)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, classifyError(err, string(output))
	}

	data, err := os.ReadFile(saveFile)
	if err != nil {
		return nil, fmt.Errorf("spotdl produced no metadata file: %w", err)
	}
	return ParsePlaylistMetadata(data)
}

// ParsePlaylistMetadata decodes a spotdl save file into remote tracks.
func ParsePlaylistMetadata(data []byte) ([]models.RemoteTrack, error) {
	var songs []savedSong
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("failed to parse playlist metadata: %w", err)
	}

	tracks := make([]models.RemoteTrack, 0, len(songs))
	for _, song := range songs {
		artist := song.Artist
		if artist == "" && len(song.Artists) > 0 {
			artist = strings.Join(song.Artists, ", ")
		}
		tracks = append(tracks, models.RemoteTrack{
			SpotifyID: song.SongID,
			Title:     textutil.NormalizeText(song.Name),
			Artist:    textutil.NormalizeText(artist),
			Album:     song.Album,
			URL:       song.URL,
			Duration:  song.Duration,
		})
	}
	return tracks, nil
}

// DownloadTrack runs "spotdl download" for one track into destDir and
// returns the path of the produced audio file.
func (s *SpotDL) DownloadTrack(ctx context.Context, track models.RemoteTrack, destDir string) (string, error) {
	url := track.URL
	if url == "" {
		return "", fmt.Errorf("%w: track %q has no url", ErrInvalidURL, track.Title)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.DownloadTimeout())
	defer cancel()

	outputTemplate := filepath.Join(destDir, "{artist} - {title}.{output-ext}")
	cmd := exec.CommandContext(ctx, s.binaryPath, "download", url,
		"--output", outputTemplate,
		"--format", s.config.Downloader.AudioFormat,
		"--bitrate", s.config.Downloader.Bitrate,
	)

	s.logger.WithFields(logrus.Fields{
		"artist": track.Artist,
		"title":  track.Title,
	}).Info("Downloading track")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", classifyError(err, string(output))
	}

	path, err := findAudioFile(destDir)
	if err != nil {
		return "", fmt.Errorf("download reported success but produced no file: %w", err)
	}
	return path, nil
}

// findAudioFile returns the single audio file spotdl left in dir.
func findAudioFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mp3", ".flac", ".wav", ".m4a", ".ogg", ".opus":
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no audio file in %s", dir)
}

// classifyError maps subprocess failures onto the package's error kinds
// using the tool's output text.
func classifyError(err error, output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return fmt.Errorf("%w: %s", ErrPlaylistNotFound, firstLine(output))
	case strings.Contains(lower, "connection") || strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "temporary failure") || strings.Contains(lower, "network"):
		return fmt.Errorf("%w: %s", ErrUnreachable, firstLine(output))
	case strings.Contains(lower, "invalid url") || strings.Contains(lower, "couldn't parse"):
		return fmt.Errorf("%w: %s", ErrInvalidURL, firstLine(output))
	}
	return fmt.Errorf("spotdl failed: %w: %s", err, firstLine(output))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
