// Package store implements content-addressed, reference-counted track
// storage. Files are stored once under a name derived from their content
// hash; playlists hold references, and the backing file is deleted when the
// last reference is released.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"driftsync/internal/textutil"
	"driftsync/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// StorageDir is the content store subtree under the library root.
	StorageDir = ".driftsync/storage"
	// IndexFile is the serialized index document inside StorageDir.
	IndexFile = "storage_index.json"

	hashBlockSize = 64 * 1024
)

// DefaultHashPrefix is the number of hex characters of the SHA-256 digest
// used for storage filenames. At 16 chars (64 bits) the birthday-bound
// collision probability for a library of n tracks is about n^2/2^65, which
// is ~3e-10 for 100,000 tracks. A collision dedups the two files, which is
// the intended behavior for identical audio and an accepted risk otherwise.
const DefaultHashPrefix = 16

// ErrNotFound is returned when a hash has no entry in the index.
var ErrNotFound = errors.New("hash not found in store")

// TrackMeta is the metadata recorded alongside a newly stored file.
type TrackMeta struct {
	Artist    string
	Title     string
	Album     string
	SpotifyID string
	// DurationMS is optional; 0 when the caller did not probe the file.
	DurationMS int64
}

// Store manages the deduplicated storage directory and its index. All
// mutations are serialized by an internal lock; methods are safe for
// concurrent use.
type Store struct {
	root        string // library root
	storagePath string
	indexPath   string
	hashPrefix  int
	logger      *logrus.Logger

	mu    sync.Mutex
	index *indexDoc
}

// New opens (or creates) the content store under the given library root.
func New(libraryRoot string, hashPrefix int) (*Store, error) {
	if hashPrefix <= 0 {
		hashPrefix = DefaultHashPrefix
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	storagePath := filepath.Join(libraryRoot, StorageDir)
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Store{
		root:        libraryRoot,
		storagePath: storagePath,
		indexPath:   filepath.Join(storagePath, IndexFile),
		hashPrefix:  hashPrefix,
		logger:      logger,
	}
	s.index = s.loadIndex()
	return s, nil
}

// ComputeHash streams the file through SHA-256 in fixed-size blocks and
// returns the truncated hex digest used as the storage key.
func (s *Store) ComputeHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:s.hashPrefix], nil
}

// Store places the file at sourcePath into deduplicated storage on behalf of
// ownerID. If the content is already present it only records the new
// reference (idempotently) and returns isNew=false without touching the
// filesystem. The file copy happens before the index lock is taken so a slow
// copy never blocks concurrent index reads.
func (s *Store) Store(sourcePath string, meta TrackMeta, ownerID string) (hash string, isNew bool, err error) {
	hash, err = s.ComputeHash(sourcePath)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", false, fmt.Errorf("failed to stat source file: %w", err)
	}

	storageFile := filepath.Join(s.storagePath, hash+".mp3")

	// Copy to a uniquely named staging file outside the lock, so two
	// concurrent stores of the same content never collide on it. If the
	// hash turns out to be already indexed the staged copy is discarded.
	staged, err := stageCopy(sourcePath, s.storagePath, hash)
	if err != nil {
		return "", false, fmt.Errorf("failed to stage file into storage: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if track, ok := s.index.Tracks[hash]; ok {
		os.Remove(staged)
		if !contains(track.ReferencedBy, ownerID) {
			track.ReferencedBy = append(track.ReferencedBy, ownerID)
			track.ReferenceCount = len(track.ReferencedBy)
			if err := s.saveIndexLocked(); err != nil {
				return "", false, err
			}
		}
		return hash, false, nil
	}

	if err := os.Rename(staged, storageFile); err != nil {
		os.Remove(staged)
		return "", false, fmt.Errorf("failed to place file into storage: %w", err)
	}

	track := &models.StoredTrack{
		Hash:           hash,
		Filename:       hash + ".mp3",
		OriginalName:   filepath.Base(sourcePath),
		SizeBytes:      info.Size(),
		Artist:         orUnknown(meta.Artist),
		Title:          orUnknown(meta.Title),
		Album:          meta.Album,
		SpotifyID:      meta.SpotifyID,
		DurationMS:     meta.DurationMS,
		DownloadedAt:   time.Now().Format(time.RFC3339),
		ReferenceCount: 1,
		ReferencedBy:   []string{ownerID},
	}
	s.index.Tracks[hash] = track

	// Lookup keys derive from the stored record, so insert and release
	// always agree on which entries belong to this hash.
	if track.SpotifyID != "" {
		s.index.HashBySpotifyID[track.SpotifyID] = hash
	}
	s.index.HashByKey[textutil.TrackKey(track.Artist, track.Title)] = hash

	if err := s.saveIndexLocked(); err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// AddReference registers ownerID as a referrer of an already stored hash
// without touching the backing file. Used when a playlist adopts a track
// another playlist downloaded. Adding an existing owner is a no-op.
func (s *Store) AddReference(hash, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.index.Tracks[hash]
	if !ok {
		return ErrNotFound
	}
	if contains(track.ReferencedBy, ownerID) {
		return nil
	}
	track.ReferencedBy = append(track.ReferencedBy, ownerID)
	track.ReferenceCount = len(track.ReferencedBy)
	return s.saveIndexLocked()
}

// Release removes ownerID's reference to the hash. When the last reference
// goes away the backing file and the index entry are deleted under the same
// lock, so the file exists if and only if the reference count is positive.
// Releasing an unknown hash or a non-referencing owner is a no-op.
func (s *Store) Release(hash, ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.index.Tracks[hash]
	if !ok {
		return false
	}

	track.ReferencedBy = remove(track.ReferencedBy, ownerID)
	track.ReferenceCount = len(track.ReferencedBy)

	if track.ReferenceCount > 0 {
		if err := s.saveIndexLocked(); err != nil {
			s.logger.WithError(err).Error("Failed to persist index after release")
		}
		return false
	}

	// Last reference gone: delete file and index entry together.
	storageFile := filepath.Join(s.storagePath, track.Filename)
	if err := os.Remove(storageFile); err != nil && !os.IsNotExist(err) {
		s.logger.WithError(err).WithField("hash", hash).Error("Failed to delete unreferenced track file")
	}

	// A lookup key may have been re-pointed at another hash by a later
	// store of a different byte sequence; only remove entries that still
	// map to the hash going away.
	if track.SpotifyID != "" && s.index.HashBySpotifyID[track.SpotifyID] == hash {
		delete(s.index.HashBySpotifyID, track.SpotifyID)
	}
	if key := textutil.TrackKey(track.Artist, track.Title); s.index.HashByKey[key] == hash {
		delete(s.index.HashByKey, key)
	}
	delete(s.index.Tracks, hash)

	if err := s.saveIndexLocked(); err != nil {
		s.logger.WithError(err).Error("Failed to persist index after delete")
	}
	return true
}

// Resolve returns the on-disk path for a stored hash. The path is derived
// from the index only; a missing backing file is the caller's integrity
// concern (see VerifyIntegrity).
func (s *Store) Resolve(hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.index.Tracks[hash]
	if !ok {
		return "", ErrNotFound
	}
	return filepath.Join(s.storagePath, track.Filename), nil
}

// TrackInfo returns a copy of the index record for a hash.
func (s *Store) TrackInfo(hash string) (models.StoredTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.index.Tracks[hash]
	if !ok {
		return models.StoredTrack{}, ErrNotFound
	}
	out := *track
	out.ReferencedBy = append([]string(nil), track.ReferencedBy...)
	return out, nil
}

// FindBySpotifyID looks up a hash by its Spotify track ID.
func (s *Store) FindBySpotifyID(spotifyID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.index.HashBySpotifyID[spotifyID]
	return hash, ok
}

// FindByKey looks up a hash by normalized artist/title. Empty fields get
// the same substitution applied at store time, so lookups and records
// always produce identical keys.
func (s *Store) FindByKey(artist, title string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.index.HashByKey[textutil.TrackKey(orUnknown(artist), orUnknown(title))]
	return hash, ok
}

// Stats reports deduplication effectiveness. Logical bytes count every
// reference; actual bytes count each stored file once.
func (s *Store) Stats() models.StorageStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.StorageStats
	stats.UniqueTracks = len(s.index.Tracks)
	for _, t := range s.index.Tracks {
		stats.TotalReferences += t.ReferenceCount
		stats.ActualBytes += t.SizeBytes
		stats.LogicalBytes += t.SizeBytes * int64(t.ReferenceCount)
	}
	stats.SavingsBytes = stats.LogicalBytes - stats.ActualBytes
	if stats.LogicalBytes > 0 {
		stats.SavingsPercent = float64(stats.SavingsBytes) / float64(stats.LogicalBytes) * 100
	}
	return stats
}

// IntegrityReport lists index entries whose backing files are present or
// missing on disk.
type IntegrityReport struct {
	ValidCount    int
	MissingCount  int
	MissingHashes []string
}

// VerifyIntegrity checks that every indexed hash still has its backing file.
// Missing files are reported, never repaired here; callers downgrade the
// affected tracks to suspect and re-download or purge them.
func (s *Store) VerifyIntegrity() IntegrityReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report IntegrityReport
	for hash, track := range s.index.Tracks {
		if _, err := os.Stat(filepath.Join(s.storagePath, track.Filename)); err == nil {
			report.ValidCount++
		} else {
			report.MissingCount++
			report.MissingHashes = append(report.MissingHashes, hash)
		}
	}
	return report
}

// CleanupOrphans removes files in the storage directory that no index entry
// references, returning the number removed.
func (s *Store) CleanupOrphans() int {
	s.mu.Lock()
	tracked := make(map[string]bool, len(s.index.Tracks))
	for _, t := range s.index.Tracks {
		tracked[t.Filename] = true
	}
	s.mu.Unlock()

	removed := 0
	entries, err := os.ReadDir(s.storagePath)
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan storage directory for orphans")
		return 0
	}
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".mp3" || tracked[name] {
			continue
		}
		if err := os.Remove(filepath.Join(s.storagePath, name)); err != nil {
			s.logger.WithError(err).WithField("file", name).Error("Failed to remove orphan file")
			continue
		}
		removed++
		s.logger.WithField("file", name).Info("Removed orphan file")
	}
	return removed
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// stageCopy copies src into a fresh staging file in dir and returns its path.
func stageCopy(src, dir, hash string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, hash+"-*.staging")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
