package store

import (
	"encoding/json"
	"os"

	"driftsync/pkg/models"
)

const indexVersion = "1.0"

// indexDoc is the serialized form of the store index. The document layout is
// shared with existing libraries on disk and must not change shape.
type indexDoc struct {
	Version         string                         `json:"version"`
	Tracks          map[string]*models.StoredTrack `json:"tracks"`
	HashBySpotifyID map[string]string              `json:"hash_by_spotify_id"`
	HashByKey       map[string]string              `json:"hash_by_key"`
}

func defaultIndex() *indexDoc {
	return &indexDoc{
		Version:         indexVersion,
		Tracks:          make(map[string]*models.StoredTrack),
		HashBySpotifyID: make(map[string]string),
		HashByKey:       make(map[string]string),
	}
}

// loadIndex reads the index document from disk. A missing or unparseable
// document yields a fresh empty index; the previous valid state is only ever
// replaced by a complete atomic write, so a corrupt document means the very
// last mutation was lost, not the whole store.
func (s *Store) loadIndex() *indexDoc {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warn("Failed to read storage index")
		}
		return defaultIndex()
	}

	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.WithError(err).Warn("Failed to parse storage index, starting empty")
		return defaultIndex()
	}
	if doc.Version == "" || doc.Tracks == nil {
		s.logger.Warn("Storage index missing required fields, starting empty")
		return defaultIndex()
	}
	if doc.HashBySpotifyID == nil {
		doc.HashBySpotifyID = make(map[string]string)
	}
	if doc.HashByKey == nil {
		doc.HashByKey = make(map[string]string)
	}
	return &doc
}

// saveIndexLocked writes the index atomically (temp file, then rename).
// Callers must hold s.mu.
func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.indexPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
