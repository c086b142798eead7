package orchestrator

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// History persists finished sync runs to SQLite. The underlying *sql.DB
// is concurrency-safe.
type History struct {
	conn   *sql.DB
	logger *logrus.Logger

	insertRunStmt *sql.Stmt
	recentStmt    *sql.Stmt
}

// RunRecord is one persisted sync run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	PlaylistID string    `json:"playlist_id"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Downloaded int       `json:"downloaded"`
	Reused     int       `json:"reused"`
	Removed    int       `json:"removed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OpenHistory opens (or creates) the run history database at dbPath.
func OpenHistory(dbPath string) (*History, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	h := &History{conn: conn, logger: logger}
	if err := h.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := h.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Sync history initialized")
	return h, nil
}

func (h *History) createTables() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		run_id TEXT PRIMARY KEY,
		playlist_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER DEFAULT 0,
		downloaded INTEGER DEFAULT 0,
		reused INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);`
	if _, err := h.conn.Exec(runsTable); err != nil {
		return err
	}

	index := `CREATE INDEX IF NOT EXISTS idx_sync_runs_playlist ON sync_runs(playlist_id, started_at);`
	_, err := h.conn.Exec(index)
	return err
}

func (h *History) prepareStatements() error {
	var err error
	h.insertRunStmt, err = h.conn.Prepare(`
		INSERT OR REPLACE INTO sync_runs
		(run_id, playlist_id, status, total, downloaded, reused, removed, failed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	h.recentStmt, err = h.conn.Prepare(`
		SELECT run_id, playlist_id, status, total, downloaded, reused, removed, failed,
		       COALESCE(error, ''), started_at, finished_at
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`)
	return err
}

// RecordRun persists a finished run.
func (h *History) RecordRun(p Progress) error {
	_, err := h.insertRunStmt.Exec(
		p.RunID, p.PlaylistID, string(p.Status),
		p.TotalTracks, p.Downloaded, p.Reused, p.Removed, p.Failed,
		p.Error, p.StartedAt, p.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (h *History) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err := h.recentStmt.Query(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.PlaylistID, &r.Status, &r.Total,
			&r.Downloaded, &r.Reused, &r.Removed, &r.Failed,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases prepared statements and the connection.
func (h *History) Close() error {
	if h.insertRunStmt != nil {
		h.insertRunStmt.Close()
	}
	if h.recentStmt != nil {
		h.recentStmt.Close()
	}
	return h.conn.Close()
}
