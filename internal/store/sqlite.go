package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
)

const dbFileName = "fieldsync.db"

const schema = `
CREATE TABLE IF NOT EXISTS pending_requests (
	id TEXT PRIMARY KEY,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	payload BLOB,
	enqueued_at INTEGER NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	next_attempt_at INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pending_requests_order ON pending_requests(enqueued_at);
`

// SQLiteStore persists queued requests in a local SQLite database.
// SQLite transactions give the atomicity the queue needs: a crash
// mid-write never corrupts the previously committed list.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the queue database under dataDir.
//
// An unreadable database file is deleted and recreated empty rather than
// blocking the technician from working. This fail-open choice can lose
// unsynced work and is logged as an error when it happens.
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := openAndInit(dbPath)
	if err != nil {
		logging.Error("queue database unreadable, recreating empty", err, "path", dbPath)
		if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to remove corrupt database: %w", rmErr)
		}
		db, err = openAndInit(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func openAndInit(dbPath string) (*sql.DB, error) {
	// Pure Go driver, no CGO.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL mode for durability without blocking readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Append inserts a request at the end of the persisted list.
func (s *SQLiteStore) Append(req *models.QueuedRequest) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_requests
			(id, endpoint, method, payload, enqueued_at, attempt_count, max_attempts, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Endpoint, req.Method, []byte(req.Payload),
		req.EnqueuedAt, req.AttemptCount, req.MaxAttempts, req.NextAttemptAt, req.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to persist request %s: %w", req.ID, err)
	}
	return nil
}

// Update persists the retry bookkeeping of an existing request.
func (s *SQLiteStore) Update(req *models.QueuedRequest) error {
	_, err := s.db.Exec(`
		UPDATE pending_requests
		SET attempt_count = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		req.AttemptCount, req.NextAttemptAt, req.LastError, req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", req.ID, err)
	}
	return nil
}

// Delete removes a request after successful delivery or terminal failure.
func (s *SQLiteStore) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM pending_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete request %s: %w", id, err)
	}
	return nil
}

// Load returns all persisted requests in FIFO enqueue order.
// Individually unreadable rows are skipped with a warning; a failing
// query yields an empty list (fail-open, see Open).
func (s *SQLiteStore) Load() ([]*models.QueuedRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, endpoint, method, payload, enqueued_at, attempt_count, max_attempts, next_attempt_at, last_error
		FROM pending_requests
		ORDER BY enqueued_at, rowid`)
	if err != nil {
		logging.Error("failed to load persisted queue, treating as empty", err)
		return nil, nil
	}
	defer rows.Close()

	var items []*models.QueuedRequest
	for rows.Next() {
		req := &models.QueuedRequest{}
		var payload []byte
		if err := rows.Scan(
			&req.ID, &req.Endpoint, &req.Method, &payload,
			&req.EnqueuedAt, &req.AttemptCount, &req.MaxAttempts, &req.NextAttemptAt, &req.LastError,
		); err != nil {
			logging.Warn("skipping unreadable queue row", "error", err.Error())
			continue
		}
		req.Payload = payload
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		logging.Error("error while reading persisted queue", err)
	}
	return items, nil
}

// Clear removes all persisted requests.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM pending_requests")
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
