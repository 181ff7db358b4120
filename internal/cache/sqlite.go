package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parkops/gatebridge/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS offline_cache (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id   TEXT NOT NULL UNIQUE,
	vehicle_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	raw         TEXT NOT NULL,
	attachment  TEXT NOT NULL DEFAULT '',
	args        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	enqueued_at TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	version     INTEGER NOT NULL
);`

// sqliteStore persists cache records so a buffered outage survives a
// process restart.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a sqlite-backed cache at path.
func NewSQLiteStore(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Append(rec models.CacheRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO offline_cache
			(ticket_id, vehicle_id, kind, raw, attachment, args, created_at, enqueued_at, attempts, version)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(ticket_id) DO NOTHING`,
		rec.Event.TicketID, rec.Event.VehicleID, string(rec.Event.Kind), rec.Event.Raw,
		rec.Event.Attachment, rec.Event.Args,
		rec.Event.CreatedAt.Format(time.RFC3339Nano),
		rec.EnqueuedAt.Format(time.RFC3339Nano),
		rec.Attempts, rec.Version,
	)
	return err
}

func (s *sqliteStore) Remove(ticketID string) error {
	_, err := s.db.Exec(`DELETE FROM offline_cache WHERE ticket_id = ?`, ticketID)
	return err
}

func (s *sqliteStore) Has(ticketID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM offline_cache WHERE ticket_id = ?`, ticketID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) List() ([]models.CacheRecord, error) {
	rows, err := s.db.Query(
		`SELECT ticket_id, vehicle_id, kind, raw, attachment, args, created_at, enqueued_at, attempts, version
		 FROM offline_cache ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CacheRecord
	for rows.Next() {
		var rec models.CacheRecord
		var kind, createdAt, enqueuedAt string
		if err := rows.Scan(
			&rec.Event.TicketID, &rec.Event.VehicleID, &kind, &rec.Event.Raw,
			&rec.Event.Attachment, &rec.Event.Args, &createdAt, &enqueuedAt,
			&rec.Attempts, &rec.Version,
		); err != nil {
			return nil, err
		}
		if rec.Version != models.CacheRecordVersion {
			return nil, fmt.Errorf("cache record %s has unsupported version %d", rec.Event.TicketID, rec.Version)
		}
		rec.Event.Kind = models.EventKind(kind)
		rec.Event.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rec.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Bump(ticketID string) error {
	_, err := s.db.Exec(`UPDATE offline_cache SET attempts = attempts + 1 WHERE ticket_id = ?`, ticketID)
	return err
}

func (s *sqliteStore) Len() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_cache`).Scan(&n)
	return n, err
}

func (s *sqliteStore) Close() error { return s.db.Close() }
