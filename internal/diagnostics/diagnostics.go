// Package diagnostics persists pool/thread lifecycle events to an
// embedded sqlite database and exports prometheus gauges/counters for
// pool size and health. It is pure observability: a nil *Log or *Metrics
// changes nothing about pool/thread behavior, it's just not watched.
//
// Grounded on internal/hooks/event_queue.go's events table schema
// (id, type, data, created_at), trimmed to this module's own event
// vocabulary (spawn, init-failed, respawn, circuit-trip, evict, close).
package diagnostics

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Log persists pool/thread lifecycle events to sqlite.
type Log struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	data TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pool_events_kind ON pool_events(kind);
CREATE INDEX IF NOT EXISTS idx_pool_events_created_at ON pool_events(created_at);
`

// OpenLog opens (or creates) a sqlite database at path and ensures the
// schema exists.
func OpenLog(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Record inserts one lifecycle event. A nil *Log is a no-op so callers
// can wire Record directly as a threadpool.Pool.OnEvent callback
// without a nil-check at every call site.
func (l *Log) Record(kind, detail string) {
	if l == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"detail": detail})
	l.db.Exec(
		`INSERT INTO pool_events (id, kind, data, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), kind, string(payload), time.Now().Unix(),
	)
}

// Recent returns the most recent events, newest first, up to limit.
func (l *Log) Recent(limit int) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT id, kind, data, created_at FROM pool_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var createdAt int64
		var data string
		if err := rows.Scan(&e.ID, &e.Kind, &data, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		json.Unmarshal([]byte(data), &e.Detail)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Event is one recorded pool/thread lifecycle event.
type Event struct {
	ID        string
	Kind      string
	Detail    map[string]string
	CreatedAt time.Time
}
