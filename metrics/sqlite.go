package metrics

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const metricsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	value       REAL NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_run_name ON metrics(run_id, name);
`

// SQLiteRecorder persists metric values to a local sqlite database,
// one row per recorded value, grouped under a run id minted at open
// time. Failures to record are logged and swallowed: metric storage
// must never interrupt a training or embedding step.
type SQLiteRecorder struct {
	db    *sql.DB
	runID string
}

// OpenSQLiteRecorder opens (creating if needed) the metrics database
// at path and registers a new run.
func OpenSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open metrics database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping metrics database: %w", err)
	}

	if _, err := db.Exec(metricsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize metrics schema: %w", err)
	}

	runID := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`, runID, time.Now().UTC()); err != nil {
		db.Close()
		return nil, fmt.Errorf("register metrics run: %w", err)
	}

	return &SQLiteRecorder{db: db, runID: runID}, nil
}

// RunID returns the identifier minted for this recorder's run.
func (r *SQLiteRecorder) RunID() string {
	return r.runID
}

func (r *SQLiteRecorder) Record(name string, value float64) {
	_, err := r.db.Exec(
		`INSERT INTO metrics (run_id, name, value, recorded_at) VALUES (?, ?, ?, ?)`,
		r.runID, name, value, time.Now().UTC(),
	)
	if err != nil {
		slog.Warn("failed to record metric", "name", name, "error", err)
	}
}

// Close checkpoints the WAL and closes the database.
func (r *SQLiteRecorder) Close() error {
	if _, err := r.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		slog.Warn("failed to checkpoint metrics database", "error", err)
	}
	return r.db.Close()
}
