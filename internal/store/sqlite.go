package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS manifest_entries (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id         TEXT NOT NULL,
	scenario_id      TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	signal_path      TEXT,
	message          TEXT,
	trigger_time     REAL,
	failure_category TEXT,
	attempts         INTEGER NOT NULL,
	samples          INTEGER NOT NULL DEFAULT 0,
	entry_json       TEXT NOT NULL,
	recorded_at      TEXT NOT NULL,
	UNIQUE (batch_id, scenario_id)
);

CREATE INDEX IF NOT EXISTS idx_manifest_outcome ON manifest_entries (batch_id, outcome);
`

// SQLiteManifest indexes manifest entries in a SQLite database so batches can
// be queried by outcome.
type SQLiteManifest struct {
	db *sql.DB
}

// OpenSQLiteManifest opens a SQLite database and runs migrations.
func OpenSQLiteManifest(path string) (*SQLiteManifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma sync: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteManifest{db: db}, nil
}

// Append implements ManifestSink.
func (s *SQLiteManifest) Append(ctx context.Context, e types.ManifestEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding manifest entry: %w", err)
	}
	var trig sql.NullFloat64
	if e.TriggerTime != nil {
		trig = sql.NullFloat64{Float64: *e.TriggerTime, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO manifest_entries
			(batch_id, scenario_id, outcome, signal_path, message, trigger_time,
			 failure_category, attempts, samples, entry_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.BatchID, e.ScenarioID, string(e.Outcome), e.SignalPath, e.Message, trig,
		string(e.FailureCategory), e.Attempts, e.Samples, string(data),
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, entryKey(e))
		}
		return fmt.Errorf("inserting manifest entry: %w", err)
	}
	return nil
}

// Entries returns the entries of a batch in append order.
func (s *SQLiteManifest) Entries(ctx context.Context, batchID string) ([]types.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_json FROM manifest_entries WHERE batch_id = ? ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	var out []types.ManifestEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var e types.ManifestEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// CountByOutcome tallies the entries of a batch by outcome.
func (s *SQLiteManifest) CountByOutcome(ctx context.Context, batchID string) (map[types.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM manifest_entries WHERE batch_id = ? GROUP BY outcome`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[types.Outcome(outcome)] = n
	}
	return out, rows.Err()
}

// Batches lists batch ids, most recent first.
func (s *SQLiteManifest) Batches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id FROM manifest_entries GROUP BY batch_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close implements ManifestSink.
func (s *SQLiteManifest) Close() error {
	return s.db.Close()
}
