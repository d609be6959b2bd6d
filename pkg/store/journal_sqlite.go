package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Renator13/botnode-public/pkg/cri"

	_ "modernc.org/sqlite"
)

// SQLiteJournal is the lite-mode journal kept in a local file.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// sqlite allows one writer; keep appends on a single connection.
	db.SetMaxOpenConns(1)

	j := NewSQLiteJournal(db)
	if err := j.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func NewSQLiteJournal(db *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: db}
}

func (j *SQLiteJournal) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS cri_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		skill_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		success INTEGER NOT NULL,
		test_score REAL,
		applied_at TEXT NOT NULL
	);`
	if _, err := j.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("init cri_events: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Append(ctx context.Context, e cri.Event, at time.Time) error {
	query := `INSERT INTO cri_events (
		node_id, transaction_id, skill_id, kind, success, test_score, applied_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		e.NodeID, e.TransactionID, e.SkillID, string(e.Kind), e.Success, testScore(e),
		at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert cri event: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Load(ctx context.Context) ([]cri.Record, error) {
	query := `
        SELECT seq, node_id, transaction_id, skill_id, kind, success, test_score, applied_at
        FROM cri_events
        ORDER BY seq
    `
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []cri.Record
	for rows.Next() {
		var at string
		r, err := scanRecord(rows, &at)
		if err != nil {
			return nil, err
		}
		r.At = parseTime(at)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
