package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/Renator13/botnode-public/pkg/cri"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS cri_events (
	seq BIGSERIAL PRIMARY KEY,
	node_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL DEFAULT '',
	skill_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	test_score DOUBLE PRECISION,
	applied_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cri_events_node_idx ON cri_events (node_id);
`

// PostgresJournal is the durable journal.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (j *PostgresJournal) Init(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("init cri_events: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Append(ctx context.Context, e cri.Event, at time.Time) error {
	query := `
		INSERT INTO cri_events (node_id, transaction_id, skill_id, kind, success, test_score, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := j.db.ExecContext(ctx, query,
		e.NodeID, e.TransactionID, e.SkillID, string(e.Kind), e.Success, testScore(e), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert cri event: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Load(ctx context.Context) ([]cri.Record, error) {
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
		var at time.Time
		r, err := scanRecord(rows, &at)
		if err != nil {
			return nil, err
		}
		r.At = at.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
