// Package store persists applied reputation events so CRI state can be
// rebuilt after a restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Renator13/botnode-public/pkg/cri"
)

// Journal is an append-only log of applied reputation events.
type Journal interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, e cri.Event, at time.Time) error
	// Load returns every record in append order.
	Load(ctx context.Context) ([]cri.Record, error)
	Close() error
}

// Listener returns a store listener that appends every applied event to j.
// The write outlives request cancellation; a failed write is logged and does
// not undo the in-memory update.
func Listener(j Journal) cri.Listener {
	logger := slog.Default().With("component", "journal")
	return func(ctx context.Context, u cri.Update) {
		ctx = context.WithoutCancel(ctx)
		if err := j.Append(ctx, u.Event, u.Entry.Timestamp); err != nil {
			logger.ErrorContext(ctx, "journal append failed",
				"node_id", u.Event.NodeID, "transaction_id", u.Event.TransactionID, "error", err)
		}
	}
}

// Replay loads j into s and returns the number of events applied.
func Replay(ctx context.Context, j Journal, s *cri.Store) (int, error) {
	records, err := j.Load(ctx)
	if err != nil {
		return 0, err
	}
	return s.Restore(records), nil
}

// Open picks the journal backend: postgres when databaseURL is set, sqlite
// when sqlitePath is set, none otherwise (nil, nil).
func Open(ctx context.Context, databaseURL, sqlitePath string) (Journal, error) {
	switch {
	case databaseURL != "":
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		j := NewPostgresJournal(db)
		if err := j.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return j, nil
	case sqlitePath != "":
		j, err := OpenSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads the columns selected by the Load queries. applied_at is
// scanned by the caller-provided function since drivers differ.
func scanRecord(row rowScanner, at any) (cri.Record, error) {
	var (
		r     cri.Record
		kind  string
		score sql.NullFloat64
	)
	if err := row.Scan(&r.Seq, &r.Event.NodeID, &r.Event.TransactionID, &r.Event.SkillID,
		&kind, &r.Event.Success, &score, at); err != nil {
		return cri.Record{}, err
	}
	r.Event.Kind = cri.EventKind(kind)
	if score.Valid {
		v := score.Float64
		r.Event.TestScore = &v
	}
	return r, nil
}

func testScore(e cri.Event) sql.NullFloat64 {
	if e.TestScore == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *e.TestScore, Valid: true}
}
