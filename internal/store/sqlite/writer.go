// Package sqlite persists the gap lifecycle for offline analysis: a gaps
// table upserted by gap identity (current state) and an append-only
// gap_events log. Single writer with transaction batching, WAL journal.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fvg-enginev1/internal/model"
)

const (
	defaultBatchSize  = 64
	defaultFlushDelay = 500 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/fvg.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gaps (
			id                      TEXT    PRIMARY KEY,
			symbol                  TEXT    NOT NULL,
			tf                      INTEGER NOT NULL,
			direction               TEXT    NOT NULL,
			upper                   REAL    NOT NULL,
			lower                   REAL    NOT NULL,
			formed_at               INTEGER NOT NULL,
			state                   TEXT    NOT NULL,
			mitigation_started_at   INTEGER,
			mitigation_completed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_gaps_stream ON gaps (symbol, tf, formed_at);

		CREATE TABLE IF NOT EXISTS gap_events (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			gap_id  TEXT    NOT NULL,
			type    TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			state   TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_gap_events_gap ON gap_events (gap_id, seq);
	`)
	return err
}

// Run consumes gap events and writes them in batched transactions.
// Flushes every batchSize events OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or eventCh is closed.
func (w *Writer) Run(ctx context.Context, eventCh <-chan model.GapEvent) {
	batch := make([]model.GapEvent, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d gap events in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-eventCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch upserts current gap state and appends to the event log in a
// single transaction.
func (w *Writer) insertBatch(events []model.GapEvent) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	gapStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO gaps
			(id, symbol, tf, direction, upper, lower, formed_at, state,
			 mitigation_started_at, mitigation_completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer gapStmt.Close()

	evStmt, err := tx.Prepare(`
		INSERT INTO gap_events (gap_id, type, ts, state) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer evStmt.Close()

	for i := range events {
		ev := &events[i]
		g := &ev.Gap

		var startedAt, completedAt interface{}
		if !g.MitigationStartedAt.IsZero() {
			startedAt = g.MitigationStartedAt.Unix()
		}
		if !g.MitigationCompletedAt.IsZero() {
			completedAt = g.MitigationCompletedAt.Unix()
		}

		if _, err := gapStmt.Exec(
			g.ID(), g.Symbol, g.TF, string(g.Direction), g.Upper, g.Lower,
			g.FormedAt.Unix(), string(g.State), startedAt, completedAt,
		); err != nil {
			tx.Rollback()
			return err
		}

		if _, err := evStmt.Exec(g.ID(), string(ev.Type), ev.TS.Unix(), string(g.State)); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// CountGaps returns the number of stored gaps for one stream. Used by
// startup logging and tests.
func (w *Writer) CountGaps(symbol string, tf int) (int, error) {
	var n int
	err := w.db.QueryRow(
		`SELECT COUNT(*) FROM gaps WHERE symbol = ? AND tf = ?`,
		symbol, tf,
	).Scan(&n)
	return n, err
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
