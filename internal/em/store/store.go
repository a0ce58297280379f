// Package store persists detection events in a sqlite database. Each event
// keeps its sparse hit list and its ground-truth incidence offsets; events
// are returned in insertion order so dataset splits are reproducible.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/empix-data/empix/internal/em"
)

type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the event database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			x_inc DOUBLE NOT NULL,
			y_inc DOUBLE NOT NULL,
			created TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS hits (
			event_id INTEGER NOT NULL,
			pix_row INTEGER NOT NULL,
			pix_col INTEGER NOT NULL,
			counts DOUBLE NOT NULL,
			FOREIGN KEY(event_id) REFERENCES events(event_id)
		);
		CREATE INDEX IF NOT EXISTS hits_by_event ON hits(event_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create event schema: %w", err)
	}

	return &Store{db}, nil
}

// PutEvent stores one event and returns its assigned ID. The incoming
// event's ID field is ignored.
func (s *Store) PutEvent(ctx context.Context, ev em.Event) (int64, error) {
	ids, err := s.PutEvents(ctx, []em.Event{ev})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// PutEvents stores a batch of events in one transaction and returns their
// assigned IDs in order.
func (s *Store) PutEvents(ctx context.Context, evs []em.Event) ([]int64, error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insEvent, err := tx.PrepareContext(ctx, "INSERT INTO events (x_inc, y_inc) VALUES (?, ?)")
	if err != nil {
		return nil, err
	}
	defer insEvent.Close()
	insHit, err := tx.PrepareContext(ctx, "INSERT INTO hits (event_id, pix_row, pix_col, counts) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer insHit.Close()

	ids := make([]int64, 0, len(evs))
	for _, ev := range evs {
		res, err := insEvent.ExecContext(ctx, ev.XInc, ev.YInc)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		for _, h := range ev.Hits {
			if _, err := insHit.ExecContext(ctx, id, h.Row, h.Col, h.Counts); err != nil {
				return nil, fmt.Errorf("insert hit for event %d: %w", id, err)
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

// Event loads a single event by ID.
func (s *Store) Event(ctx context.Context, id int64) (em.Event, error) {
	ev := em.Event{ID: id}
	err := s.QueryRowContext(ctx, "SELECT x_inc, y_inc FROM events WHERE event_id = ?", id).
		Scan(&ev.XInc, &ev.YInc)
	if err == sql.ErrNoRows {
		return em.Event{}, fmt.Errorf("event %d not found", id)
	}
	if err != nil {
		return em.Event{}, err
	}

	rows, err := s.QueryContext(ctx,
		"SELECT pix_row, pix_col, counts FROM hits WHERE event_id = ? ORDER BY rowid", id)
	if err != nil {
		return em.Event{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var h em.PixelHit
		if err := rows.Scan(&h.Row, &h.Col, &h.Counts); err != nil {
			return em.Event{}, err
		}
		ev.Hits = append(ev.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return em.Event{}, err
	}
	return ev, nil
}

// Range loads events [start, end) by insertion order, zero-based. end past
// the last event is clamped; an empty window returns no events.
func (s *Store) Range(ctx context.Context, start, end int) ([]em.Event, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid event range [%d, %d)", start, end)
	}
	if end == start {
		return nil, nil
	}

	rows, err := s.QueryContext(ctx,
		"SELECT event_id, x_inc, y_inc FROM events ORDER BY event_id LIMIT ? OFFSET ?",
		end-start, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []em.Event
	for rows.Next() {
		var ev em.Event
		if err := rows.Scan(&ev.ID, &ev.XInc, &ev.YInc); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Second pass for hits keeps the events query simple; ranges are read
	// once per epoch so the extra round trips are cheap.
	for i := range events {
		full, err := s.Event(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Hits = full.Hits
	}
	return events, nil
}
