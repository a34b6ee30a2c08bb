package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Dispatch is one journaled command: the confirmed gesture, the link state
// at the time, and whether the bytes reached the port.
type Dispatch struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Tick      uint64    `json:"tick"`
	Gesture   string    `json:"gesture"`
	LinkState string    `json:"link_state"`
	Sent      bool      `json:"sent"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DispatchRepository provides access to the dispatch journal.
type DispatchRepository struct {
	db *sql.DB
}

// Dispatches returns the dispatch repository for this store.
func (s *Store) Dispatches() *DispatchRepository {
	return &DispatchRepository{db: s.db}
}

// Record appends a dispatch to the journal.
func (r *DispatchRepository) Record(d *Dispatch) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO dispatches (id, session_id, tick, gesture, link_state, sent, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, int64(d.Tick), d.Gesture, d.LinkState, d.Sent, d.Error, d.CreatedAt,
	)
	return err
}

// ListBySession returns a session's dispatches in tick order.
func (r *DispatchRepository) ListBySession(sessionID string) ([]*Dispatch, error) {
	return r.query(
		`SELECT id, session_id, tick, gesture, link_state, sent, error, created_at
		 FROM dispatches WHERE session_id = ? ORDER BY tick`,
		sessionID,
	)
}

// Recent returns the newest dispatches across all sessions, newest first.
func (r *DispatchRepository) Recent(limit int) ([]*Dispatch, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(
		`SELECT id, session_id, tick, gesture, link_state, sent, error, created_at
		 FROM dispatches ORDER BY created_at DESC, tick DESC LIMIT ?`,
		limit,
	)
}

// CountBySession returns the number of dispatches recorded for a session.
func (r *DispatchRepository) CountBySession(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM dispatches WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (r *DispatchRepository) query(q string, args ...any) ([]*Dispatch, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dispatches []*Dispatch
	for rows.Next() {
		d := &Dispatch{}
		var tick int64
		var sent int
		if err := rows.Scan(&d.ID, &d.SessionID, &tick, &d.Gesture, &d.LinkState, &sent, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Tick = uint64(tick)
		d.Sent = sent != 0
		dispatches = append(dispatches, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return dispatches, nil
}
