package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/andresmejia3/visage/internal/status"
	"github.com/andresmejia3/visage/internal/verify"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the PostgreSQL audit journal. Every verdict and every lock
// transition of one watch session is tagged with the same session id.
type Store struct {
	conn    *pgx.Conn
	session uuid.UUID
}

// Event is one journaled lock transition.
type Event struct {
	ID        int64
	Session   uuid.UUID
	From      string
	To        string
	Reason    string
	CreatedAt time.Time
}

// Summary aggregates the verdicts of one session.
type Summary struct {
	Session  uuid.UUID
	Verdicts int
	Matches  int
	Started  time.Time
	Last     time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn, session: uuid.New()}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS verifications (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			outcome TEXT NOT NULL,
			distance DOUBLE PRECISION,
			lock_state TEXT NOT NULL,
			misses INT NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS lock_events (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS verifications_session_idx ON verifications (session_id);
		CREATE INDEX IF NOT EXISTS lock_events_created_idx ON lock_events (created_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Session returns the id stamped on every row this Store writes.
func (s *Store) Session() uuid.UUID {
	return s.session
}

// RecordVerdict stores one verification result. A NaN distance is stored as NULL.
func (s *Store) RecordVerdict(ctx context.Context, res verify.Result, state status.LockStatus, misses int) error {
	var distance *float64
	if !math.IsNaN(res.MinDistance) && !math.IsInf(res.MinDistance, 0) {
		d := res.MinDistance
		distance = &d
	}
	var errText *string
	if res.Err != nil {
		e := res.Err.Error()
		errText = &e
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO verifications (session_id, outcome, distance, lock_state, misses, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.session, res.Outcome.String(), distance, state.String(), misses, errText)
	return err
}

// RecordTransition stores a lock state change.
func (s *Store) RecordTransition(ctx context.Context, from, to status.LockStatus, reason string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO lock_events (session_id, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4)
	`, s.session, from.String(), to.String(), reason)
	return err
}

// ListEvents returns the most recent transitions, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, session_id, from_state, to_state, reason, created_at
		FROM lock_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Session, &e.From, &e.To, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Summarize aggregates verdict counts for a session.
func (s *Store) Summarize(ctx context.Context, session uuid.UUID) (Summary, error) {
	sum := Summary{Session: session}
	var started, last *time.Time
	err := s.conn.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE outcome = $2),
		       MIN(created_at),
		       MAX(created_at)
		FROM verifications
		WHERE session_id = $1
	`, session, verify.OutcomeMatch.String()).Scan(&sum.Verdicts, &sum.Matches, &started, &last)
	if err != nil {
		return Summary{}, err
	}
	if started != nil {
		sum.Started = *started
	}
	if last != nil {
		sum.Last = *last
	}
	return sum, nil
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS verifications CASCADE;
		DROP TABLE IF EXISTS lock_events CASCADE;
	`)
	return err
}
