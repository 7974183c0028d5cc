package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-sec/vigil/internal/database"
)

// ErrNotFound is returned when no event matches the requested id
var ErrNotFound = errors.New("event not found")

// Store persists events and state transitions
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// NewStore creates the event store
func NewStore(db *database.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "event_store"),
	}
}

// Create inserts an event, filling in id and timestamps when missing
func (s *Store) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, event_type, alert_level, person_count, animal_count,
			confidence, message, snapshot_path, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.EventType, event.AlertLevel, event.PersonCount, event.AnimalCount,
		event.Confidence, event.Message, event.SnapshotPath, event.Timestamp.Unix(), event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	s.logger.Debug("Event recorded", "id", event.ID, "type", event.EventType)
	return nil
}

// Get retrieves one event by id
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	event := &Event{}
	var timestamp, createdAt int64
	var confidence sql.NullFloat64
	var message, snapshotPath sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, alert_level, person_count, animal_count,
		       confidence, message, snapshot_path, timestamp, created_at
		FROM events WHERE id = ?
	`, id).Scan(
		&event.ID, &event.EventType, &event.AlertLevel, &event.PersonCount, &event.AnimalCount,
		&confidence, &message, &snapshotPath, &timestamp, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	event.Timestamp = time.Unix(timestamp, 0)
	event.CreatedAt = time.Unix(createdAt, 0)
	if confidence.Valid {
		event.Confidence = confidence.Float64
	}
	if message.Valid {
		event.Message = message.String
	}
	if snapshotPath.Valid {
		event.SnapshotPath = snapshotPath.String
	}
	return event, nil
}

// List retrieves events matching the filters, newest first, together
// with the unpaginated total
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	query := `SELECT id, event_type, alert_level, person_count, animal_count,
	                 confidence, message, snapshot_path, timestamp, created_at
	          FROM events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM events WHERE 1=1`
	args := []interface{}{}

	if opts.EventType != "" {
		query += " AND event_type = ?"
		countQuery += " AND event_type = ?"
		args = append(args, opts.EventType)
	}
	if !opts.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		countQuery += " AND timestamp >= ?"
		args = append(args, opts.StartTime.Unix())
	}
	if !opts.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		countQuery += " AND timestamp <= ?"
		args = append(args, opts.EndTime.Unix())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY timestamp DESC"
	limit := 50
	if opts.Limit > 0 && opts.Limit <= 1000 {
		limit = opts.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var timestamp, createdAt int64
		var confidence sql.NullFloat64
		var message, snapshotPath sql.NullString

		if err := rows.Scan(
			&event.ID, &event.EventType, &event.AlertLevel, &event.PersonCount, &event.AnimalCount,
			&confidence, &message, &snapshotPath, &timestamp, &createdAt,
		); err != nil {
			return nil, 0, err
		}
		event.Timestamp = time.Unix(timestamp, 0)
		event.CreatedAt = time.Unix(createdAt, 0)
		if confidence.Valid {
			event.Confidence = confidence.Float64
		}
		if message.Valid {
			event.Message = message.String
		}
		if snapshotPath.Valid {
			event.SnapshotPath = snapshotPath.String
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// Stats summarizes the event history
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN event_type IN ('person', 'both') THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN event_type IN ('animal', 'both') THEN 1 ELSE 0 END), 0),
		       COALESCE(MAX(timestamp), 0)
		FROM events WHERE event_type != 'state_change'
	`).Scan(&stats.Total, &stats.Persons, &stats.Animals, &last)
	if err != nil {
		return nil, err
	}
	if last > 0 {
		t := time.Unix(last, 0)
		stats.LastDetection = &t
	}
	return stats, nil
}

// RecordTransition persists an alarm state change
func (s *Store) RecordTransition(ctx context.Context, from, to, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_transitions (id, from_state, to_state, reason, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), from, to, reason, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// Transitions lists recent alarm state changes, newest first
func (s *Store) Transitions(ctx context.Context, limit int) ([]*Transition, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_state, to_state, reason, timestamp
		FROM state_transitions ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transitions := []*Transition{}
	for rows.Next() {
		tr := &Transition{}
		var reason sql.NullString
		var timestamp int64
		if err := rows.Scan(&tr.ID, &tr.FromState, &tr.ToState, &reason, &timestamp); err != nil {
			return nil, err
		}
		if reason.Valid {
			tr.Reason = reason.String
		}
		tr.Timestamp = time.Unix(timestamp, 0)
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}
