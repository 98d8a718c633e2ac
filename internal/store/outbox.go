package store

import (
	"context"
	"fmt"
	"time"
)

type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

func (t *Tx) InsertOutboxEvent(ctx context.Context, e *OutboxEvent) error {
	query := `INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}

	_, err := t.tx.ExecContext(ctx, query,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, string(e.Payload), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// GetUnprocessedEvents returns up to limit unpublished events, oldest first.
func (s *Store) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
	          FROM outbox WHERE processed_at IS NULL ORDER BY created_at LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	events := make([]*OutboxEvent, 0)
	for rows.Next() {
		var (
			e         OutboxEvent
			createdAt timestamp
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.CreatedAt = createdAt.Time
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (s *Store) MarkEventAsProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET processed_at = $1 WHERE id = $2`, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}
