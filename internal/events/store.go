package events

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/budget-api/internal/db"
)

// PGStore appends events to the domain_events table.
type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) InsertEvent(ctx context.Context, ev Event) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`, ev.ID, ev.Topic, ev.QuoteID, []byte(ev.Payload), ev.OccurredAt)
	return db.Classify("events.insert", err)
}
