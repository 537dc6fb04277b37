package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facedoor/internal/models"
)

// InsertAccessEvent appends ev to the access log, assigning ID and
// Timestamp when unset.
func (s *PostgresStore) InsertAccessEvent(ctx context.Context, ev *models.AccessEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var vec *pgvector.Vector
	if len(ev.Embedding) > 0 {
		v := pgvector.NewVector(ev.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_events (id, name, label, recognized, distance, confidence, threshold, source, image_url, embedding, door_command_sent, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.Name, ev.Label, ev.Recognized, ev.Distance, ev.Confidence, ev.Threshold,
		ev.Source, ev.ImageURL, vec, ev.DoorCommandSent, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

// ListAccessEvents returns one page of the access log, newest first, and
// the total number of matching events.
func (s *PostgresStore) ListAccessEvents(ctx context.Context, q models.EventQuery) ([]models.AccessEvent, int, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}

	where := "WHERE TRUE"
	var args []any
	argIdx := 1

	if q.Name != "" {
		where += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, q.Name)
		argIdx++
	}
	if q.Recognized != nil {
		where += fmt.Sprintf(" AND recognized = $%d", argIdx)
		args = append(args, *q.Recognized)
		argIdx++
	}
	if q.From != nil {
		where += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *q.From)
		argIdx++
	}
	if q.To != nil {
		where += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *q.To)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM access_events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, name, label, recognized, distance, confidence, threshold, source, image_url, door_command_sent, timestamp
		 FROM access_events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var ev models.AccessEvent
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Label, &ev.Recognized, &ev.Distance, &ev.Confidence,
			&ev.Threshold, &ev.Source, &ev.ImageURL, &ev.DoorCommandSent, &ev.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan access event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("query access events: %w", err)
	}
	return events, total, nil
}
