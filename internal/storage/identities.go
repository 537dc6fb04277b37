package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facedoor/internal/identity"
)

// Name implements identity.Persister.
func (s *PostgresStore) Name() string { return "postgres" }

// Load implements identity.Persister.
func (s *PostgresStore) Load(ctx context.Context) ([]*identity.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, model, added_at, updated_at, recognition_count, last_recognized
		 FROM identities ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*identity.Identity
	byName := make(map[string]*identity.Identity)
	for rows.Next() {
		id := &identity.Identity{}
		if err := rows.Scan(&id.Name, &id.Model, &id.AddedAt, &id.UpdatedAt,
			&id.RecognitionCount, &id.LastRecognized); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, id)
		byName[id.Name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	vrows, err := s.pool.Query(ctx,
		`SELECT identity_name, label, embedding, image_path, image_url, image_key, added_at
		 FROM identity_variations ORDER BY identity_name, idx`)
	if err != nil {
		return nil, fmt.Errorf("list variations: %w", err)
	}
	defer vrows.Close()

	dim := 0
	for vrows.Next() {
		var (
			name string
			vec  pgvector.Vector
			v    identity.Variation
		)
		if err := vrows.Scan(&name, &v.Label, &vec, &v.Image.Path, &v.Image.URL, &v.Image.Key, &v.AddedAt); err != nil {
			return nil, fmt.Errorf("scan variation: %w", err)
		}
		v.Embedding = vec.Slice()
		if dim == 0 {
			dim = len(v.Embedding)
		}
		if len(v.Embedding) != dim {
			return nil, fmt.Errorf("%w: %s has a %d-d embedding, store is %d-d",
				identity.ErrCorruptStore, name, len(v.Embedding), dim)
		}
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: variation for unknown identity %s", identity.ErrCorruptStore, name)
		}
		id.Variations = append(id.Variations, v)
	}
	if err := vrows.Err(); err != nil {
		return nil, fmt.Errorf("list variations: %w", err)
	}

	for _, id := range out {
		if len(id.Variations) == 0 {
			return nil, fmt.Errorf("%w: identity %s has no variations", identity.ErrCorruptStore, id.Name)
		}
	}
	return out, nil
}

// Save implements identity.Persister. The whole snapshot replaces the
// stored one inside a single transaction.
func (s *PostgresStore) Save(ctx context.Context, snap *identity.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM identities`); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	batch := &pgx.Batch{}
	for pos, id := range snap.Identities() {
		batch.Queue(
			`INSERT INTO identities (name, position, model, added_at, updated_at, recognition_count, last_recognized)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id.Name, pos, id.Model, id.AddedAt, id.UpdatedAt, id.RecognitionCount, nullableTime(id.LastRecognized))
		for idx, v := range id.Variations {
			batch.Queue(
				`INSERT INTO identity_variations (identity_name, idx, label, embedding, image_path, image_url, image_key, added_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				id.Name, idx, v.Label, pgvector.NewVector(v.Embedding), v.Image.Path, v.Image.URL, v.Image.Key, v.AddedAt)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert identities: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
