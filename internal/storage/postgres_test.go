package storage

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/models"
)

// setupPostgres starts a pgvector container. It requires Docker and is
// skipped under -short or when Docker is unavailable.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := func() (c *tcpostgres.PostgresContainer, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		return tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
			tcpostgres.WithDatabase("facedoor_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := ConnectPostgres(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPostgresPersister_RoundTrip(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	store, err := identity.Open(ctx, pg)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Snapshot().Len())

	tricky := []float32{-0.1, 1.0 / 3, 12345.678, float32(math.Pi)}
	enroll := func(name, label string, emb []float32) {
		_, err := store.Append(ctx, identity.Enrollment{Name: name, Label: label, Model: "ArcFace", Embedding: emb,
			Image: identity.ImageRef{Path: "data/faces/" + name + ".jpg", Key: "faces/" + name + ".jpg"}}, identity.ModeAppend)
		require.NoError(t, err)
	}
	enroll("Zoe", "default", tricky)
	enroll("Alice", "default", []float32{1, 2, 3, 4})
	enroll("Alice", "glasses", []float32{4, 3, 2, 1})
	require.NoError(t, store.IncrementRecognitionCount(ctx, "Alice"))

	reopened, err := identity.Open(ctx, pg)
	require.NoError(t, err)
	got := reopened.List()
	want := store.List()
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.Equal(t, want[i].RecognitionCount, got[i].RecognitionCount)
		assert.Equal(t, want[i].Labels(), got[i].Labels())
		for j := range want[i].Variations {
			assert.Equal(t, want[i].Variations[j].Embedding, got[i].Variations[j].Embedding)
			assert.Equal(t, want[i].Variations[j].Image, got[i].Variations[j].Image)
		}
	}
	require.NotNil(t, got[1].LastRecognized)
	assert.Nil(t, got[0].LastRecognized)

	ok, err := store.DeleteVariation(ctx, "Alice", "default")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.DeleteIdentity(ctx, "Zoe")
	require.NoError(t, err)
	require.True(t, ok)

	reopened, err = identity.Open(ctx, pg)
	require.NoError(t, err)
	alice, err := reopened.Get("Alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"glasses"}, alice.Labels())
	assert.Equal(t, 1, reopened.Snapshot().Len())
}

func TestAccessEvents(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	alice := "Alice"
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []models.AccessEvent{
		{Name: &alice, Label: "default", Recognized: true, Distance: 0.1, Confidence: 0.85, Threshold: 0.68,
			Source: "camera", Embedding: []float32{1, 0}, DoorCommandSent: true, Timestamp: base},
		{Name: &alice, Recognized: false, Distance: 0.9, Threshold: 0.68, Source: "upload", Timestamp: base.Add(time.Minute)},
		{Recognized: false, Distance: 100, Threshold: 0.68, Source: "upload", Timestamp: base.Add(2 * time.Minute)},
	}
	for i := range events {
		require.NoError(t, pg.InsertAccessEvent(ctx, &events[i]))
	}

	all, total, err := pg.ListAccessEvents(ctx, models.EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Nil(t, all[0].Name, "newest first")
	assert.True(t, all[2].DoorCommandSent)

	recognized := true
	hits, total, err := pg.ListAccessEvents(ctx, models.EventQuery{Name: "Alice", Recognized: &recognized})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, hits, 1)
	assert.Equal(t, events[0].ID, hits[0].ID)

	from := base.Add(30 * time.Second)
	page, total, err := pg.ListAccessEvents(ctx, models.EventQuery{From: &from, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 1)
}
