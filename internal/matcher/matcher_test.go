package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facedoor/internal/distance"
	"github.com/your-org/facedoor/internal/identity"
)

type staticSource struct {
	snap *identity.Snapshot
}

func (s staticSource) Snapshot() *identity.Snapshot { return s.snap }

type countingCounter struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (c *countingCounter) IncrementRecognitionCount(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	return c.err
}

func ident(name string, vars ...identity.Variation) *identity.Identity {
	return &identity.Identity{Name: name, Model: "ArcFace", Variations: vars}
}

func variation(label string, emb ...float32) identity.Variation {
	return identity.Variation{Label: label, Embedding: emb}
}

func source(ids ...*identity.Identity) staticSource {
	return staticSource{snap: identity.NewSnapshot(ids)}
}

var cosineCfg = Config{Model: "ArcFace", Metric: distance.Cosine, TopN: 3}

func TestRecognize_EmptyStore(t *testing.T) {
	counter := &countingCounter{}
	m := New(source(), counter, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, cosineCfg)
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.False(t, res.HasCandidate())
	assert.Empty(t, res.Name)
	assert.Equal(t, 100.0, res.Distance)
	assert.Equal(t, 0.68, res.Threshold)
	assert.Empty(t, counter.names)
}

func TestRecognize_ExactMatch(t *testing.T) {
	probe := []float32{0.3, -0.2, 0.9, 0.1}
	for _, metric := range distance.Metrics {
		t.Run(string(metric), func(t *testing.T) {
			counter := &countingCounter{}
			m := New(source(
				ident("Bob", variation("default", 1, 1, 1, 1)),
				ident("Alice", variation("default", -1, 0, 0, 0), variation("glasses", probe...)),
			), counter, nil, nil)

			res, err := m.Recognize(context.Background(), append([]float32(nil), probe...), Config{Model: "ArcFace", Metric: metric})
			require.NoError(t, err)
			assert.True(t, res.Recognized)
			assert.Equal(t, "Alice", res.Name)
			assert.Equal(t, "glasses", res.Label)
			assert.Equal(t, 0.0, res.Distance)
			assert.Equal(t, 1.0, res.Confidence)
			assert.Equal(t, []string{"Alice"}, counter.names)
		})
	}
}

func TestRecognize_BestVariationPerIdentity(t *testing.T) {
	m := New(source(
		ident("Alice", variation("far", 0, 1), variation("near", 1, 0.1)),
	), nil, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, cosineCfg)
	require.NoError(t, err)
	assert.Equal(t, "near", res.Label)
}

func TestRecognize_NotRecognizedKeepsClosestCandidate(t *testing.T) {
	counter := &countingCounter{}
	m := New(source(
		ident("Alice", variation("default", 0, 1)),
		ident("Bob", variation("default", -1, 0)),
	), counter, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, cosineCfg)
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.Equal(t, "Alice", res.Name)
	assert.InDelta(t, 1.0, res.Distance, 1e-12)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Empty(t, counter.names)
}

func TestRecognize_TieBreakInsertionOrder(t *testing.T) {
	m := New(source(
		ident("Zed", variation("default", 1, 0)),
		ident("Amy", variation("default", 1, 0)),
	), nil, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, cosineCfg)
	require.NoError(t, err)
	assert.Equal(t, "Zed", res.Name)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "Zed", res.Candidates[0].Name)
	assert.Equal(t, "Amy", res.Candidates[1].Name)
}

func TestRecognize_TopN(t *testing.T) {
	m := New(source(
		ident("A", variation("default", 0, 1)),
		ident("B", variation("default", 1, 0.5)),
		ident("C", variation("default", 1, 0)),
		ident("D", variation("default", -1, 0)),
	), nil, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, Config{Model: "ArcFace", Metric: distance.Cosine, TopN: 2})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "C", res.Candidates[0].Name)
	assert.Equal(t, "B", res.Candidates[1].Name)

	res, err = m.Recognize(context.Background(), []float32{1, 0}, Config{Model: "ArcFace", Metric: distance.Cosine})
	require.NoError(t, err)
	assert.Nil(t, res.Candidates)
}

func TestRecognize_MinConfidenceFloor(t *testing.T) {
	// cos distance ~0.106 against ArcFace 0.68 gives confidence ~0.84.
	m := New(source(ident("Alice", variation("default", 1, 0.5))), nil, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, Config{Model: "ArcFace", Metric: distance.Cosine, MinConfidence: 0.5})
	require.NoError(t, err)
	assert.True(t, res.Recognized)

	res, err = m.Recognize(context.Background(), []float32{1, 0}, Config{Model: "ArcFace", Metric: distance.Cosine, MinConfidence: 0.9})
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.Equal(t, "Alice", res.Name)
	assert.InDelta(t, 0.84, res.Confidence, 0.01)
}

func TestRecognize_CorruptStoredVectorUsesSentinel(t *testing.T) {
	m := New(source(
		ident("Broken", variation("default", 1, 2, 3)),
		ident("Alice", variation("default", 1, 0)),
	), nil, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, Config{Model: "ArcFace", Metric: distance.Euclidean, TopN: 5})
	require.NoError(t, err)
	assert.Equal(t, "Alice", res.Name)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, distance.EuclideanSentinel, res.Candidates[1].Distance)
}

func TestRecognize_CounterFailureIsBestEffort(t *testing.T) {
	counter := &countingCounter{err: errors.New("disk full")}
	m := New(source(ident("Alice", variation("default", 1, 0))), counter, nil, nil)

	res, err := m.Recognize(context.Background(), []float32{1, 0}, cosineCfg)
	require.NoError(t, err)
	assert.True(t, res.Recognized)
}

func TestRecognize_Cancelled(t *testing.T) {
	m := New(source(ident("Alice", variation("default", 1, 0))), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Recognize(ctx, []float32{1, 0}, cosineCfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, Confidence(0, 0.68, distance.Cosine))
	assert.Equal(t, 0.0, Confidence(0.68, 0.68, distance.Cosine))
	assert.Equal(t, 0.0, Confidence(2, 0.68, distance.Cosine))
	assert.InDelta(t, 0.5, Confidence(0.34, 0.68, distance.Cosine), 1e-12)
	assert.InDelta(t, 0.75, Confidence(1, 4, distance.Euclidean), 1e-12)
	assert.Equal(t, 0.0, Confidence(1, 0, distance.Euclidean))
}

func TestThresholds(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, 0.30, th.Lookup("Facenet512", distance.Cosine))
	assert.Equal(t, 10.734, th.Lookup("SFace", distance.Euclidean))
	assert.Equal(t, 0.17, th.Lookup("DeepID", distance.EuclideanL2))
	assert.Equal(t, 4.15, th.Lookup("GhostFaceNet", distance.Euclidean), "unknown model falls back to ArcFace")

	over := th.Override(map[string]map[string]float64{
		"ArcFace": {"cosine": 0.5, "chebyshev": 3},
		"Custom":  {"euclidean_l2": 0.9},
	})
	assert.Equal(t, 0.5, over.Lookup("ArcFace", distance.Cosine))
	assert.Equal(t, 0.9, over.Lookup("Custom", distance.EuclideanL2))
	assert.Equal(t, 0.5, over.Lookup("Custom", distance.Cosine))
	assert.Equal(t, 0.68, th.Lookup("ArcFace", distance.Cosine), "override copies")
}
