package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestDistance_SelfIsZero(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, m := range Metrics {
		for i := 0; i < 50; i++ {
			v := randomVector(r, 128)
			assert.Equal(t, 0.0, Distance(v, v, m), "metric %s", m)

			cp := append([]float32(nil), v...)
			assert.Equal(t, 0.0, Distance(v, cp, m), "metric %s copy", m)
		}
	}
}

func TestDistance_Symmetric(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, m := range Metrics {
		for i := 0; i < 100; i++ {
			a := randomVector(r, 512)
			b := randomVector(r, 512)
			assert.Equal(t, Distance(a, b, m), Distance(b, a, m), "metric %s", m)
		}
	}
}

func TestDistance_Sentinels(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name string
		a, b []float32
	}{
		{"nil", nil, []float32{1, 2}},
		{"both nil", nil, nil},
		{"empty", []float32{}, []float32{}},
		{"length mismatch", []float32{1, 2, 3}, []float32{1, 2}},
		{"nan", []float32{1, nan}, []float32{1, 2}},
		{"inf", []float32{1, 2}, []float32{inf, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, CosineSentinel, Distance(tt.a, tt.b, Cosine))
			assert.Equal(t, EuclideanSentinel, Distance(tt.a, tt.b, Euclidean))
			assert.Equal(t, EuclideanSentinel, Distance(tt.a, tt.b, EuclideanL2))
		})
	}
}

func TestDistance_ZeroNorm(t *testing.T) {
	zero := []float32{0, 0, 0}
	other := []float32{1, 0, 0}
	assert.Equal(t, CosineSentinel, Distance(zero, other, Cosine))
	assert.Equal(t, CosineSentinel, Distance(zero, zero, Cosine))
	assert.Equal(t, EuclideanSentinel, Distance(zero, other, EuclideanL2))
	assert.Equal(t, 1.0, Distance(zero, other, Euclidean))
}

func TestDistance_KnownValues(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	c := []float32{-1, 0}

	assert.InDelta(t, 1.0, Distance(a, b, Cosine), 1e-12)
	assert.InDelta(t, 2.0, Distance(a, c, Cosine), 1e-12)
	assert.InDelta(t, math.Sqrt2, Distance(a, b, Euclidean), 1e-12)
	assert.InDelta(t, 2.0, Distance(a, c, Euclidean), 1e-12)

	// Scale invariance of the normalized metrics.
	scaled := []float32{10, 0}
	assert.InDelta(t, 0.0, Distance(a, scaled, Cosine), 1e-12)
	assert.InDelta(t, 0.0, Distance(a, scaled, EuclideanL2), 1e-12)
	assert.InDelta(t, 9.0, Distance(a, scaled, Euclidean), 1e-12)
}

func TestDistance_Range(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		a := randomVector(r, 64)
		b := randomVector(r, 64)

		c := Distance(a, b, Cosine)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 2.0)

		l2 := Distance(a, b, EuclideanL2)
		assert.GreaterOrEqual(t, l2, 0.0)
		assert.LessOrEqual(t, l2, 2.0+1e-9)
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric(" Euclidean_L2 ")
	require.NoError(t, err)
	assert.Equal(t, EuclideanL2, m)

	_, err = ParseMetric("manhattan")
	assert.Error(t, err)
}

func TestUnknownMetricIsSentinel(t *testing.T) {
	assert.Equal(t, EuclideanSentinel, Distance([]float32{1}, []float32{2}, Metric("manhattan")))
}
