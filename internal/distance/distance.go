// Package distance computes distances between face embeddings.
//
// Distance never fails: degenerate operands (nil, empty, mismatched
// lengths, non-finite values, zero norm under cosine) produce a fixed
// sentinel so a corrupt stored vector cannot break a matching scan.
package distance

import (
	"fmt"
	"math"
	"strings"
)

// Metric names a distance function.
type Metric string

const (
	Cosine      Metric = "cosine"
	Euclidean   Metric = "euclidean"
	EuclideanL2 Metric = "euclidean_l2"
)

const (
	// CosineSentinel is returned for degenerate input under Cosine.
	CosineSentinel = 1.0
	// EuclideanSentinel is returned for degenerate input under Euclidean and EuclideanL2.
	EuclideanSentinel = 1000.0
)

// Metrics lists every supported metric.
var Metrics = []Metric{Cosine, Euclidean, EuclideanL2}

// ParseMetric validates a metric name (case-insensitive).
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case Cosine, Euclidean, EuclideanL2:
		return m, nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Sentinel returns the degenerate-input distance for m.
func (m Metric) Sentinel() float64 {
	if m == Cosine {
		return CosineSentinel
	}
	return EuclideanSentinel
}

func (m Metric) String() string { return string(m) }

// Distance returns the distance between a and b under m. The result is
// symmetric, non-negative and finite. Unknown metrics are treated as
// degenerate input.
func Distance(a, b []float32, m Metric) float64 {
	if len(a) == 0 || len(a) != len(b) || !finite(a) || !finite(b) {
		return m.Sentinel()
	}

	switch m {
	case Cosine:
		return cosine(a, b)
	case Euclidean:
		return euclidean(a, b, 1, 1)
	case EuclideanL2:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return EuclideanSentinel
		}
		return euclidean(a, b, na, nb)
	}
	return EuclideanSentinel
}

func cosine(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return CosineSentinel
	}
	if identical(a, b) {
		return 0
	}

	// IEEE multiplication commutes, so swapping a and b yields the same bits.
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (na * nb)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return CosineSentinel
	}
	sim = clamp(sim, -1, 1)
	return clamp(1-sim, 0, 2)
}

// euclidean returns ||a/sa - b/sb||. The squared term is the same for
// (a, b) and (b, a), which keeps the result symmetric.
func euclidean(a, b []float32, sa, sb float64) float64 {
	if sa == 1 && sb == 1 && identical(a, b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := float64(a[i])/sa - float64(b[i])/sb
		sum += d * d
	}
	out := math.Sqrt(sum)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return EuclideanSentinel
	}
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func identical(a, b []float32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
