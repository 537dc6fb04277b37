// Package matcher decides whether a probe embedding belongs to an
// enrolled identity.
package matcher

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/your-org/facedoor/internal/distance"
	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/observability"
)

// EmptyStoreDistance is reported when there is nothing to compare against.
const EmptyStoreDistance = 100.0

// Source provides a consistent view of the enrolled identities.
type Source interface {
	Snapshot() *identity.Snapshot
}

// Counter records successful recognitions.
type Counter interface {
	IncrementRecognitionCount(ctx context.Context, name string) error
}

// Config selects the model row and metric for one query.
type Config struct {
	Model  string
	Metric distance.Metric
	// MinConfidence is an optional floor applied after the threshold check.
	MinConfidence float64
	// TopN limits the per-identity breakdown; zero disables it.
	TopN int
}

// Candidate is one identity's best distance to the probe.
type Candidate struct {
	Name     string
	Label    string
	Distance float64
}

// Result of a recognition query. Name and Label describe the closest
// identity even when Recognized is false; both are empty for an empty store.
type Result struct {
	Recognized bool
	Name       string
	Label      string
	Confidence float64
	Distance   float64
	Threshold  float64
	Model      string
	Metric     distance.Metric
	Candidates []Candidate
}

// HasCandidate reports whether any identity was compared.
func (r Result) HasCandidate() bool { return r.Name != "" }

type Matcher struct {
	source     Source
	counter    Counter
	thresholds Thresholds
	logger     *slog.Logger
}

// New builds a matcher. counter may be nil; thresholds nil means the defaults.
func New(source Source, counter Counter, thresholds Thresholds, logger *slog.Logger) *Matcher {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{source: source, counter: counter, thresholds: thresholds, logger: logger}
}

// Threshold returns the configured threshold for model and metric.
func (m *Matcher) Threshold(model string, metric distance.Metric) float64 {
	return m.thresholds.Lookup(model, metric)
}

// Recognize scans one snapshot for the closest identity. Identities are
// visited in insertion order and only a strictly smaller distance replaces
// the current best, so the earliest enrolled identity wins ties. The same
// rule picks the winning variation inside an identity.
func (m *Matcher) Recognize(ctx context.Context, probe []float32, cfg Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	threshold := m.thresholds.Lookup(cfg.Model, cfg.Metric)
	res := Result{
		Distance:  EmptyStoreDistance,
		Threshold: threshold,
		Model:     cfg.Model,
		Metric:    cfg.Metric,
	}

	snap := m.source.Snapshot()
	if snap.Len() == 0 {
		return res, nil
	}

	candidates := make([]Candidate, 0, snap.Len())
	best := -1
	for _, id := range snap.Identities() {
		c := Candidate{Name: id.Name, Distance: math.Inf(1)}
		for _, v := range id.Variations {
			if d := distance.Distance(probe, v.Embedding, cfg.Metric); d < c.Distance {
				c.Distance = d
				c.Label = v.Label
			}
		}
		if math.IsInf(c.Distance, 1) {
			continue
		}
		candidates = append(candidates, c)
		if best < 0 || c.Distance < candidates[best].Distance {
			best = len(candidates) - 1
		}
	}
	if best < 0 {
		return res, nil
	}

	winner := candidates[best]
	res.Name = winner.Name
	res.Label = winner.Label
	res.Distance = winner.Distance
	res.Confidence = Confidence(winner.Distance, threshold, cfg.Metric)
	res.Recognized = threshold > 0 && winner.Distance <= threshold && res.Confidence >= cfg.MinConfidence
	observability.MatchDistance.WithLabelValues(string(cfg.Metric)).Observe(winner.Distance)

	if cfg.TopN > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Distance < candidates[j].Distance
		})
		if len(candidates) > cfg.TopN {
			candidates = candidates[:cfg.TopN]
		}
		res.Candidates = candidates
	}

	if res.Recognized && m.counter != nil {
		if err := m.counter.IncrementRecognitionCount(ctx, res.Name); err != nil {
			m.logger.Warn("update recognition count", "name", res.Name, "error", err)
		}
	}
	return res, nil
}

// Confidence maps a distance onto [0, 1] relative to threshold: 1 at zero
// distance, 0 at or beyond the threshold.
func Confidence(d, threshold float64, metric distance.Metric) float64 {
	if threshold <= 0 || math.IsNaN(d) {
		return 0
	}
	var c float64
	if metric == distance.Cosine {
		c = (threshold - d) / threshold
	} else {
		c = 1 - d/threshold
	}
	return math.Max(0, math.Min(1, c))
}
