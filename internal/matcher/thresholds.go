package matcher

import (
	"github.com/your-org/facedoor/internal/distance"
)

// DefaultModel is used for models missing from the threshold table.
const DefaultModel = "ArcFace"

// Thresholds maps model -> metric -> maximum accepted distance.
type Thresholds map[string]map[distance.Metric]float64

// DefaultThresholds are the verification thresholds published for each
// embedding model.
func DefaultThresholds() Thresholds {
	row := func(cos, euc, l2 float64) map[distance.Metric]float64 {
		return map[distance.Metric]float64{
			distance.Cosine:      cos,
			distance.Euclidean:   euc,
			distance.EuclideanL2: l2,
		}
	}
	return Thresholds{
		"VGG-Face":   row(0.68, 1.17, 1.17),
		"Facenet":    row(0.40, 10, 0.80),
		"Facenet512": row(0.30, 23.56, 1.04),
		"OpenFace":   row(0.10, 0.55, 0.55),
		"DeepFace":   row(0.23, 64, 0.64),
		"DeepID":     row(0.015, 45, 0.17),
		"ArcFace":    row(0.68, 4.15, 1.13),
		"Dlib":       row(0.07, 0.6, 0.4),
		"SFace":      row(0.593, 10.734, 1.055),
	}
}

// Override returns a copy of t with entries from o layered on top.
// Unknown metric names in o are ignored.
func (t Thresholds) Override(o map[string]map[string]float64) Thresholds {
	out := make(Thresholds, len(t)+len(o))
	for model, row := range t {
		cp := make(map[distance.Metric]float64, len(row))
		for m, v := range row {
			cp[m] = v
		}
		out[model] = cp
	}
	for model, row := range o {
		if out[model] == nil {
			out[model] = make(map[distance.Metric]float64, len(row))
		}
		for name, v := range row {
			m, err := distance.ParseMetric(name)
			if err != nil || v <= 0 {
				continue
			}
			out[model][m] = v
		}
	}
	return out
}

// Lookup returns the threshold for model and metric, falling back to the
// DefaultModel row when the model or metric is unknown.
func (t Thresholds) Lookup(model string, metric distance.Metric) float64 {
	if v, ok := t[model][metric]; ok {
		return v
	}
	if v, ok := t[DefaultModel][metric]; ok {
		return v
	}
	return DefaultThresholds()[DefaultModel][metric]
}
