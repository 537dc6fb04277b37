package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/observability"
)

var (
	// ErrNoFaceDetected means no attempt of the extraction ladder produced a vector.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrInvalidEmbedding means a backend returned an empty or non-finite vector.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrImageQualityRejected means the image is too dark or too bright to use.
	ErrImageQualityRejected = errors.New("image quality rejected")
	// ErrBackendUnavailable marks transport-level backend failures.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
)

// Detector names understood by the backends.
const (
	DetectorRetinaFace = "retinaface"
	DetectorOpenCV     = "opencv"
	DetectorSkip       = "skip"
)

// Normalization modes applied to the face crop before embedding.
const (
	NormalizationBase    = "base"
	NormalizationFacenet = "facenet"
	NormalizationArcFace = "arcface"
)

// Options configures a single extraction attempt.
type Options struct {
	Model            string
	Detector         string
	EnforceDetection bool
	Align            bool
	Normalization    string
}

// Backend turns an image into one embedding per detected face. It returns
// ErrNoFaceDetected (or an empty slice) when no face is found.
type Backend interface {
	Represent(ctx context.Context, img *imaging.RGBImage, opts Options) ([][]float32, error)
}

// Extractor runs the fallback ladder over a Backend.
type Extractor struct {
	backend         Backend
	defaultDetector string
	logger          *slog.Logger
}

func NewExtractor(backend Backend, defaultDetector string, logger *slog.Logger) *Extractor {
	if defaultDetector == "" {
		defaultDetector = DetectorOpenCV
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{backend: backend, defaultDetector: defaultDetector, logger: logger}
}

// Ladder returns the attempts made for opts, most specific first:
// the requested options, then strict detection relaxed, then the default
// detector with strict detection relaxed. Duplicate steps are dropped.
func Ladder(opts Options, defaultDetector string) []Options {
	steps := []Options{opts}
	if opts.EnforceDetection {
		relaxed := opts
		relaxed.EnforceDetection = false
		steps = append(steps, relaxed)
	}
	if opts.Detector != defaultDetector {
		fallback := opts
		fallback.Detector = defaultDetector
		fallback.EnforceDetection = false
		steps = append(steps, fallback)
	}
	return steps
}

// Extract preprocesses img and returns the first face's embedding from the
// first ladder step that yields one.
func (e *Extractor) Extract(ctx context.Context, img *imaging.RGBImage, opts Options) ([]float32, error) {
	start := time.Now()
	prepared, err := Preprocess(img)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	steps := Ladder(opts, e.defaultDetector)
	var (
		lastErr         error
		backendFailures int
		invalid         int
	)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec, err := e.attempt(ctx, prepared, step)
		if err == nil {
			if i > 0 {
				e.logger.Info("extraction succeeded on fallback",
					"step", i, "detector", step.Detector, "enforce_detection", step.EnforceDetection)
			}
			return vec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		switch {
		case errors.Is(err, ErrBackendUnavailable):
			backendFailures++
		case errors.Is(err, ErrInvalidEmbedding):
			invalid++
		}
		e.logger.Debug("extraction attempt failed",
			"step", i, "detector", step.Detector, "enforce_detection", step.EnforceDetection, "error", err)
	}

	if backendFailures == len(steps) {
		return nil, lastErr
	}
	// No step saw a missing face, only a backend producing garbage.
	if invalid > 0 && invalid+backendFailures == len(steps) {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrInvalidEmbedding, len(steps), lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrNoFaceDetected, len(steps), lastErr)
}

func (e *Extractor) attempt(ctx context.Context, img *imaging.RGBImage, opts Options) ([]float32, error) {
	start := time.Now()
	vectors, err := e.backend.Represent(ctx, img, opts)
	observability.InferenceDuration.WithLabelValues("represent").Observe(time.Since(start).Seconds())

	if err != nil {
		observability.ExtractionAttempts.WithLabelValues(opts.Detector, "error").Inc()
		return nil, err
	}
	if len(vectors) == 0 {
		observability.ExtractionAttempts.WithLabelValues(opts.Detector, "no_face").Inc()
		return nil, ErrNoFaceDetected
	}

	vec := vectors[0]
	if err := ValidateEmbedding(vec); err != nil {
		observability.ExtractionAttempts.WithLabelValues(opts.Detector, "invalid").Inc()
		e.logger.Warn("backend returned invalid embedding", "detector", opts.Detector, "error", err)
		return nil, err
	}

	observability.ExtractionAttempts.WithLabelValues(opts.Detector, "ok").Inc()
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

// ValidateEmbedding rejects empty vectors and vectors with NaN or Inf values.
func ValidateEmbedding(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidEmbedding, i)
		}
	}
	return nil
}
