// Package onnx is the in-process embedding backend: RetinaFace detection
// and ArcFace embedding through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/observability"
	"github.com/your-org/facedoor/internal/vision"
)

type faceEmbedder interface {
	Embed(chw []float32) ([]float32, error)
	InputSize() (int, int)
}

// Backend implements vision.Backend. Calls are serialized because the
// sessions share their tensors.
type Backend struct {
	mu        sync.Mutex
	detectors map[string]vision.FaceFinder
	embedder  faceEmbedder
	closers   []func()
}

type Config struct {
	ModelsDir          string
	DetectionThreshold float64
}

// New loads det_10g.onnx and w600k_r50.onnx from ModelsDir. The ONNX
// Runtime environment must already be initialized (see InitRuntime).
// RetinaFace is registered under both "retinaface" and "opencv" until
// another finder is registered with WithDetector.
func New(cfg Config) (*Backend, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewRetinaFace(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewArcFace(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	b := newBackend(emb, det)
	b.closers = []func(){det.Close, emb.Close}
	return b, nil
}

func newBackend(emb faceEmbedder, retina vision.FaceFinder) *Backend {
	return &Backend{
		detectors: map[string]vision.FaceFinder{
			vision.DetectorRetinaFace: retina,
			vision.DetectorOpenCV:     retina,
		},
		embedder: emb,
	}
}

// WithDetector registers f under name, replacing any previous finder.
func (b *Backend) WithDetector(name string, f vision.FaceFinder) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detectors[name] = f
	return b
}

// Represent returns at most one vector: the first detected face, or the
// whole frame when detection is skipped or not enforced and nothing was found.
func (b *Backend) Represent(ctx context.Context, img *imaging.RGBImage, opts vision.Options) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iw, ih := b.embedder.InputSize()
	var face *image.RGBA

	if opts.Detector == vision.DetectorSkip {
		face = imaging.Resize(img, iw, ih)
	} else {
		finder, ok := b.detectors[opts.Detector]
		if !ok {
			return nil, fmt.Errorf("unknown detector %q", opts.Detector)
		}

		start := time.Now()
		dets, err := finder.Detect(img)
		if err != nil {
			return nil, err
		}
		observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

		switch {
		case len(dets) > 0:
			crop := alignedCrop(img, dets[0], opts.Align)
			if crop == nil {
				return nil, vision.ErrNoFaceDetected
			}
			face = imaging.Resize(crop, iw, ih)
		case opts.EnforceDetection:
			return nil, vision.ErrNoFaceDetected
		default:
			face = imaging.Resize(img, iw, ih)
		}
	}

	chw, err := FaceTensor(face, opts.Normalization)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	emb, err := b.embedder.Embed(chw)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	return [][]float32{emb}, nil
}

// Close releases the ONNX sessions.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.closers {
		c()
	}
	b.closers = nil
}

// InitRuntime points onnxruntime_go at the shared library and initializes
// the environment. Callers must call ort.DestroyEnvironment on shutdown.
func InitRuntime(libPath string) error {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// DestroyRuntime tears down the environment created by InitRuntime.
func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}
