package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/your-org/facedoor/internal/imaging"
)

// RemoteBackend calls a DeepFace-compatible /represent endpoint.
// The probe is staged as a temporary JPEG file and uploaded as multipart.
type RemoteBackend struct {
	baseURL string
	tempDir string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type RemoteConfig struct {
	URL     string
	TempDir string
	Timeout time.Duration
	// MaxFailures consecutive transport failures open the breaker.
	MaxFailures  uint32
	OpenDuration time.Duration
}

func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenDuration == 0 {
		cfg.OpenDuration = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "embedding-backend",
		MaxRequests: 1,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A picture without a face is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrBackendUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &RemoteBackend{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		tempDir: cfg.TempDir,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type representResponse struct {
	Results []struct {
		Embedding      []float32 `json:"embedding"`
		FaceConfidence float64   `json:"face_confidence"`
	} `json:"results"`
	Error string `json:"error"`
}

// Represent implements Backend.
func (b *RemoteBackend) Represent(ctx context.Context, img *imaging.RGBImage, opts Options) ([][]float32, error) {
	data, err := imaging.EncodeJPEG(img, 95)
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	err = WithTempFile(b.tempDir, "represent-*.jpg", data, func(path string) error {
		out, err := b.breaker.Execute(func() (interface{}, error) {
			return b.post(ctx, path, opts)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			return err
		}
		vectors = out.([][]float32)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (b *RemoteBackend) post(ctx context.Context, path string, opts Options) ([][]float32, error) {
	body, contentType, err := multipartBody(path, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/represent", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	var parsed representResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode == http.StatusBadRequest && decodeErr == nil && parsed.Error != "":
		// DeepFace answers 400 when detection is enforced and no face is found.
		return nil, fmt.Errorf("%w: %s", ErrNoFaceDetected, parsed.Error)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackendUnavailable, decodeErr)
	}

	vectors := make([][]float32, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		vectors = append(vectors, r.Embedding)
	}
	return vectors, nil
}

func multipartBody(path string, opts Options) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("img", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy image: %w", err)
	}

	fields := map[string]string{
		"model_name":        opts.Model,
		"detector_backend":  opts.Detector,
		"enforce_detection": strconv.FormatBool(opts.EnforceDetection),
		"align":             strconv.FormatBool(opts.Align),
		"normalization":     opts.Normalization,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// State reports the breaker state for readiness checks.
func (b *RemoteBackend) State() string {
	return b.breaker.State().String()
}
