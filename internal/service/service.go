// Package service wires extraction, the identity store and the matcher
// into the enrollment and door-access operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facedoor/internal/capture"
	"github.com/your-org/facedoor/internal/distance"
	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/matcher"
	"github.com/your-org/facedoor/internal/models"
	"github.com/your-org/facedoor/internal/observability"
	"github.com/your-org/facedoor/internal/vision"
)

// Extractor turns a normalized image into an embedding.
type Extractor interface {
	Extract(ctx context.Context, img *imaging.RGBImage, opts vision.Options) ([]float32, error)
}

// Recognizer queries the enrolled identities.
type Recognizer interface {
	Recognize(ctx context.Context, probe []float32, cfg matcher.Config) (matcher.Result, error)
}

// IdentityStore is the subset of *identity.Store the service uses.
type IdentityStore interface {
	Snapshot() *identity.Snapshot
	Get(name string) (identity.Identity, error)
	List() []identity.Identity
	Append(ctx context.Context, e identity.Enrollment, mode identity.Mode) (identity.VariationRecord, error)
	DeleteIdentity(ctx context.Context, name string) (bool, error)
	DeleteVariation(ctx context.Context, name, label string) (bool, error)
}

// EventPublisher delivers access events and door commands.
type EventPublisher interface {
	PublishAccessEvent(ctx context.Context, ev *models.AccessEvent) error
	PublishDoorCommand(ctx context.Context, cmd *models.DoorCommand) error
}

// AccessLog records every recognition attempt.
type AccessLog interface {
	InsertAccessEvent(ctx context.Context, ev *models.AccessEvent) error
}

// Event sources.
const (
	SourceUpload = "upload"
	SourceCamera = "camera"
)

const imageQuality = 90

type Config struct {
	Model         string
	Metric        distance.Metric
	MinConfidence float64
	TopN          int
	// Enrollment and Recognition are the extraction profiles; Model is
	// filled in from the field above.
	Enrollment  vision.Options
	Recognition vision.Options
	// KeepVisitorImages uploads recognition probes for the access log.
	KeepVisitorImages bool
}

type Service struct {
	store     IdentityStore
	extractor Extractor
	matcher   Recognizer
	cfg       Config

	images    *ImageFiles
	camera    capture.Source
	publisher EventPublisher
	accessLog AccessLog
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithImages(f *ImageFiles) Option { return func(s *Service) { s.images = f } }

func WithCamera(c capture.Source) Option { return func(s *Service) { s.camera = c } }

func WithPublisher(p EventPublisher) Option { return func(s *Service) { s.publisher = p } }

func WithAccessLog(l AccessLog) Option { return func(s *Service) { s.accessLog = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(store IdentityStore, extractor Extractor, m Recognizer, cfg Config, opts ...Option) *Service {
	cfg.Enrollment.Model = cfg.Model
	cfg.Recognition.Model = cfg.Model
	s := &Service{
		store:     store,
		extractor: extractor,
		matcher:   m,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnrollRequest adds one face image to a named identity.
type EnrollRequest struct {
	Name  string
	Label string
	Image []byte
	Mode  identity.Mode
}

type EnrollmentResult struct {
	Success         bool
	Name            string
	VariationLabel  string
	TotalVariations int
	Created         bool
	ImageURL        string
	ImagePath       string
}

// Enroll extracts an embedding from req.Image and appends it to the
// identity. Nothing is written when extraction fails.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (EnrollmentResult, error) {
	res, err := s.enroll(ctx, req)
	observability.Enrollments.WithLabelValues(outcome(err, "enrolled")).Inc()
	return res, err
}

func (s *Service) enroll(ctx context.Context, req EnrollRequest) (EnrollmentResult, error) {
	name, err := identity.NormalizeName(req.Name)
	if err != nil {
		return EnrollmentResult{}, err
	}
	label, err := identity.NormalizeLabel(req.Label)
	if err != nil {
		return EnrollmentResult{}, err
	}
	if req.Mode == identity.ModeCreate {
		if _, ok := s.store.Snapshot().Get(name); ok {
			return EnrollmentResult{}, fmt.Errorf("identity %q: %w", name, identity.ErrDuplicateIdentity)
		}
	}

	img, err := imaging.Normalize(req.Image)
	if err != nil {
		return EnrollmentResult{}, err
	}
	emb, err := s.extractor.Extract(ctx, img, s.cfg.Enrollment)
	if err != nil {
		return EnrollmentResult{}, fmt.Errorf("enroll %s: %w", name, err)
	}

	var ref identity.ImageRef
	if s.images != nil {
		if data, err := imaging.EncodeJPEG(img, imageQuality); err != nil {
			s.logger.Warn("encode face image", "name", name, "error", err)
		} else {
			ref = s.images.Save(ctx, name, label, data, s.now())
		}
	}

	rec, err := s.store.Append(ctx, identity.Enrollment{
		Name:      name,
		Label:     label,
		Model:     s.cfg.Model,
		Embedding: emb,
		Image:     ref,
	}, req.Mode)
	if err != nil {
		if s.images != nil && !ref.IsZero() {
			if rmErr := s.images.RemoveImage(context.WithoutCancel(ctx), ref); rmErr != nil {
				s.logger.Warn("remove orphaned face image", "name", name, "error", rmErr)
			}
		}
		return EnrollmentResult{}, err
	}

	s.logger.Info("face enrolled", "name", rec.Name, "label", rec.Label,
		"total_variations", rec.TotalVariations, "created", rec.Created)
	return EnrollmentResult{
		Success:         true,
		Name:            rec.Name,
		VariationLabel:  rec.Label,
		TotalVariations: rec.TotalVariations,
		Created:         rec.Created,
		ImageURL:        rec.Image.URL,
		ImagePath:       rec.Image.Path,
	}, nil
}

// MatchResult is the outcome of a recognition request. Name is nil when
// no identity was compared.
type MatchResult struct {
	Recognized      bool
	Name            *string
	Label           string
	Confidence      float64
	Distance        float64
	Threshold       float64
	Model           string
	Metric          distance.Metric
	Candidates      []matcher.Candidate
	DoorCommandSent bool
	EventID         uuid.UUID
	ImageURL        string
}

// Recognize matches an uploaded image against the enrolled identities and
// opens the door on success.
func (s *Service) Recognize(ctx context.Context, image []byte) (MatchResult, error) {
	return s.recognize(ctx, image, SourceUpload)
}

func (s *Service) recognize(ctx context.Context, raw []byte, source string) (MatchResult, error) {
	res, err := s.match(ctx, raw, source)
	switch {
	case err != nil:
		observability.Recognitions.WithLabelValues(outcome(err, "")).Inc()
	case res.Recognized:
		observability.Recognitions.WithLabelValues("recognized").Inc()
	default:
		observability.Recognitions.WithLabelValues("not_recognized").Inc()
	}
	return res, err
}

func (s *Service) match(ctx context.Context, raw []byte, source string) (MatchResult, error) {
	img, err := imaging.Normalize(raw)
	if err != nil {
		return MatchResult{}, err
	}
	probe, err := s.extractor.Extract(ctx, img, s.cfg.Recognition)
	if err != nil {
		return MatchResult{}, err
	}

	start := time.Now()
	m, err := s.matcher.Recognize(ctx, probe, matcher.Config{
		Model:         s.cfg.Model,
		Metric:        s.cfg.Metric,
		MinConfidence: s.cfg.MinConfidence,
		TopN:          s.cfg.TopN,
	})
	if err != nil {
		return MatchResult{}, err
	}
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	res := MatchResult{
		Recognized: m.Recognized,
		Label:      m.Label,
		Confidence: m.Confidence,
		Distance:   m.Distance,
		Threshold:  m.Threshold,
		Model:      m.Model,
		Metric:     m.Metric,
		Candidates: m.Candidates,
		EventID:    uuid.New(),
	}
	if m.HasCandidate() {
		name := m.Name
		res.Name = &name
	}

	// Side effects below never fail the request.
	bg := context.WithoutCancel(ctx)
	if s.cfg.KeepVisitorImages && s.images != nil {
		if data, err := imaging.EncodeJPEG(img, imageQuality); err == nil {
			if url, err := s.images.SaveVisitor(bg, res.EventID, data); err != nil {
				s.logger.Warn("upload visitor image", "event_id", res.EventID, "error", err)
			} else {
				res.ImageURL = url
			}
		}
	}
	if res.Recognized {
		res.DoorCommandSent = s.openDoor(bg, m.Name, res.EventID)
	}
	s.recordAccess(bg, res, probe, source)

	s.logger.Info("recognition completed",
		"recognized", res.Recognized, "name", m.Name, "distance", res.Distance,
		"threshold", res.Threshold, "confidence", res.Confidence, "source", source)
	return res, nil
}

func (s *Service) openDoor(ctx context.Context, name string, eventID uuid.UUID) bool {
	if s.publisher == nil {
		return false
	}
	err := s.publisher.PublishDoorCommand(ctx, &models.DoorCommand{
		ID:        uuid.New(),
		Action:    models.DoorActionOpen,
		Name:      name,
		EventID:   eventID,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		observability.DoorCommands.WithLabelValues("error").Inc()
		s.logger.Warn("send door command", "name", name, "error", err)
		return false
	}
	observability.DoorCommands.WithLabelValues("sent").Inc()
	return true
}

func (s *Service) recordAccess(ctx context.Context, res MatchResult, probe []float32, source string) {
	ev := &models.AccessEvent{
		ID:              res.EventID,
		Name:            res.Name,
		Label:           res.Label,
		Recognized:      res.Recognized,
		Distance:        res.Distance,
		Confidence:      res.Confidence,
		Threshold:       res.Threshold,
		Source:          source,
		ImageURL:        res.ImageURL,
		Embedding:       probe,
		DoorCommandSent: res.DoorCommandSent,
		Timestamp:       s.now().UTC(),
	}
	if s.accessLog != nil {
		if err := s.accessLog.InsertAccessEvent(ctx, ev); err != nil {
			s.logger.Warn("write access log", "event_id", ev.ID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishAccessEvent(ctx, ev); err != nil {
			s.logger.Warn("publish access event", "event_id", ev.ID, "error", err)
		}
	}
}

// EnrollFromCamera enrolls a frame grabbed from the door camera.
func (s *Service) EnrollFromCamera(ctx context.Context, name, label string, mode identity.Mode) (EnrollmentResult, error) {
	frame, err := s.grab(ctx)
	if err != nil {
		observability.Enrollments.WithLabelValues(outcome(err, "")).Inc()
		return EnrollmentResult{}, err
	}
	return s.Enroll(ctx, EnrollRequest{Name: name, Label: label, Image: frame, Mode: mode})
}

// RecognizeFromCamera matches a frame grabbed from the door camera.
func (s *Service) RecognizeFromCamera(ctx context.Context) (MatchResult, error) {
	frame, err := s.grab(ctx)
	if err != nil {
		observability.Recognitions.WithLabelValues(outcome(err, "")).Inc()
		return MatchResult{}, err
	}
	return s.recognize(ctx, frame, SourceCamera)
}

func (s *Service) grab(ctx context.Context) ([]byte, error) {
	if s.camera == nil {
		return nil, fmt.Errorf("%w: no camera configured", capture.ErrCaptureUnavailable)
	}
	return s.camera.Capture(ctx)
}

func (s *Service) DeleteIdentity(ctx context.Context, name string) (bool, error) {
	return s.store.DeleteIdentity(ctx, name)
}

func (s *Service) DeleteVariation(ctx context.Context, name, label string) (bool, error) {
	return s.store.DeleteVariation(ctx, name, label)
}

type IdentitySummary struct {
	Name             string
	Variations       []string
	TotalVariations  int
	RecognitionCount int
	AddedAt          time.Time
	LastRecognized   *time.Time
}

// ListIdentities returns every identity in enrollment order.
func (s *Service) ListIdentities() []IdentitySummary {
	ids := s.store.List()
	out := make([]IdentitySummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, IdentitySummary{
			Name:             id.Name,
			Variations:       id.Labels(),
			TotalVariations:  len(id.Variations),
			RecognitionCount: id.RecognitionCount,
			AddedAt:          id.AddedAt,
			LastRecognized:   id.LastRecognized,
		})
	}
	return out
}

type VariationInfo struct {
	Label     string
	ImagePath string
	ImageURL  string
	AddedAt   time.Time
}

// Variations lists the variations of one identity.
func (s *Service) Variations(name string) ([]VariationInfo, error) {
	id, err := s.store.Get(name)
	if err != nil {
		return nil, err
	}
	out := make([]VariationInfo, len(id.Variations))
	for i, v := range id.Variations {
		out[i] = VariationInfo{Label: v.Label, ImagePath: v.Image.Path, ImageURL: v.Image.URL, AddedAt: v.AddedAt}
	}
	return out, nil
}

// Metadata exports the store as its versioned metadata record.
func (s *Service) Metadata() identity.Metadata {
	return identity.BuildMetadata(s.store.Snapshot(), s.now())
}

// outcome is the metric label for an operation result.
func outcome(err error, ok string) string {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, vision.ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, imaging.ErrDecode), errors.Is(err, imaging.ErrImageTooSmall),
		errors.Is(err, vision.ErrImageQualityRejected),
		errors.Is(err, identity.ErrInvalidName), errors.Is(err, identity.ErrInvalidLabel):
		return "invalid"
	case errors.Is(err, identity.ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, capture.ErrCaptureUnavailable):
		return "capture_unavailable"
	case errors.Is(err, vision.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, vision.ErrInvalidEmbedding):
		return "invalid_embedding"
	default:
		return "error"
	}
}
