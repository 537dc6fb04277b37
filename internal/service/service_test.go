package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facedoor/internal/capture"
	"github.com/your-org/facedoor/internal/distance"
	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/matcher"
	"github.com/your-org/facedoor/internal/models"
	"github.com/your-org/facedoor/internal/vision"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type memPersister struct {
	mu      sync.Mutex
	saved   *identity.Snapshot
	saveErr error
}

func (p *memPersister) Load(context.Context) ([]*identity.Identity, error) { return nil, nil }

func (p *memPersister) Save(_ context.Context, snap *identity.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = snap
	return nil
}

func (p *memPersister) Name() string { return "memory" }

// colorExtractor derives a 3-d embedding from the top-left pixel so that
// images of the same color match exactly.
type colorExtractor struct {
	mu    sync.Mutex
	calls []vision.Options
	err   error
}

func (e *colorExtractor) Extract(_ context.Context, img *imaging.RGBImage, opts vision.Options) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, opts)
	if e.err != nil {
		return nil, e.err
	}
	r, g, b := img.RGB(0, 0)
	return []float32{float32(r) + 1, float32(g) + 1, float32(b) + 1}, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	err     error
}

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: map[string][]byte{}} }

func (o *fakeObjects) Upload(_ context.Context, key string, data []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	o.objects[key] = data
	return "http://minio/faces-bucket/" + key, nil
}

func (o *fakeObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	o.deleted = append(o.deleted, key)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	events   []models.AccessEvent
	commands []models.DoorCommand
	doorErr  error
}

func (p *fakePublisher) PublishAccessEvent(_ context.Context, ev *models.AccessEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *fakePublisher) PublishDoorCommand(_ context.Context, cmd *models.DoorCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doorErr != nil {
		return p.doorErr
	}
	p.commands = append(p.commands, *cmd)
	return nil
}

type fakeAccessLog struct {
	mu     sync.Mutex
	events []models.AccessEvent
	err    error
}

func (l *fakeAccessLog) InsertAccessEvent(_ context.Context, ev *models.AccessEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, *ev)
	return nil
}

type fakeCamera struct {
	frame []byte
	err   error
}

func (c fakeCamera) Capture(context.Context) ([]byte, error) { return c.frame, c.err }

func solid(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var (
	red  = color.RGBA{R: 200, G: 10, B: 10, A: 255}
	blue = color.RGBA{R: 10, G: 10, B: 200, A: 255}
)

type fixture struct {
	svc       *Service
	store     *identity.Store
	persister *memPersister
	extractor *colorExtractor
	objects   *fakeObjects
	publisher *fakePublisher
	accessLog *fakeAccessLog
	imageDir  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		persister: &memPersister{},
		extractor: &colorExtractor{},
		objects:   newFakeObjects(),
		publisher: &fakePublisher{},
		accessLog: &fakeAccessLog{},
		imageDir:  t.TempDir(),
	}
	images := NewImageFiles(f.imageDir, f.objects, nil)

	var err error
	f.store, err = identity.Open(context.Background(), f.persister,
		identity.WithImageCleaner(images), identity.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	m := matcher.New(f.store, f.store, nil, nil)
	cfg := Config{
		Model:       "ArcFace",
		Metric:      distance.Cosine,
		TopN:        3,
		Enrollment:  vision.Options{Detector: vision.DetectorRetinaFace, EnforceDetection: true, Align: true, Normalization: "base"},
		Recognition: vision.Options{Detector: vision.DetectorOpenCV, Align: true, Normalization: "base"},
	}
	base := []Option{
		WithImages(images),
		WithPublisher(f.publisher),
		WithAccessLog(f.accessLog),
		WithClock(func() time.Time { return fixedNow }),
	}
	f.svc = New(f.store, f.extractor, m, cfg, append(base, opts...)...)
	return f
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Enroll(ctx, EnrollRequest{Name: "  Alice  ", Image: solid(t, red)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Created)
	assert.Equal(t, "Alice", res.Name)
	assert.Equal(t, identity.DefaultLabel, res.VariationLabel)
	assert.Equal(t, 1, res.TotalVariations)
	assert.Contains(t, res.ImageURL, "http://minio/faces-bucket/faces/Alice/default_20260301T093000_")
	assert.FileExists(t, res.ImagePath)

	require.Len(t, f.extractor.calls, 1)
	assert.Equal(t, "ArcFace", f.extractor.calls[0].Model)
	assert.Equal(t, vision.DetectorRetinaFace, f.extractor.calls[0].Detector)
	assert.True(t, f.extractor.calls[0].EnforceDetection)

	res, err = f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Label: "glasses", Image: solid(t, blue)})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 2, res.TotalVariations)

	alice, err := f.store.Get("Alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "glasses"}, alice.Labels())
	assert.Equal(t, "ArcFace", alice.Model)
}

func TestEnroll_ValidationBeforeExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "A", Image: solid(t, red)})
	assert.ErrorIs(t, err, identity.ErrInvalidName)
	_, err = f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Label: "with space", Image: solid(t, red)})
	assert.ErrorIs(t, err, identity.ErrInvalidLabel)
	_, err = f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Image: []byte("garbage")})
	assert.ErrorIs(t, err, imaging.ErrDecode)
	assert.Empty(t, f.extractor.calls)
}

func TestEnroll_CreateModeDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Image: solid(t, red), Mode: identity.ModeCreate})
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Image: solid(t, red), Mode: identity.ModeCreate})
	assert.ErrorIs(t, err, identity.ErrDuplicateIdentity)
	assert.Len(t, f.extractor.calls, 1)
}

func TestEnroll_NoFaceWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = vision.ErrNoFaceDetected

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{Name: "Alice", Image: solid(t, red)})
	assert.ErrorIs(t, err, vision.ErrNoFaceDetected)
	assert.Equal(t, 0, f.store.Snapshot().Len())
	assert.Empty(t, f.objects.objects)

	entries, err := os.ReadDir(f.imageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnroll_StoreFailureRemovesImages(t *testing.T) {
	f := newFixture(t)
	f.persister.saveErr = errors.New("disk full")

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{Name: "Alice", Image: solid(t, red)})
	require.Error(t, err)
	assert.Equal(t, 0, f.store.Snapshot().Len())
	assert.Empty(t, f.objects.objects)
	assert.Len(t, f.objects.deleted, 1)

	entries, err := os.ReadDir(f.imageDir + "/Alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnroll_UploadFailureStillEnrolls(t *testing.T) {
	f := newFixture(t)
	f.objects.err = errors.New("minio down")

	res, err := f.svc.Enroll(context.Background(), EnrollRequest{Name: "Alice", Image: solid(t, red)})
	require.NoError(t, err)
	assert.Empty(t, res.ImageURL)
	assert.NotEmpty(t, res.ImagePath)
}

func TestRecognize_EmptyStore(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Recognize(context.Background(), solid(t, red))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.Nil(t, res.Name)
	assert.Equal(t, matcher.EmptyStoreDistance, res.Distance)
	assert.False(t, res.DoorCommandSent)
	assert.Empty(t, f.publisher.commands)

	require.Len(t, f.accessLog.events, 1)
	assert.Nil(t, f.accessLog.events[0].Name)
	assert.Equal(t, SourceUpload, f.accessLog.events[0].Source)
}

func TestRecognize_OpensDoor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Image: solid(t, red)})
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, EnrollRequest{Name: "Bob", Image: solid(t, blue)})
	require.NoError(t, err)

	res, err := f.svc.Recognize(ctx, solid(t, red))
	require.NoError(t, err)
	assert.True(t, res.Recognized)
	require.NotNil(t, res.Name)
	assert.Equal(t, "Alice", *res.Name)
	assert.Equal(t, 0.0, res.Distance)
	assert.Equal(t, 1.0, res.Confidence)
	assert.True(t, res.DoorCommandSent)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "Bob", res.Candidates[1].Name)

	require.Len(t, f.publisher.commands, 1)
	assert.Equal(t, models.DoorActionOpen, f.publisher.commands[0].Action)
	assert.Equal(t, "Alice", f.publisher.commands[0].Name)
	assert.Equal(t, res.EventID, f.publisher.commands[0].EventID)

	require.Len(t, f.publisher.events, 1)
	assert.True(t, f.publisher.events[0].DoorCommandSent)
	assert.Equal(t, res.EventID, f.accessLog.events[0].ID)

	recognition := f.extractor.calls[len(f.extractor.calls)-1]
	assert.Equal(t, vision.DetectorOpenCV, recognition.Detector)
	assert.False(t, recognition.EnforceDetection)

	alice, err := f.store.Get("Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.RecognitionCount)
}

func TestRecognize_NotRecognizedKeepsDoorShut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Image: solid(t, red)})
	require.NoError(t, err)

	res, err := f.svc.Recognize(ctx, solid(t, blue))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	require.NotNil(t, res.Name)
	assert.Equal(t, "Alice", *res.Name)
	assert.False(t, res.DoorCommandSent)
	assert.Empty(t, f.publisher.commands)
}

func TestRecognize_SideEffectFailuresAreLoggedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "Alice", Image: solid(t, red)})
	require.NoError(t, err)
	f.publisher.doorErr = errors.New("nats down")
	f.accessLog.err = errors.New("db down")

	res, err := f.svc.Recognize(ctx, solid(t, red))
	require.NoError(t, err)
	assert.True(t, res.Recognized)
	assert.False(t, res.DoorCommandSent)
	require.Len(t, f.publisher.events, 1)
	assert.False(t, f.publisher.events[0].DoorCommandSent)
}

func TestRecognize_NoFace(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = vision.ErrNoFaceDetected

	_, err := f.svc.Recognize(context.Background(), solid(t, red))
	assert.ErrorIs(t, err, vision.ErrNoFaceDetected)
	assert.Empty(t, f.accessLog.events)
}

func TestRecognize_KeepsVisitorImage(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.KeepVisitorImages = true

	res, err := f.svc.Recognize(context.Background(), solid(t, red))
	require.NoError(t, err)
	assert.Equal(t, "http://minio/faces-bucket/visitors/"+res.EventID.String()+".jpg", res.ImageURL)
	assert.Equal(t, res.ImageURL, f.accessLog.events[0].ImageURL)
}

func TestCamera(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	_, err := f.svc.RecognizeFromCamera(ctx)
	assert.ErrorIs(t, err, capture.ErrCaptureUnavailable)
	_, err = f.svc.EnrollFromCamera(ctx, "Alice", "", identity.ModeAppend)
	assert.ErrorIs(t, err, capture.ErrCaptureUnavailable)

	f = newFixture(t, WithCamera(fakeCamera{frame: solid(t, red)}))
	enrolled, err := f.svc.EnrollFromCamera(ctx, "Alice", "door", identity.ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, "door", enrolled.VariationLabel)

	res, err := f.svc.RecognizeFromCamera(ctx)
	require.NoError(t, err)
	assert.True(t, res.Recognized)
	assert.Equal(t, SourceCamera, f.accessLog.events[0].Source)

	f = newFixture(t, WithCamera(fakeCamera{err: capture.ErrCaptureUnavailable}))
	_, err = f.svc.RecognizeFromCamera(ctx)
	assert.ErrorIs(t, err, capture.ErrCaptureUnavailable)
}

func TestListVariationsMetadataAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, req := range []EnrollRequest{
		{Name: "Bob", Image: solid(t, blue)},
		{Name: "Alice", Image: solid(t, red)},
		{Name: "Alice", Label: "hat", Image: solid(t, red)},
	} {
		_, err := f.svc.Enroll(ctx, req)
		require.NoError(t, err)
	}

	list := f.svc.ListIdentities()
	require.Len(t, list, 2)
	assert.Equal(t, "Bob", list[0].Name)
	assert.Equal(t, []string{"default", "hat"}, list[1].Variations)
	assert.Equal(t, 2, list[1].TotalVariations)

	vars, err := f.svc.Variations("Alice")
	require.NoError(t, err)
	require.Len(t, vars, 2)
	assert.Equal(t, "hat", vars[1].Label)
	assert.NotEmpty(t, vars[1].ImageURL)
	hatImage := vars[1].ImagePath
	assert.FileExists(t, hatImage)

	_, err = f.svc.Variations("Carol")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	meta := f.svc.Metadata()
	assert.Equal(t, []string{"Bob", "Alice"}, meta.Order)
	assert.Equal(t, 2, meta.Identities["Alice"].TotalEmbeddings)

	ok, err := f.svc.DeleteVariation(ctx, "Alice", "hat")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, hatImage)

	ok, err = f.svc.DeleteVariation(ctx, "Alice", "default")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.svc.Variations("Alice")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	ok, err = f.svc.DeleteIdentity(ctx, "Nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
