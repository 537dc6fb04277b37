package onnx

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/vision"
)

type fakeFinder struct {
	dets  []vision.Detection
	calls int
}

func (f *fakeFinder) Detect(*imaging.RGBImage) ([]vision.Detection, error) {
	f.calls++
	return f.dets, nil
}

// meanEmbedder returns the per-channel mean of its input so tests can tell
// which region was embedded.
type meanEmbedder struct {
	last []float32
}

func (e *meanEmbedder) InputSize() (int, int) { return 8, 8 }

func (e *meanEmbedder) Embed(chw []float32) ([]float32, error) {
	e.last = chw
	plane := len(chw) / 3
	out := make([]float32, 3)
	for c := 0; c < 3; c++ {
		var sum float32
		for _, v := range chw[c*plane : (c+1)*plane] {
			sum += v
		}
		out[c] = sum / float32(plane)
	}
	return out, nil
}

// splitImage is red on the left half and blue on the right half.
func splitImage() *imaging.RGBImage {
	img := imaging.NewRGBImage(100, 100)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if x < 50 {
				img.SetRGB(x, y, 255, 0, 0)
			} else {
				img.SetRGB(x, y, 0, 0, 255)
			}
		}
	}
	return img
}

func opts(detector string, strict bool) vision.Options {
	return vision.Options{Model: "ArcFace", Detector: detector, EnforceDetection: strict, Normalization: vision.NormalizationBase}
}

func TestRepresent_UsesFirstDetection(t *testing.T) {
	finder := &fakeFinder{dets: []vision.Detection{
		{BBox: [4]float32{60, 10, 90, 40}, Confidence: 0.9},
		{BBox: [4]float32{5, 10, 40, 40}, Confidence: 0.8},
	}}
	emb := &meanEmbedder{}
	b := newBackend(emb, finder)

	vecs, err := b.Represent(context.Background(), splitImage(), opts(vision.DetectorRetinaFace, true))
	require.NoError(t, err)
	require.Len(t, vecs, 1)

	// Blue crop: red channel at -1, blue channel at +1 under base normalization.
	assert.InDelta(t, -1, vecs[0][0], 1e-5)
	assert.InDelta(t, 1, vecs[0][2], 1e-5)
}

func TestRepresent_StrictWithoutFace(t *testing.T) {
	b := newBackend(&meanEmbedder{}, &fakeFinder{})

	_, err := b.Represent(context.Background(), splitImage(), opts(vision.DetectorRetinaFace, true))
	assert.ErrorIs(t, err, vision.ErrNoFaceDetected)
}

func TestRepresent_PermissiveUsesWholeFrame(t *testing.T) {
	b := newBackend(&meanEmbedder{}, &fakeFinder{})

	vecs, err := b.Represent(context.Background(), splitImage(), opts(vision.DetectorRetinaFace, false))
	require.NoError(t, err)
	// Half red, half blue.
	assert.InDelta(t, 0, vecs[0][0], 0.1)
	assert.InDelta(t, 0, vecs[0][2], 0.1)
}

func TestRepresent_SkipDetector(t *testing.T) {
	finder := &fakeFinder{}
	b := newBackend(&meanEmbedder{}, finder)

	_, err := b.Represent(context.Background(), splitImage(), opts(vision.DetectorSkip, true))
	require.NoError(t, err)
	assert.Zero(t, finder.calls)
}

func TestRepresent_RegisteredDetector(t *testing.T) {
	retina := &fakeFinder{}
	cascade := &fakeFinder{dets: []vision.Detection{{BBox: [4]float32{0, 0, 40, 40}}}}
	b := newBackend(&meanEmbedder{}, retina).WithDetector(vision.DetectorOpenCV, cascade)

	_, err := b.Represent(context.Background(), splitImage(), opts(vision.DetectorOpenCV, true))
	require.NoError(t, err)
	assert.Equal(t, 1, cascade.calls)
	assert.Zero(t, retina.calls)

	_, err = b.Represent(context.Background(), splitImage(), opts("mtcnn", false))
	assert.Error(t, err)
}

func TestRepresent_Cancelled(t *testing.T) {
	finder := &fakeFinder{}
	b := newBackend(&meanEmbedder{}, finder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Represent(ctx, splitImage(), opts(vision.DetectorRetinaFace, false))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, finder.calls)
}

func TestFaceTensor_Modes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{A: 255})

	base, err := FaceTensor(img, vision.NormalizationBase)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, base[0], 1e-6)
	assert.InDelta(t, -1.0, base[1], 1e-6)

	arc, err := FaceTensor(img, vision.NormalizationArcFace)
	require.NoError(t, err)
	assert.InDelta(t, 127.5/128, arc[0], 1e-6)

	fn, err := FaceTensor(img, vision.NormalizationFacenet)
	require.NoError(t, err)
	var sum float64
	for _, v := range fn {
		sum += float64(v)
	}
	assert.InDelta(t, 0, sum, 1e-4)

	_, err = FaceTensor(img, "vgg")
	assert.Error(t, err)
}

func TestAlign_LevelsEyes(t *testing.T) {
	assert.InDelta(t, math.Pi/4, eyeAngle([5][2]float32{{0, 0}, {10, 10}}), 1e-9)
	assert.InDelta(t, 0, eyeAngle([5][2]float32{{0, 5}, {10, 5}}), 1e-9)

	img := image.NewRGBA(image.Rect(0, 0, 21, 21))
	img.Set(10, 10, color.RGBA{R: 255, A: 255})
	out := rotate(img, math.Pi/2)
	assert.Equal(t, img.Bounds(), out.Bounds())
	r, _, _, _ := out.At(10, 10).RGBA()
	assert.NotZero(t, r, "rotation keeps the center fixed")
}

func TestCropFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	crop := cropFace(img, [4]float32{10, 10, 60, 60})
	require.NotNil(t, crop)
	assert.Equal(t, 60, crop.Bounds().Dx())

	edge := cropFace(img, [4]float32{90, 90, 120, 120})
	require.NotNil(t, edge)
	assert.Equal(t, 11, edge.Bounds().Dx())

	assert.Nil(t, cropFace(img, [4]float32{200, 200, 300, 300}))
}

func TestNMS(t *testing.T) {
	dets := []vision.Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.6},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.7},
	}
	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.7), kept[1].Confidence)
}
