// Package cascade wraps the OpenCV Haar-cascade frontal face detector.
package cascade

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/vision"
)

// Detector finds faces with a Haar cascade. Safe for concurrent use.
type Detector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    image.Point
}

// New loads the cascade XML (e.g. haarcascade_frontalface_default.xml).
func New(path string) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("load face cascade %q", path)
	}
	return &Detector{classifier: classifier, minSize: image.Point{X: 30, Y: 30}}, nil
}

// Detect implements vision.FaceFinder. Boxes carry no landmarks.
func (d *Detector) Detect(img *imaging.RGBImage) ([]vision.Detection, error) {
	rects, err := d.Rects(img.Pix, img.Width, img.Height)
	if err != nil {
		return nil, err
	}
	dets := make([]vision.Detection, len(rects))
	for i, r := range rects {
		dets[i] = vision.Detection{
			BBox:       [4]float32{float32(r.Min.X), float32(r.Min.Y), float32(r.Max.X), float32(r.Max.Y)},
			Confidence: 1,
		}
	}
	return dets, nil
}

// Rects returns face rectangles in a packed RGB buffer of w x h pixels,
// largest first. Two passes run: a strict one, then a relaxed one when
// the first finds nothing.
func (d *Detector) Rects(pix []byte, w, h int) ([]image.Rectangle, error) {
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(gray, &equalized)

	d.mu.Lock()
	faces := d.classifier.DetectMultiScaleWithParams(equalized, 1.1, 5, 0, d.minSize, image.Point{})
	if len(faces) == 0 {
		faces = d.classifier.DetectMultiScaleWithParams(equalized, 1.05, 3, 0, image.Point{X: 20, Y: 20}, image.Point{})
	}
	d.mu.Unlock()

	sort.SliceStable(faces, func(i, j int) bool {
		return area(faces[i]) > area(faces[j])
	})
	return faces, nil
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

func (d *Detector) Close() {
	d.classifier.Close()
}
