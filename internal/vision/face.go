package vision

import "github.com/your-org/facedoor/internal/imaging"

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
	// Landmarks are left eye, right eye, nose, left and right mouth corner.
	// HasLandmarks is false for detectors that only return boxes.
	Landmarks    [5][2]float32
	HasLandmarks bool
}

// FaceFinder locates faces in an image, most relevant first.
type FaceFinder interface {
	Detect(img *imaging.RGBImage) ([]Detection, error)
}
