package onnx

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/your-org/facedoor/internal/vision"
)

// cropFace cuts the box out of img with 10% padding on each side, clamped
// to the image. It returns nil for an empty box.
func cropFace(img image.Image, bbox [4]float32) *image.RGBA {
	bounds := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	padW := r.Dx() / 10
	padH := r.Dy() / 10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(bounds)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}

// eyeAngle returns the angle of the line from the left to the right eye.
func eyeAngle(lm [5][2]float32) float64 {
	dx := float64(lm[1][0] - lm[0][0])
	dy := float64(lm[1][1] - lm[0][1])
	return math.Atan2(dy, dx)
}

// rotate turns img by theta radians around its center. Uncovered corners
// stay black.
func rotate(img *image.RGBA, theta float64) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	sin, cos := math.Sincos(theta)

	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

// alignedCrop crops det and levels its eye line when landmarks exist.
func alignedCrop(img image.Image, det vision.Detection, align bool) *image.RGBA {
	crop := cropFace(img, det.BBox)
	if crop == nil || !align || !det.HasLandmarks {
		return crop
	}
	angle := eyeAngle(det.Landmarks)
	if math.Abs(angle) < 1e-3 {
		return crop
	}
	return rotate(crop, -angle)
}
