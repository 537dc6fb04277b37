package vision

import (
	"fmt"
	"math"

	"github.com/your-org/facedoor/internal/imaging"
)

const (
	// MinUsableSide is the shorter side below which images are upscaled.
	MinUsableSide = 160

	lumaReject       = 8.0
	lumaRejectBright = 248.0
	lumaLow          = 70.0
	lumaHigh         = 190.0
	lumaTarget       = 128.0

	sharpenWeight = 0.3
)

// Preprocess prepares an image for extraction: upscale to MinUsableSide,
// brightness correction toward mid-gray, then a mild sharpening blend.
// The input is not modified.
func Preprocess(img *imaging.RGBImage) (*imaging.RGBImage, error) {
	out := upscale(img)

	mean := MeanLuminance(out)
	if mean < lumaReject || mean > lumaRejectBright {
		return nil, fmt.Errorf("%w: mean luminance %.1f", ErrImageQualityRejected, mean)
	}
	if mean < lumaLow || mean > lumaHigh {
		applyGain(out, lumaTarget/mean)
	}

	return sharpen(out), nil
}

func upscale(img *imaging.RGBImage) *imaging.RGBImage {
	short := min(img.Width, img.Height)
	if short >= MinUsableSide || short == 0 {
		return img.Clone()
	}
	scale := float64(MinUsableSide) / float64(short)
	w := int(math.Round(float64(img.Width) * scale))
	h := int(math.Round(float64(img.Height) * scale))
	return imaging.FromImage(imaging.Resize(img, w, h))
}

// MeanLuminance returns the mean Rec. 601 luma of img in [0, 255].
func MeanLuminance(img *imaging.RGBImage) float64 {
	n := img.Width * img.Height
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(img.Pix); i += 3 {
		sum += 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
	}
	return sum / float64(n)
}

func applyGain(img *imaging.RGBImage, gain float64) {
	for i, v := range img.Pix {
		img.Pix[i] = clampByte(float64(v) * gain)
	}
}

// sharpen blends img with a 3x3 sharpen pass (0,-1,0 / -1,5,-1 / 0,-1,0).
// Borders replicate the edge pixel.
func sharpen(img *imaging.RGBImage) *imaging.RGBImage {
	w, h := img.Width, img.Height
	out := imaging.NewRGBImage(w, h)
	at := func(x, y, c int) float64 {
		x = max(0, min(w-1, x))
		y = max(0, min(h-1, y))
		return float64(img.Pix[img.PixOffset(x, y)+c])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				center := float64(img.Pix[o+c])
				s := 5*center - at(x-1, y, c) - at(x+1, y, c) - at(x, y-1, c) - at(x, y+1, c)
				s = math.Max(0, math.Min(255, s))
				out.Pix[o+c] = clampByte((1-sharpenWeight)*center + sharpenWeight*s)
			}
		}
	}
	return out
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
