package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"

	// Fallback codecs registered with image.Decode.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

const (
	MinSide = 50
	MaxSide = 2048
)

var (
	// ErrDecode means the input is not a readable image.
	ErrDecode = errors.New("unreadable image")
	// ErrImageTooSmall means a side is below MinSide pixels.
	ErrImageTooSmall = errors.New("image too small")
)

// Normalize decodes raw input (binary image bytes, base64 text or a
// data URL) into a packed RGB image within [MinSide, MaxSide] on each side.
func Normalize(raw []byte) (*RGBImage, error) {
	data, err := Payload(raw)
	if err != nil {
		return nil, err
	}

	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() < MinSide || b.Dy() < MinSide {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooSmall, b.Dx(), b.Dy())
	}

	if b.Dx() > MaxSide || b.Dy() > MaxSide {
		img = downscale(img, MaxSide)
		b = img.Bounds()
		if b.Dx() < MinSide || b.Dy() < MinSide {
			return nil, fmt.Errorf("%w: %dx%d after resize", ErrImageTooSmall, b.Dx(), b.Dy())
		}
	}

	return FromImage(img), nil
}

// Payload returns the encoded image bytes carried by raw, stripping a
// data URL header and decoding base64 text when present.
func Payload(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	if bytes.HasPrefix(trimmed, []byte("data:")) {
		comma := bytes.IndexByte(trimmed, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: data url without payload", ErrDecode)
		}
		return decodeBase64(string(trimmed[comma+1:]))
	}

	if looksLikeBase64(trimmed) {
		return decodeBase64(string(trimmed))
	}
	return raw, nil
}

func looksLikeBase64(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		case c == '\n', c == '\r', c == ' ', c == '\t':
		default:
			return false
		}
	}
	return true
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")

	enc := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	data, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	return data, nil
}

// decode tries the JPEG codec first and falls back to every registered format.
func decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}

	img, _, fallbackErr := image.Decode(bytes.NewReader(data))
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: jpeg: %v; fallback: %v", ErrDecode, err, fallbackErr)
	}
	return img, nil
}

// downscale shrinks img so its longer side equals maxSide, keeping the aspect ratio.
func downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	ratio := float64(maxSide) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*ratio)))
	nh := max(1, int(math.Round(float64(h)*ratio)))
	return Resize(img, nw, nh)
}

// Resize scales img to exactly w x h using Catmull-Rom resampling.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
