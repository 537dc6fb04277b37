package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func assertCanonical(t *testing.T, img *RGBImage) {
	t.Helper()
	assert.Len(t, img.Pix, img.Width*img.Height*3)
	assert.GreaterOrEqual(t, img.Width, MinSide)
	assert.GreaterOrEqual(t, img.Height, MinSide)
	assert.LessOrEqual(t, img.Width, MaxSide)
	assert.LessOrEqual(t, img.Height, MaxSide)
}

func TestNormalize_Formats(t *testing.T) {
	src := solidNRGBA(80, 60, color.NRGBA{R: 200, G: 40, B: 10, A: 255})
	pngBytes := encodePNG(t, src)
	jpegBytes := encodeJPEG(t, src)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"png binary", pngBytes},
		{"jpeg binary", jpegBytes},
		{"base64", []byte(base64.StdEncoding.EncodeToString(pngBytes))},
		{"data url", []byte("data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes))},
		{"unpadded base64", []byte(base64.RawStdEncoding.EncodeToString(jpegBytes))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Normalize(tt.raw)
			require.NoError(t, err)
			assertCanonical(t, img)
			assert.Equal(t, 80, img.Width)
			assert.Equal(t, 60, img.Height)
		})
	}
}

func TestNormalize_ChannelOrderAndAlpha(t *testing.T) {
	src := solidNRGBA(64, 64, color.NRGBA{R: 250, G: 20, B: 5, A: 128})
	img, err := Normalize(encodePNG(t, src))
	require.NoError(t, err)

	r, g, b := img.RGB(10, 10)
	assert.Equal(t, uint8(250), r)
	assert.Equal(t, uint8(20), g)
	assert.Equal(t, uint8(5), b)
}

func TestNormalize_Grayscale(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 60, 60))
	for i := range src.Pix {
		src.Pix[i] = 77
	}
	img, err := Normalize(encodePNG(t, src))
	require.NoError(t, err)

	r, g, b := img.RGB(5, 5)
	assert.Equal(t, []uint8{77, 77, 77}, []uint8{r, g, b})
}

func TestNormalize_TooSmall(t *testing.T) {
	src := solidNRGBA(49, 200, color.NRGBA{A: 255})
	_, err := Normalize(encodePNG(t, src))
	assert.ErrorIs(t, err, ErrImageTooSmall)
}

func TestNormalize_TooSmallAfterDownscale(t *testing.T) {
	src := solidNRGBA(4000, 60, color.NRGBA{A: 255})
	_, err := Normalize(encodePNG(t, src))
	assert.ErrorIs(t, err, ErrImageTooSmall)
}

func TestNormalize_Downscale(t *testing.T) {
	src := solidNRGBA(3000, 1500, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img, err := Normalize(encodePNG(t, src))
	require.NoError(t, err)
	assertCanonical(t, img)
	assert.Equal(t, 2048, img.Width)
	assert.Equal(t, 1024, img.Height)
}

func TestNormalize_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage binary", []byte{0x00, 0x01, 0x02, 0xfe}},
		{"base64 of garbage", []byte(base64.StdEncoding.EncodeToString([]byte("not an image")))},
		{"data url without comma", []byte("data:image/png;base64")},
		{"bad base64", []byte("data:image/png;base64,@@@")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestFromImage_RoundTrip(t *testing.T) {
	img := NewRGBImage(3, 2)
	img.SetRGB(2, 1, 1, 2, 3)

	back := FromImage(img.ToRGBA())
	assert.Equal(t, img.Pix, back.Pix)
}
