package imaging

import (
	"image"
	"image/color"
)

// RGBImage is a packed 8-bit RGB raster: Pix holds Height rows of
// Width*3 bytes with no padding between rows.
type RGBImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRGBImage allocates a black image of the given size.
func NewRGBImage(w, h int) *RGBImage {
	return &RGBImage{Width: w, Height: h, Pix: make([]uint8, w*h*3)}
}

// Stride is the number of bytes per row.
func (m *RGBImage) Stride() int { return m.Width * 3 }

// PixOffset returns the index of the first byte of pixel (x, y).
func (m *RGBImage) PixOffset(x, y int) int { return y*m.Width*3 + x*3 }

func (m *RGBImage) RGB(x, y int) (r, g, b uint8) {
	i := m.PixOffset(x, y)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

func (m *RGBImage) SetRGB(x, y int, r, g, b uint8) {
	i := m.PixOffset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// Clone returns a deep copy.
func (m *RGBImage) Clone() *RGBImage {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &RGBImage{Width: m.Width, Height: m.Height, Pix: pix}
}

func (m *RGBImage) ColorModel() color.Model { return color.RGBAModel }

func (m *RGBImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *RGBImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{}
	}
	r, g, b := m.RGB(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// FromImage converts any image into packed RGB. Alpha is dropped from
// the un-premultiplied color and gray images are replicated per channel.
func FromImage(src image.Image) *RGBImage {
	b := src.Bounds()
	dst := NewRGBImage(b.Dx(), b.Dy())

	switch s := src.(type) {
	case *image.RGBA:
		// Opaque RGBA is the common output of draw operations.
		if s.Opaque() {
			for y := 0; y < dst.Height; y++ {
				row := s.Pix[(y+b.Min.Y-s.Rect.Min.Y)*s.Stride+(b.Min.X-s.Rect.Min.X)*4:]
				out := dst.Pix[y*dst.Stride():]
				for x := 0; x < dst.Width; x++ {
					out[x*3] = row[x*4]
					out[x*3+1] = row[x*4+1]
					out[x*3+2] = row[x*4+2]
				}
			}
			return dst
		}
	case *RGBImage:
		return s.Clone()
	}

	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			c := color.NRGBAModel.Convert(src.At(x+b.Min.X, y+b.Min.Y)).(color.NRGBA)
			dst.SetRGB(x, y, c.R, c.G, c.B)
		}
	}
	return dst
}

// ToRGBA returns an opaque *image.RGBA copy, suitable as a draw destination source.
func (m *RGBImage) ToRGBA() *image.RGBA {
	out := image.NewRGBA(m.Bounds())
	for y := 0; y < m.Height; y++ {
		src := m.Pix[y*m.Stride():]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < m.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return out
}
