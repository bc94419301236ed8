// Package rgb565 provides the 16bpp render target used by the scene and the
// byte-order helpers used by the panel pipeline.
//
// Pixels are stored little-endian (low byte first), which is what the
// renderer produces on the host and on the MCU. Panels on a QSPI/SPI bus
// expect big-endian, so every flush goes through SwapBytes.
package rgb565

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Color is a packed rrrrrggggggbbbbb value.
type Color uint16

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	r8, g8, b8 := c.RGB888()
	r = uint32(r8) * 0x101
	g = uint32(g8) * 0x101
	b = uint32(b8) * 0x101
	return r, g, b, 0xFFFF
}

// RGB888 expands c to 8 bits per channel.
func (c Color) RGB888() (r, g, b uint8) {
	rr := (uint16(c) >> 11) & 0x1F
	gg := (uint16(c) >> 5) & 0x3F
	bb := uint16(c) & 0x1F
	return uint8(rr * 255 / 31), uint8(gg * 255 / 63), uint8(bb * 255 / 31)
}

// Pack converts 8-bit channels to a Color.
func Pack(r, g, b uint8) Color {
	return Color(uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3))
}

func toColor(c color.Color) color.Color {
	if v, ok := c.(Color); ok {
		return v
	}
	r, g, b, _ := c.RGBA()
	return Pack(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// Model converts arbitrary colors to Color.
var Model = color.ModelFunc(toColor)

// Image is an RGB565 image with little-endian pixel storage.
type Image struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// New allocates an image with bounds r.
func New(r image.Rectangle) *Image {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &Image{Rect: r}
	}
	return &Image{
		Pix:    make([]byte, w*h*2),
		Stride: w * 2,
		Rect:   r,
	}
}

// FromImage converts src into a new RGB565 image with the same bounds.
func FromImage(src image.Image) *Image {
	dst := New(src.Bounds())
	draw.Draw(dst, dst.Rect, src, src.Bounds().Min, draw.Src)
	return dst
}

func (p *Image) ColorModel() color.Model { return Model }
func (p *Image) Bounds() image.Rectangle { return p.Rect }

func (p *Image) At(x, y int) color.Color {
	return p.RGB565At(x, y)
}

// RGB565At returns the packed pixel at (x, y), or 0 outside the bounds.
func (p *Image) RGB565At(x, y int) Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return 0
	}
	i := p.PixOffset(x, y)
	return Color(uint16(p.Pix[i]) | uint16(p.Pix[i+1])<<8)
}

func (p *Image) Set(x, y int, c color.Color) {
	p.SetRGB565(x, y, Model.Convert(c).(Color))
}

// SetRGB565 stores a packed pixel without color conversion.
func (p *Image) SetRGB565(x, y int, c Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i] = byte(c)
	p.Pix[i+1] = byte(c >> 8)
}

// PixOffset returns the index of the low byte of the pixel at (x, y).
func (p *Image) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

// Fill paints the whole image with c.
func (p *Image) Fill(c Color) {
	lo, hi := byte(c), byte(c>>8)
	for i := 0; i+1 < len(p.Pix); i += 2 {
		p.Pix[i] = lo
		p.Pix[i+1] = hi
	}
}

// CopyRect returns the pixels of r packed row by row with no stride
// padding, in the layout a tile flush expects.
func (p *Image) CopyRect(r image.Rectangle) []byte {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return nil
	}
	rowBytes := r.Dx() * 2
	out := make([]byte, 0, rowBytes*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := p.PixOffset(r.Min.X, y)
		out = append(out, p.Pix[i:i+rowBytes]...)
	}
	return out
}

// SwapBytes converts every 16-bit pixel in buf between little- and
// big-endian in place. A trailing odd byte is left untouched.
func SwapBytes(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = buf[i+1], buf[i]
	}
}

// DecodeBigEndian writes big-endian panel bytes for region r into dst,
// which is how backends that keep a host-side framebuffer consume
// WriteRegion payloads.
func DecodeBigEndian(dst draw.Image, r image.Rectangle, pix []byte) {
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if i+1 >= len(pix) {
				return
			}
			dst.Set(x, y, Color(uint16(pix[i])<<8|uint16(pix[i+1])))
			i += 2
		}
	}
}
