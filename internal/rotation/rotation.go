// Package rotation turns rendered tiles into panel-ready bytes.
//
// The renderer produces little-endian RGB565; the panel wants big-endian.
// When the display is mounted upside down the tile is also rotated 180°,
// which for a row-major buffer is a plain reversal of the pixel order, and
// its rectangle is mirrored into panel coordinates.
package rotation

import (
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/orientation"
	"github.com/phinze/knobdeck/internal/rgb565"
)

// ErrShortTile is returned when a tile's Pix holds fewer bytes than its
// Area requires.
var ErrShortTile = errors.New("rotation: tile pixel buffer shorter than area")

// Tile is a rectangle of freshly rendered pixels. Area is half-open; Pix
// holds Area.Dx()*Area.Dy() little-endian RGB565 pixels in row-major order.
type Tile struct {
	Area image.Rectangle
	Pix  []byte
}

// Pixels returns the number of pixels covered by Area.
func (t Tile) Pixels() int {
	if t.Area.Empty() {
		return 0
	}
	return t.Area.Dx() * t.Area.Dy()
}

// Transformer owns the scratch buffer used for 180° rotation. It is not
// safe for concurrent use; the render path is its only caller.
type Transformer struct {
	panel   image.Point
	scratch []byte
}

// NewTransformer allocates the scratch buffer once, sized for maxRows full
// panel rows. It is never resized.
func NewTransformer(panel image.Point, maxRows int) *Transformer {
	if maxRows < 0 {
		maxRows = 0
	}
	return &Transformer{
		panel:   panel,
		scratch: make([]byte, panel.X*maxRows*2),
	}
}

// Capacity returns the largest tile, in pixels, that can be rotated.
func (t *Transformer) Capacity() int {
	return len(t.scratch) / 2
}

// Panel returns the panel dimensions the transformer mirrors against.
func (t *Transformer) Panel() image.Point {
	return t.panel
}

// Transform converts tile in place to big-endian and, for Inverted,
// reverses its pixel order. It returns the panel rectangle to write and the
// bytes to send, which alias tile.Pix.
//
// A tile larger than Capacity is sent unrotated at its original area and a
// warning is logged; the scratch buffer is left untouched.
func (t *Transformer) Transform(tile Tile, o orientation.Orientation) (image.Rectangle, []byte, error) {
	n := tile.Pixels()
	if len(tile.Pix) < n*2 {
		return image.Rectangle{}, nil, fmt.Errorf("%w: area %v needs %d bytes, have %d",
			ErrShortTile, tile.Area, n*2, len(tile.Pix))
	}
	pix := tile.Pix[:n*2]

	if o != orientation.Inverted {
		rgb565.SwapBytes(pix)
		return tile.Area, pix, nil
	}

	if n > t.Capacity() {
		log.Printf("rotation: tile %dx%d (%d px) exceeds buffer of %d px, sending unrotated",
			tile.Area.Dx(), tile.Area.Dy(), n, t.Capacity())
		rgb565.SwapBytes(pix)
		return tile.Area, pix, nil
	}

	dst := t.scratch[:n*2]
	for i := 0; i < n; i++ {
		j := (n - 1 - i) * 2
		// Reverse and swap in one pass: low byte of the source pixel becomes
		// the second byte of the destination.
		dst[i*2] = pix[j+1]
		dst[i*2+1] = pix[j]
	}
	copy(pix, dst)

	return t.Mirror(tile.Area), pix, nil
}

// Mirror maps a rectangle to its 180° rotated position on the panel.
func (t *Transformer) Mirror(r image.Rectangle) image.Rectangle {
	return image.Rect(
		t.panel.X-r.Max.X, t.panel.Y-r.Max.Y,
		t.panel.X-r.Min.X, t.panel.Y-r.Min.Y,
	)
}

// Flush transforms tile and issues exactly one write to p.
func (t *Transformer) Flush(p device.Panel, tile Tile, o orientation.Orientation) error {
	r, pix, err := t.Transform(tile, o)
	if err != nil {
		return err
	}
	if err := p.WriteRegion(r, pix); err != nil {
		return fmt.Errorf("rotation: write region %v: %w", r, err)
	}
	return nil
}

// RoundArea widens r so that it starts on even coordinates and spans an
// even number of pixels in each direction, as required by panels that
// address memory in 2x2 units.
func RoundArea(r image.Rectangle) image.Rectangle {
	r = r.Canon()
	r.Min.X &^= 1
	r.Min.Y &^= 1
	// Max is exclusive; the last covered pixel must be odd, so Max is even.
	r.Max.X = (r.Max.X + 1) &^ 1
	r.Max.Y = (r.Max.Y + 1) &^ 1
	return r
}
