// Package device defines the abstraction layer between the display core and
// the hardware it drives. The SPI panel, the Stream Deck touch strip and the
// emulator window all implement these interfaces.
package device

import (
	"errors"
	"image"

	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
)

// ErrClosed is returned by backends that have been closed or unplugged.
var ErrClosed = errors.New("device: closed")

// Panel is the write side of a display.
type Panel interface {
	// Size returns the panel resolution in pixels.
	Size() image.Point

	// WriteRegion sends big-endian RGB565 pixels for r, row-major.
	// It is called exactly once per dirty tile.
	WriteRegion(r image.Rectangle, pix []byte) error

	// SetBacklight sets the brightness, 0 (off) to 255.
	SetBacklight(level uint8) error

	// SetPower turns the panel controller on or off.
	SetPower(on bool) error
}

// TouchSource is polled once per tick. ok is false when the controller had
// no new data; the previous contact state is then assumed unchanged.
type TouchSource interface {
	SampleTouch() (s gesture.Sample, ok bool, err error)
}

// DialHandler is called for every detent or dial press.
type DialHandler func(ev input.DialEvent)

// DialSource is implemented by backends that have a rotary encoder.
type DialSource interface {
	OnDial(fn DialHandler)
}

// Backend is a complete device: a panel, a touch source and a lifecycle.
type Backend interface {
	Panel
	TouchSource

	Open() error
	Close() error
	ModelName() string
}
