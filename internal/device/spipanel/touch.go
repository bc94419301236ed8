package spipanel

import (
	"fmt"
	"image"

	"periph.io/x/conn/v3/i2c"

	"github.com/phinze/knobdeck/internal/gesture"
)

// CST816 registers.
const (
	regFingerNum = 0x02 // followed by XH, XL, YH, YL
)

// Touch polls a CST816 capacitive touch controller.
type Touch struct {
	dev  *i2c.Dev
	size image.Point
	last image.Point
}

// NewTouch wraps a touch controller at addr on bus. Reported points are
// clamped to size.
func NewTouch(bus i2c.Bus, addr uint16, size image.Point) *Touch {
	return &Touch{
		dev:  &i2c.Dev{Bus: bus, Addr: addr},
		size: size,
	}
}

// Sample reads the current contact. A released sample carries the last
// pressed point, matching what the controller reports on lift.
func (t *Touch) Sample() (gesture.Sample, error) {
	buf := make([]byte, 5)
	if err := t.dev.Tx([]byte{regFingerNum}, buf); err != nil {
		return gesture.Sample{}, fmt.Errorf("touch read: %w", err)
	}

	if buf[0] == 0 {
		return gesture.Sample{Point: t.last, Pressed: false}, nil
	}

	x := int(buf[1]&0x0F)<<8 | int(buf[2])
	y := int(buf[3]&0x0F)<<8 | int(buf[4])
	p := image.Pt(
		max(0, min(t.size.X-1, x)),
		max(0, min(t.size.Y-1, y)),
	)
	t.last = p
	return gesture.Sample{Point: p, Pressed: true}, nil
}
