// Package spipanel drives a round SPI display with a capacitive I2C touch
// controller, as found on single-board knob builds.
package spipanel

import (
	"fmt"
	"image"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Display controller commands.
const (
	SWRESET = 0x01
	SLPIN   = 0x10
	SLPOUT  = 0x11
	INVON   = 0x21
	NORON   = 0x13
	DISPOFF = 0x28
	DISPON  = 0x29
	CASET   = 0x2A
	RASET   = 0x2B
	RAMWR   = 0x2C
	MADCTL  = 0x36
	COLMOD  = 0x3A
)

// backlightFreq is the PWM frequency for the backlight pin.
const backlightFreq = 20 * physic.KiloHertz

// txer is the part of spi.Conn the panel uses.
type txer interface {
	Tx(w, r []byte) error
}

// Panel is an RGB565 display controller on an SPI bus.
type Panel struct {
	conn     txer
	dcPin    gpio.PinOut
	resetPin gpio.PinOut
	blPin    gpio.PinOut
	size     image.Point
	maxTx    int

	mu sync.Mutex
}

// NewPanel wraps a configured SPI connection. Pins may be nil when the
// board ties them off.
func NewPanel(conn txer, dc, reset, bl gpio.PinOut, size image.Point) *Panel {
	return &Panel{
		conn:     conn,
		dcPin:    dc,
		resetPin: reset,
		blPin:    bl,
		size:     size,
		maxTx:    4096,
	}
}

// Init resets the controller and turns the display on.
func (p *Panel) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resetPin != nil {
		p.resetPin.Out(gpio.High)
		time.Sleep(10 * time.Millisecond)
		p.resetPin.Out(gpio.Low)
		time.Sleep(50 * time.Millisecond)
		p.resetPin.Out(gpio.High)
		time.Sleep(120 * time.Millisecond)
	}

	steps := []struct {
		cmd   byte
		data  []byte
		pause time.Duration
	}{
		{SWRESET, nil, 120 * time.Millisecond},
		{SLPOUT, nil, 120 * time.Millisecond},
		{COLMOD, []byte{0x55}, 0}, // 16-bit color
		{MADCTL, []byte{0x00}, 0},
		{INVON, nil, 0}, // IPS glass needs inversion
		{NORON, nil, 10 * time.Millisecond},
		{DISPON, nil, 10 * time.Millisecond},
	}
	for _, s := range steps {
		if err := p.command(s.cmd, s.data...); err != nil {
			return fmt.Errorf("panel init 0x%02x: %w", s.cmd, err)
		}
		if s.pause > 0 {
			time.Sleep(s.pause)
		}
	}
	return nil
}

// Size returns the panel resolution.
func (p *Panel) Size() image.Point {
	return p.size
}

// WriteRegion sets the controller window to r and streams pix, which must
// already be in the controller's big-endian byte order.
func (p *Panel) WriteRegion(r image.Rectangle, pix []byte) error {
	if !r.In(image.Rectangle{Max: p.size}) {
		return fmt.Errorf("region %v outside panel", r)
	}
	n := r.Dx() * r.Dy() * 2
	if len(pix) < n {
		return fmt.Errorf("region %v needs %d bytes, got %d", r, n, len(pix))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	x0, x1 := r.Min.X, r.Max.X-1
	y0, y1 := r.Min.Y, r.Max.Y-1
	if err := p.command(CASET, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := p.command(RASET, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	if err := p.command(RAMWR); err != nil {
		return err
	}
	return p.data(pix[:n])
}

// SetBacklight drives the backlight pin with a PWM duty proportional to
// level. Pins without PWM fall back to on/off.
func (p *Panel) SetBacklight(level uint8) error {
	if p.blPin == nil {
		return nil
	}
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(level) / 255)
	if err := p.blPin.PWM(duty, backlightFreq); err != nil {
		return p.blPin.Out(level > 0)
	}
	return nil
}

// SetPower puts the controller into or out of sleep.
func (p *Panel) SetPower(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if on {
		if err := p.command(SLPOUT); err != nil {
			return err
		}
		return p.command(DISPON)
	}
	if err := p.command(DISPOFF); err != nil {
		return err
	}
	return p.command(SLPIN)
}

func (p *Panel) command(cmd byte, data ...byte) error {
	if p.dcPin != nil {
		p.dcPin.Out(gpio.Low)
	}
	if err := p.conn.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return p.data(data)
}

// data sends payload bytes in chunks no larger than the bus allows.
func (p *Panel) data(b []byte) error {
	if p.dcPin != nil {
		p.dcPin.Out(gpio.High)
	}
	for len(b) > 0 {
		n := min(len(b), p.maxTx)
		if err := p.conn.Tx(b[:n], nil); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
