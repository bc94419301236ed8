// Package streamdeck drives the touch strip of a Stream Deck+ as a knob
// panel. The strip's taps and swipes are replayed as touch samples and the
// device's dials feed the dial source.
package streamdeck

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"sync"
	"time"

	sd "rafaelmartins.com/p/streamdeck"

	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/rgb565"
)

// VendorID is the USB vendor ID of Elgato devices.
const VendorID = 0x0fd9

// stripDevice is the subset of *sd.Device used for drawing.
type stripDevice interface {
	Open() error
	Close() error
	IsOpen() bool
	GetModelName() string
	GetTouchStripImageRectangle() (image.Rectangle, error)
	SetTouchStripImage(img image.Image) error
	SetBrightness(perc byte) error
}

// Deck implements device.Backend and device.DialSource on a Stream Deck+.
type Deck struct {
	dev stripDevice
	hw  *sd.Device

	mu        sync.Mutex
	frame     *image.RGBA
	level     uint8
	powered   bool
	dialFns   []device.DialHandler
	samples   chan gesture.Sample
	listenErr chan error
}

// New wraps a device returned by sd.GetDevice.
func New(dev *sd.Device) *Deck {
	d := newDeck(dev)
	d.hw = dev
	return d
}

func newDeck(dev stripDevice) *Deck {
	return &Deck{
		dev:       dev,
		level:     255,
		powered:   true,
		samples:   make(chan gesture.Sample, 32),
		listenErr: make(chan error, 1),
	}
}

// Open opens the device, binds its inputs and starts its event loop.
func (d *Deck) Open() error {
	if !d.dev.IsOpen() {
		if err := d.dev.Open(); err != nil {
			return fmt.Errorf("opening stream deck: %w", err)
		}
	}

	r, err := d.dev.GetTouchStripImageRectangle()
	if err != nil {
		return fmt.Errorf("stream deck has no touch strip: %w", err)
	}
	d.mu.Lock()
	d.frame = image.NewRGBA(image.Rectangle{Max: r.Size()})
	d.mu.Unlock()

	if d.hw != nil {
		if err := d.bind(); err != nil {
			return err
		}
		go func() {
			errCh := make(chan error, 1)
			if err := d.hw.Listen(errCh); err != nil {
				d.listenErr <- err
			}
		}()
	}
	return nil
}

// Close blanks the strip and closes the device.
func (d *Deck) Close() error {
	_ = d.dev.SetBrightness(0)
	return d.dev.Close()
}

// ModelName returns the device's model name.
func (d *Deck) ModelName() string {
	return d.dev.GetModelName()
}

// Size returns the touch strip resolution.
func (d *Deck) Size() image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == nil {
		return image.Point{}
	}
	return d.frame.Rect.Size()
}

// WriteRegion decodes the region into the strip framebuffer and pushes the
// whole strip, since the device only accepts full strip images.
func (d *Deck) WriteRegion(r image.Rectangle, pix []byte) error {
	d.mu.Lock()
	if d.frame == nil {
		d.mu.Unlock()
		return device.ErrClosed
	}
	if !r.In(d.frame.Rect) {
		d.mu.Unlock()
		return fmt.Errorf("streamdeck: region %v outside strip %v", r, d.frame.Rect)
	}
	if len(pix) < r.Dx()*r.Dy()*2 {
		d.mu.Unlock()
		return fmt.Errorf("streamdeck: region %v needs %d bytes, got %d", r, r.Dx()*r.Dy()*2, len(pix))
	}
	rgb565.DecodeBigEndian(d.frame, r, pix)
	img := d.snapshotLocked()
	d.mu.Unlock()

	return d.dev.SetTouchStripImage(img)
}

func (d *Deck) snapshotLocked() *image.RGBA {
	img := image.NewRGBA(d.frame.Rect)
	copy(img.Pix, d.frame.Pix)
	return img
}

// SetBacklight maps the 0..255 level onto the device's brightness percent.
func (d *Deck) SetBacklight(level uint8) error {
	d.mu.Lock()
	d.level = level
	powered := d.powered
	d.mu.Unlock()

	if !powered {
		return nil
	}
	return d.dev.SetBrightness(percent(level))
}

// SetPower blanks the strip when off. The device has no panel power
// control, so off is brightness zero over a black image.
func (d *Deck) SetPower(on bool) error {
	d.mu.Lock()
	d.powered = on
	level := d.level
	var img *image.RGBA
	if !on && d.frame != nil {
		img = image.NewRGBA(d.frame.Rect)
		draw.Draw(img, img.Rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	} else if d.frame != nil {
		img = d.snapshotLocked()
	}
	d.mu.Unlock()

	if !on {
		if err := d.dev.SetBrightness(0); err != nil {
			return err
		}
	}
	if img != nil {
		if err := d.dev.SetTouchStripImage(img); err != nil {
			return err
		}
	}
	if on {
		return d.dev.SetBrightness(percent(level))
	}
	return nil
}

// SampleTouch returns the next replayed strip sample. It reports the event
// loop's error once the device disconnects.
func (d *Deck) SampleTouch() (gesture.Sample, bool, error) {
	select {
	case err := <-d.listenErr:
		return gesture.Sample{}, false, fmt.Errorf("stream deck disconnected: %w", err)
	default:
	}
	select {
	case s := <-d.samples:
		return s, true, nil
	default:
		return gesture.Sample{}, false, nil
	}
}

// OnDial registers a dial handler.
func (d *Deck) OnDial(fn device.DialHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialFns = append(d.dialFns, fn)
}

func (d *Deck) emitDial(ev input.DialEvent) {
	d.mu.Lock()
	fns := d.dialFns
	d.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// tap replays a strip tap as a press and release at the same point.
func (d *Deck) tap(p image.Point) {
	d.enqueue(gesture.Sample{Point: p, Pressed: true})
	d.enqueue(gesture.Sample{Point: p, Pressed: false})
}

// swipe replays a strip swipe. The strip is horizontal, so its travel is
// turned a quarter turn: leftward reads as up and rightward as down. The
// finger is reported pressed at the end point before lifting, since a
// release carries no position.
func (d *Deck) swipe(origin, dest image.Point) {
	end := image.Pt(origin.X, origin.Y+(dest.X-origin.X))
	d.enqueue(gesture.Sample{Point: origin, Pressed: true})
	d.enqueue(gesture.Sample{Point: end, Pressed: true})
	d.enqueue(gesture.Sample{Point: end, Pressed: false})
}

func (d *Deck) enqueue(s gesture.Sample) {
	select {
	case d.samples <- s:
	default:
		log.Printf("streamdeck: touch queue full, dropping sample")
	}
}

func (d *Deck) bind() error {
	if err := d.hw.AddTouchStripTouchHandler(func(_ *sd.Device, _ sd.TouchStripTouchType, p image.Point) error {
		d.tap(p)
		return nil
	}); err != nil {
		return fmt.Errorf("binding touch strip: %w", err)
	}
	if err := d.hw.AddTouchStripSwipeHandler(func(_ *sd.Device, origin, dest image.Point) error {
		d.swipe(origin, dest)
		return nil
	}); err != nil {
		return fmt.Errorf("binding touch strip swipe: %w", err)
	}

	return d.hw.ForEachDial(func(id sd.DialID) error {
		if err := d.hw.AddDialRotateHandler(id, func(_ *sd.Device, _ *sd.Dial, delta int8) error {
			d.emitDial(input.DialEvent{Type: input.DialRotate, Delta: delta})
			return nil
		}); err != nil {
			return fmt.Errorf("binding dial rotate: %w", err)
		}
		return d.hw.AddDialSwitchHandler(id, func(_ *sd.Device, di *sd.Dial) error {
			d.emitDial(input.DialEvent{Type: input.DialPress})
			held := di.WaitForRelease()
			d.emitDial(input.DialEvent{Type: input.DialRelease, Duration: held})
			return nil
		})
	})
}

func percent(level uint8) byte {
	return byte(int(level) * 100 / 255)
}

// Probe finds and opens the first attached Stream Deck, giving up after
// timeout. The USB stack can block indefinitely when it is in a bad state.
func Probe(timeout time.Duration) (*sd.Device, error) {
	type result struct {
		dev *sd.Device
		err error
	}
	ch := make(chan result, 1)

	go func() {
		dev, err := sd.GetDevice("")
		if err != nil {
			ch <- result{nil, err}
			return
		}
		if err := dev.Open(); err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{dev, nil}
	}()

	select {
	case r := <-ch:
		return r.dev, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("stream deck detection timed out after %v", timeout)
	}
}
