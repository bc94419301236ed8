// Package emulator provides a GUI-based emulator of the round knob display.
package emulator

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/rgb565"
)

// Layout constants
const (
	panelSize    = 360 // Native panel resolution (360x360, round)
	ringWidth    = 28  // Dial ring drawn around the panel
	marginX      = 40
	marginY      = 20
	headerHeight = 30
	footerHeight = 40

	panelX       = marginX + ringWidth
	panelY       = headerHeight + marginY + ringWidth
	windowWidth  = 2*marginX + 2*ringWidth + panelSize
	windowHeight = headerHeight + 2*marginY + 2*ringWidth + panelSize + footerHeight
)

// Emulator implements device.Backend and device.DialSource using Ebitengine
// for GUI rendering.
type Emulator struct {
	mu sync.RWMutex

	// State
	open      bool
	powered   bool
	backlight uint8
	frame     *image.RGBA

	// Touch state sampled by the polling loop.
	touching   bool
	touchPoint image.Point

	// Handlers
	dialHandlers   []device.DialHandler
	rotateHandlers []func()

	// Ebitengine state
	game       *emulatorGame
	stopCh     chan struct{}
	listenDone chan struct{}
}

// New creates a new emulator instance.
func New() *Emulator {
	return &Emulator{
		powered:   true,
		backlight: 255,
		frame:     image.NewRGBA(image.Rect(0, 0, panelSize, panelSize)),
		stopCh:    make(chan struct{}),
	}
}

// Open initializes the emulator.
func (e *Emulator) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.open {
		return fmt.Errorf("emulator: device is already open")
	}

	e.open = true
	e.stopCh = make(chan struct{})
	return nil
}

// Close shuts down the emulator.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return fmt.Errorf("emulator: device is not open")
	}

	e.open = false

	// Signal the game loop to stop
	close(e.stopCh)

	return nil
}

// IsOpen returns whether the emulator is open.
func (e *Emulator) IsOpen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.open
}

// ModelName returns the emulated model name.
func (e *Emulator) ModelName() string {
	return "Knob 360 (Emulator)"
}

// Size returns the panel resolution.
func (e *Emulator) Size() image.Point {
	return image.Pt(panelSize, panelSize)
}

// WriteRegion decodes big-endian RGB565 pixels into the framebuffer.
func (e *Emulator) WriteRegion(r image.Rectangle, pix []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return device.ErrClosed
	}
	if !r.In(e.frame.Rect) {
		return fmt.Errorf("emulator: region %v outside panel", r)
	}
	if len(pix) < r.Dx()*r.Dy()*2 {
		return fmt.Errorf("emulator: region %v needs %d bytes, got %d", r, r.Dx()*r.Dy()*2, len(pix))
	}
	rgb565.DecodeBigEndian(e.frame, r, pix)
	return nil
}

// SetBacklight sets the display brightness.
func (e *Emulator) SetBacklight(level uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backlight = level
	return nil
}

// SetPower turns the emulated panel on or off.
func (e *Emulator) SetPower(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.powered = on
	return nil
}

// SampleTouch returns the current mouse contact.
func (e *Emulator) SampleTouch() (gesture.Sample, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.open {
		return gesture.Sample{}, false, device.ErrClosed
	}
	return gesture.Sample{Point: e.touchPoint, Pressed: e.touching}, true, nil
}

// OnDial registers a dial handler.
func (e *Emulator) OnDial(fn device.DialHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialHandlers = append(e.dialHandlers, fn)
}

// OnRotateKey registers a handler for the R key, used to flip the
// orientation at runtime.
func (e *Emulator) OnRotateKey(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotateHandlers = append(e.rotateHandlers, fn)
}

// Listen blocks until the emulator window is closed.
// For the emulator, the actual event loop runs via RunGUI() which must be called from main.
func (e *Emulator) Listen() error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return fmt.Errorf("emulator: device is not open")
	}
	if e.listenDone == nil {
		e.listenDone = make(chan struct{})
	}
	done := e.listenDone
	e.mu.Unlock()

	// Block until GUI is closed
	<-done
	return nil
}

// RunGUI starts the Ebitengine GUI loop. This MUST be called from the main goroutine
// on macOS due to Cocoa threading requirements. This method blocks until the window is closed.
func (e *Emulator) RunGUI() error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return fmt.Errorf("emulator: device is not open")
	}
	if e.listenDone == nil {
		e.listenDone = make(chan struct{})
	}
	e.game = &emulatorGame{emu: e, screen: ebiten.NewImage(panelSize, panelSize)}
	e.mu.Unlock()

	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetWindowTitle("Knob Emulator")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeDisabled)

	// Run the game loop (this blocks until the window is closed)
	err := ebiten.RunGame(e.game)

	// Signal Listen() to unblock
	close(e.listenDone)
	return err
}

// emulatorGame implements ebiten.Game for the emulator.
type emulatorGame struct {
	emu    *Emulator
	screen *ebiten.Image
	panel  *ebiten.Image
	mask   *ebiten.Image
	ring   *ebiten.Image

	dialPressedAt time.Time
}

func (g *emulatorGame) Update() error {
	// Check for stop signal
	select {
	case <-g.emu.stopCh:
		return ebiten.Termination
	default:
	}

	g.handleInput()
	return nil
}

func (g *emulatorGame) Draw(screen *ebiten.Image) {
	// Background
	screen.Fill(color.RGBA{30, 30, 30, 255})

	if g.ring == nil {
		g.ring = newDisc(panelSize/2+ringWidth, color.RGBA{70, 70, 70, 255})
		g.mask = newRoundMask(panelSize)
		g.panel = ebiten.NewImage(panelSize, panelSize)
	}

	// Dial ring
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(panelX-ringWidth), float64(panelY-ringWidth))
	screen.DrawImage(g.ring, op)

	g.emu.mu.RLock()
	powered := g.emu.powered
	level := g.emu.backlight
	if powered {
		g.screen.WritePixels(g.emu.frame.Pix)
	}
	g.emu.mu.RUnlock()

	panel := g.panel
	panel.Fill(color.Black)
	if powered {
		op := &ebiten.DrawImageOptions{}
		// Apply backlight
		b := float32(level) / 255
		op.ColorScale.Scale(b, b, b, 1)
		panel.DrawImage(g.screen, op)
	}
	// Clip to the round glass.
	maskOp := &ebiten.DrawImageOptions{Blend: ebiten.BlendDestinationIn}
	panel.DrawImage(g.mask, maskOp)

	op = &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(panelX), float64(panelY))
	screen.DrawImage(panel, op)

	// Draw title
	ebitenutil.DebugPrintAt(screen, "Knob Emulator", windowWidth/2-40, 8)

	status := fmt.Sprintf("backlight %d", level)
	if !powered {
		status = "panel off"
	}
	ebitenutil.DebugPrintAt(screen, status, marginX, windowHeight-footerHeight+4)

	// Draw instructions
	ebitenutil.DebugPrintAt(screen, "Click/drag = touch | Scroll = dial | Space = press | R = rotate", 10, windowHeight-18)
}

func (g *emulatorGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return windowWidth, windowHeight
}

func (g *emulatorGame) handleInput() {
	mx, my := ebiten.CursorPosition()
	p := image.Pt(mx-panelX, my-panelY)
	mousePressed := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)

	g.emu.mu.Lock()
	switch {
	case inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft):
		// Only contacts that start on the glass count.
		if onGlass(p) {
			g.emu.touching = true
			g.emu.touchPoint = clampPoint(p)
		}
	case g.emu.touching && mousePressed:
		g.emu.touchPoint = clampPoint(p)
	case g.emu.touching && !mousePressed:
		g.emu.touching = false
	}
	g.emu.mu.Unlock()

	// Handle scroll wheel for dial rotation
	if _, wheelY := ebiten.Wheel(); wheelY != 0 {
		delta := int8(max(-5, min(5, wheelY*2)))
		if delta == 0 {
			delta = 1
			if wheelY < 0 {
				delta = -1
			}
		}
		g.triggerDial(input.DialEvent{Type: input.DialRotate, Delta: delta})
	}

	if inpututil.IsKeyJustPressed(ebiten.KeySpace) || inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonRight) {
		g.dialPressedAt = time.Now()
		g.triggerDial(input.DialEvent{Type: input.DialPress})
	}
	if inpututil.IsKeyJustReleased(ebiten.KeySpace) || inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonRight) {
		g.triggerDial(input.DialEvent{Type: input.DialRelease, Duration: time.Since(g.dialPressedAt)})
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		g.emu.mu.RLock()
		handlers := g.emu.rotateHandlers
		g.emu.mu.RUnlock()
		for _, h := range handlers {
			h()
		}
	}
}

func (g *emulatorGame) triggerDial(ev input.DialEvent) {
	g.emu.mu.RLock()
	handlers := g.emu.dialHandlers
	g.emu.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func onGlass(p image.Point) bool {
	r := panelSize / 2
	dx, dy := p.X-r, p.Y-r
	return dx*dx+dy*dy <= r*r
}

func clampPoint(p image.Point) image.Point {
	p.X = max(0, min(panelSize-1, p.X))
	p.Y = max(0, min(panelSize-1, p.Y))
	return p
}

// newDisc returns a filled circle of the given radius.
func newDisc(radius int, c color.RGBA) *ebiten.Image {
	diameter := radius * 2
	img := image.NewRGBA(image.Rect(0, 0, diameter, diameter))
	for y := 0; y < diameter; y++ {
		for x := 0; x < diameter; x++ {
			dx, dy := x-radius, y-radius
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, c)
			}
		}
	}
	return ebiten.NewImageFromImage(img)
}

// newRoundMask returns an opaque disc on a transparent square, used to clip
// the panel to its round glass.
func newRoundMask(size int) *ebiten.Image {
	return newDisc(size/2, color.RGBA{255, 255, 255, 255})
}
