// Package coordinator runs the polling loop that ties touch input, gesture
// recognition, display power and rendering together.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phinze/knobdeck/internal/clock"
	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/orientation"
	"github.com/phinze/knobdeck/internal/power"
	"github.com/phinze/knobdeck/internal/rotation"
)

// Defaults for Options fields left zero.
const (
	DefaultTickInterval       = 10 * time.Millisecond
	DefaultMaxRows            = 60
	DefaultSleepRenderDivisor = 50
)

// Renderer draws one frame and hands each dirty tile to emit. The tile's
// Pix may be modified by emit.
type Renderer interface {
	Render(state power.State, emit func(rotation.Tile) error) error
}

// UI receives the touches and dial events that are allowed through.
type UI interface {
	HandleTouch(ev input.TouchEvent)
	HandleDial(ev input.DialEvent)
}

// Options configures a Coordinator.
type Options struct {
	Clock    clock.Clock
	Touch    device.TouchSource
	Panel    device.Panel
	Renderer Renderer
	UI       UI

	// Ready gates immersive mode. Nil means always ready.
	Ready func() bool

	Orientation orientation.Orientation
	Power       power.Config

	// MaxRows sizes the rotation buffer in full panel rows.
	MaxRows      int
	TickInterval time.Duration
	// SleepRenderDivisor renders one frame in this many ticks while the
	// render priority is lowered.
	SleepRenderDivisor int
}

// Coordinator owns the polling loop. Tick and Run must not be called
// concurrently with each other.
type Coordinator struct {
	clk         clock.Clock
	touch       device.TouchSource
	panel       device.Panel
	renderer    Renderer
	ui          UI
	ready       func() bool
	orientation *orientation.Setting
	transformer *rotation.Transformer
	recognizer  *gesture.Recognizer
	power       *power.Machine

	tickInterval time.Duration
	divisor      int

	lowPriority atomic.Bool
	dials       chan input.DialEvent

	// Polling goroutine only.
	ticks     uint64
	uiPressed bool

	mu      sync.Mutex
	running bool
}

// New wires a coordinator from opts.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SleepRenderDivisor <= 0 {
		opts.SleepRenderDivisor = DefaultSleepRenderDivisor
	}

	c := &Coordinator{
		clk:          opts.Clock,
		touch:        opts.Touch,
		panel:        opts.Panel,
		renderer:     opts.Renderer,
		ui:           opts.UI,
		ready:        opts.Ready,
		orientation:  orientation.NewSetting(opts.Orientation),
		transformer:  rotation.NewTransformer(opts.Panel.Size(), opts.MaxRows),
		tickInterval: opts.TickInterval,
		divisor:      opts.SleepRenderDivisor,
		dials:        make(chan input.DialEvent, 64),
	}
	c.power = power.New(opts.Clock, &panelOutput{panel: opts.Panel, low: &c.lowPriority}, opts.Power)
	c.power.SetReadiness(opts.Ready)
	c.recognizer = gesture.New(c.power, opts.Ready)
	return c
}

// Power returns the display power state machine.
func (c *Coordinator) Power() *power.Machine {
	return c.power
}

// PowerState returns the current display power state.
func (c *Coordinator) PowerState() power.State {
	return c.power.State()
}

// Orientation returns the active orientation.
func (c *Coordinator) Orientation() orientation.Orientation {
	return c.orientation.Get()
}

// SetOrientation changes the mounting at runtime. Values other than 0 and
// 180 are logged and treated as 0. The next tick's render and gesture
// classification both observe the new value.
func (c *Coordinator) SetOrientation(deg int) {
	c.orientation.SetDegrees(deg)
}

// OnActivity registers fn to run after every activity signal.
func (c *Coordinator) OnActivity(fn func()) {
	c.power.OnActivity(fn)
}

// OnGesture registers fn to receive classified gestures.
func (c *Coordinator) OnGesture(fn func(input.GestureEvent)) {
	c.recognizer.OnGesture(fn)
}

// HandleDial queues a dial event for the next tick. It is safe to call from
// any goroutine; events beyond the queue depth are dropped.
func (c *Coordinator) HandleDial(ev input.DialEvent) {
	select {
	case c.dials <- ev:
	default:
		log.Printf("coordinator: dial queue full, dropping %s", ev.Type)
	}
}

// Run ticks until ctx is cancelled or a driver error occurs. The power
// timeout check runs on its own timer for the duration of Run.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	svc := clock.NewService(c.clk)
	defer svc.Close()
	stop := c.power.Start(svc)
	defer stop()

	ticker := c.clk.Ticker(c.tickInterval)
	defer ticker.Stop()

	for {
		if err := c.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs exactly one iteration of the loop: sample touch, classify,
// dispatch, apply queued intents, render.
func (c *Coordinator) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nil
	}

	// One snapshot per tick so gestures and pixels never disagree.
	o := c.orientation.Get()

	s, ok, err := c.touch.SampleTouch()
	if err != nil {
		return fmt.Errorf("coordinator: sample touch: %w", err)
	}
	if ok {
		if s.At.IsZero() {
			s.At = c.clk.Now()
		}
		c.handleSample(s, o)
	}

	c.drainDials()

	enter, exit := c.recognizer.Intents().Drain()
	if enter {
		c.power.EnterImmersive(c.ready())
	}
	if exit {
		c.power.ExitImmersive()
	}

	return c.render(o)
}

func (c *Coordinator) handleSample(s gesture.Sample, o orientation.Orientation) {
	res := c.recognizer.Step(s, o)

	if s.Pressed && res.Dispatch {
		if !c.uiPressed {
			c.uiPressed = true
			c.deliverTouch(input.TouchEvent{Type: input.TouchPressed, Point: res.Point})
		}
		return
	}
	// A dispatched press always gets its release, even if the contact is
	// being swallowed now.
	if c.uiPressed {
		c.uiPressed = false
		c.deliverTouch(input.TouchEvent{Type: input.TouchReleased, Point: res.Point})
	}
}

func (c *Coordinator) deliverTouch(ev input.TouchEvent) {
	if c.ui != nil {
		c.ui.HandleTouch(ev)
	}
}

func (c *Coordinator) drainDials() {
	for {
		select {
		case ev := <-c.dials:
			wasNormal := c.power.State() == power.Normal
			c.power.Activity()
			if wasNormal && c.ui != nil {
				c.ui.HandleDial(ev)
			}
		default:
			return
		}
	}
}

func (c *Coordinator) render(o orientation.Orientation) error {
	c.ticks++
	if c.lowPriority.Load() && c.ticks%uint64(c.divisor) != 0 {
		return nil
	}
	if c.renderer == nil {
		return nil
	}

	err := c.renderer.Render(c.power.State(), func(t rotation.Tile) error {
		return c.transformer.Flush(c.panel, t, o)
	})
	if err != nil {
		return fmt.Errorf("coordinator: render: %w", err)
	}
	return nil
}

// panelOutput drives the panel on behalf of the power state machine.
type panelOutput struct {
	panel device.Panel
	low   *atomic.Bool
}

func (p *panelOutput) SetBacklight(level uint8) error {
	return p.panel.SetBacklight(level)
}

func (p *panelOutput) SetPanelPower(on bool) error {
	return p.panel.SetPower(on)
}

func (p *panelOutput) SetRenderPriority(low bool) {
	p.low.Store(low)
}
