package coordinator

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/phinze/knobdeck/internal/clock"
	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/power"
	"github.com/phinze/knobdeck/internal/rotation"
)

type scriptedTouch struct {
	pressed bool
	point   image.Point
	err     error
}

func (s *scriptedTouch) SampleTouch() (gesture.Sample, bool, error) {
	if s.err != nil {
		return gesture.Sample{}, false, s.err
	}
	return gesture.Sample{Point: s.point, Pressed: s.pressed}, true, nil
}

type recordingPanel struct {
	writes    []image.Rectangle
	backlight []uint8
	power     []bool
}

func (p *recordingPanel) Size() image.Point { return image.Pt(360, 360) }

func (p *recordingPanel) WriteRegion(r image.Rectangle, pix []byte) error {
	p.writes = append(p.writes, r)
	return nil
}

func (p *recordingPanel) SetBacklight(level uint8) error {
	p.backlight = append(p.backlight, level)
	return nil
}

func (p *recordingPanel) SetPower(on bool) error {
	p.power = append(p.power, on)
	return nil
}

type recordingUI struct {
	touches []input.TouchEvent
	dials   []input.DialEvent
}

func (u *recordingUI) HandleTouch(ev input.TouchEvent) { u.touches = append(u.touches, ev) }
func (u *recordingUI) HandleDial(ev input.DialEvent)   { u.dials = append(u.dials, ev) }

// bandRenderer emits one 10-row band at the top of the screen per frame.
type bandRenderer struct {
	frames []power.State
}

func (r *bandRenderer) Render(state power.State, emit func(rotation.Tile) error) error {
	r.frames = append(r.frames, state)
	if state == power.Asleep {
		return nil
	}
	return emit(rotation.Tile{
		Area: image.Rect(0, 0, 360, 10),
		Pix:  make([]byte, 360*10*2),
	})
}

type harness struct {
	mock     *clock.Mock
	touch    *scriptedTouch
	panel    *recordingPanel
	ui       *recordingUI
	renderer *bandRenderer
	c        *Coordinator
}

func newHarness(t *testing.T, ready func() bool) *harness {
	t.Helper()
	h := &harness{
		mock:     clock.NewMock(),
		touch:    &scriptedTouch{},
		panel:    &recordingPanel{},
		ui:       &recordingUI{},
		renderer: &bandRenderer{},
	}
	h.c = New(Options{
		Clock:    h.mock,
		Touch:    h.touch,
		Panel:    h.panel,
		Renderer: h.renderer,
		UI:       h.ui,
		Ready:    ready,
		Power: power.Config{
			DimTimeout:     15 * time.Second,
			SleepTimeout:   30 * time.Second,
			NormalLevel:    255,
			DimLevel:       30,
			SuppressWindow: 250 * time.Millisecond,
			CheckInterval:  250 * time.Millisecond,
		},
		SleepRenderDivisor: 5,
	})
	return h
}

// tick advances the mock clock by one 10ms tick and runs the loop once.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.mock.Add(10 * time.Millisecond)
	if err := h.c.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func (h *harness) idle(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += 250 * time.Millisecond {
		h.mock.Add(250 * time.Millisecond)
		h.c.Power().CheckTimeouts()
	}
}

func TestTapReachesUI(t *testing.T) {
	h := newHarness(t, nil)

	h.touch.pressed, h.touch.point = true, image.Pt(100, 120)
	h.tick(t)
	h.tick(t)
	h.touch.pressed = false
	h.tick(t)

	want := []input.TouchEvent{
		{Type: input.TouchPressed, Point: image.Pt(100, 120)},
		{Type: input.TouchReleased, Point: image.Pt(100, 120)},
	}
	if len(h.ui.touches) != len(want) {
		t.Fatalf("UI touches = %v, want %v", h.ui.touches, want)
	}
	for i := range want {
		if h.ui.touches[i] != want[i] {
			t.Errorf("touch %d = %+v, want %+v", i, h.ui.touches[i], want[i])
		}
	}
}

func TestWakeTouchIsSwallowed(t *testing.T) {
	h := newHarness(t, nil)
	h.idle(30 * time.Second)
	if got := h.c.PowerState(); got != power.Asleep {
		t.Fatalf("PowerState() = %v, want %v", got, power.Asleep)
	}

	// Touch and hold for 100ms, then lift: wakes the display only.
	h.touch.pressed, h.touch.point = true, image.Pt(180, 180)
	for i := 0; i < 10; i++ {
		h.tick(t)
	}
	h.touch.pressed = false
	h.tick(t)

	if got := h.c.PowerState(); got != power.Normal {
		t.Errorf("PowerState() after wake touch = %v, want %v", got, power.Normal)
	}
	if len(h.ui.touches) != 0 {
		t.Errorf("UI touches during wake = %v, want none", h.ui.touches)
	}

	// 300ms after the wake the window has closed.
	h.mock.Add(200 * time.Millisecond)
	h.touch.pressed = true
	h.tick(t)
	if len(h.ui.touches) != 1 || h.ui.touches[0].Type != input.TouchPressed {
		t.Errorf("UI touches after window = %v, want one press", h.ui.touches)
	}
}

func TestSwipeUpEntersImmersive(t *testing.T) {
	ready := false
	h := newHarness(t, func() bool { return ready })

	swipe := func() {
		h.touch.pressed, h.touch.point = true, image.Pt(180, 250)
		h.tick(t)
		h.touch.point = image.Pt(180, 150)
		h.tick(t)
		h.touch.pressed = false
		h.tick(t)
	}

	swipe()
	if got := h.c.PowerState(); got != power.Normal {
		t.Fatalf("PowerState() when not ready = %v, want %v", got, power.Normal)
	}

	ready = true
	swipe()
	if got := h.c.PowerState(); got != power.Immersive {
		t.Fatalf("PowerState() after swipe up = %v, want %v", got, power.Immersive)
	}

	// Swipe down leaves immersive mode.
	h.touch.pressed, h.touch.point = true, image.Pt(180, 100)
	h.tick(t)
	h.touch.point = image.Pt(180, 200)
	h.tick(t)
	h.touch.pressed = false
	h.tick(t)
	if got := h.c.PowerState(); got != power.Normal {
		t.Errorf("PowerState() after swipe down = %v, want %v", got, power.Normal)
	}
}

func TestTouchesLeavingImmersive(t *testing.T) {
	tests := []struct {
		name   string
		stroke func(t *testing.T, h *harness)
	}{
		{"double tap", func(t *testing.T, h *harness) {
			for i := 0; i < 2; i++ {
				h.touch.pressed, h.touch.point = true, image.Pt(180, 180)
				h.tick(t)
				h.touch.pressed = false
				h.tick(t)
			}
		}},
		{"swipe up", func(t *testing.T, h *harness) {
			h.touch.pressed, h.touch.point = true, image.Pt(180, 250)
			h.tick(t)
			h.touch.point = image.Pt(180, 150)
			h.tick(t)
			h.touch.pressed = false
			h.tick(t)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if !h.c.Power().EnterImmersive(true) {
				t.Fatal("EnterImmersive(true) = false, want true")
			}

			tt.stroke(t, h)
			// Let any queued intent be acted on.
			h.tick(t)

			if got := h.c.PowerState(); got != power.Normal {
				t.Errorf("PowerState() = %v, want %v", got, power.Normal)
			}
		})
	}
}

func TestSetOrientationMirrorsWrites(t *testing.T) {
	h := newHarness(t, nil)

	h.tick(t)
	h.c.SetOrientation(180)
	h.tick(t)
	h.c.SetOrientation(90)
	h.tick(t)

	want := []image.Rectangle{
		image.Rect(0, 0, 360, 10),
		image.Rect(0, 350, 360, 360),
		image.Rect(0, 0, 360, 10),
	}
	if len(h.panel.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", h.panel.writes, want)
	}
	for i := range want {
		if h.panel.writes[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, h.panel.writes[i], want[i])
		}
	}
}

func TestSleepThrottlesRendering(t *testing.T) {
	h := newHarness(t, nil)
	h.idle(30 * time.Second)
	h.renderer.frames = nil

	for i := 0; i < 10; i++ {
		h.tick(t)
	}
	if got := len(h.renderer.frames); got != 2 {
		t.Errorf("frames while asleep = %d, want 2", got)
	}
	if got := h.panel.power; len(got) != 1 || got[0] {
		t.Errorf("panel power calls = %v, want [false]", got)
	}
}

func TestDialWakesWithoutDelivery(t *testing.T) {
	h := newHarness(t, nil)

	h.c.HandleDial(input.DialEvent{Type: input.DialRotate, Delta: 1})
	h.tick(t)
	if len(h.ui.dials) != 1 {
		t.Fatalf("dial events = %d, want 1", len(h.ui.dials))
	}

	h.idle(15 * time.Second)
	h.c.HandleDial(input.DialEvent{Type: input.DialRotate, Delta: 1})
	h.tick(t)
	if len(h.ui.dials) != 1 {
		t.Errorf("dial events after dim = %d, want still 1", len(h.ui.dials))
	}
	if got := h.c.PowerState(); got != power.Normal {
		t.Errorf("PowerState() after dial = %v, want %v", got, power.Normal)
	}
}

func TestOnActivityAndGesture(t *testing.T) {
	h := newHarness(t, nil)
	activity := 0
	var gestures []input.GestureKind
	h.c.OnActivity(func() { activity++ })
	h.c.OnGesture(func(ev input.GestureEvent) { gestures = append(gestures, ev.Kind) })

	h.touch.pressed, h.touch.point = true, image.Pt(50, 50)
	h.tick(t)
	h.touch.pressed = false
	h.tick(t)

	if activity == 0 {
		t.Error("OnActivity listener not called")
	}
	if len(gestures) != 1 || gestures[0] != input.GestureTap {
		t.Errorf("gestures = %v, want [tap]", gestures)
	}
}

func TestTouchErrorStopsRun(t *testing.T) {
	h := newHarness(t, nil)
	busErr := errors.New("i2c: nack")
	h.touch.err = busErr

	err := h.c.Run(context.Background())
	if !errors.Is(err, busErr) {
		t.Errorf("Run() = %v, want wrapped %v", err, busErr)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
