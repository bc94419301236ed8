package streamdeck

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/phinze/knobdeck/internal/clock"
	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/orientation"
	"github.com/phinze/knobdeck/internal/power"
	"github.com/phinze/knobdeck/internal/rgb565"
)

type fakeStrip struct {
	open       bool
	brightness []byte
	images     []image.Image
}

func (f *fakeStrip) Open() error          { f.open = true; return nil }
func (f *fakeStrip) Close() error         { f.open = false; return nil }
func (f *fakeStrip) IsOpen() bool         { return f.open }
func (f *fakeStrip) GetModelName() string { return "Stream Deck +" }

func (f *fakeStrip) GetTouchStripImageRectangle() (image.Rectangle, error) {
	return image.Rect(0, 0, 800, 100), nil
}

func (f *fakeStrip) SetTouchStripImage(img image.Image) error {
	f.images = append(f.images, img)
	return nil
}

func (f *fakeStrip) SetBrightness(perc byte) error {
	f.brightness = append(f.brightness, perc)
	return nil
}

func openDeck(t *testing.T) (*Deck, *fakeStrip) {
	t.Helper()
	f := &fakeStrip{}
	d := newDeck(f)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d, f
}

func TestSize(t *testing.T) {
	d, _ := openDeck(t)
	if got, want := d.Size(), image.Pt(800, 100); got != want {
		t.Errorf("Size() = %v, want %v", got, want)
	}
}

func TestWriteRegionPushesStrip(t *testing.T) {
	d, f := openDeck(t)

	r := image.Rect(10, 20, 12, 22)
	red := rgb565.Pack(255, 0, 0)
	pix := make([]byte, 0, 8)
	for i := 0; i < 4; i++ {
		pix = append(pix, byte(red>>8), byte(red))
	}
	if err := d.WriteRegion(r, pix); err != nil {
		t.Fatalf("WriteRegion: %v", err)
	}
	if len(f.images) != 1 {
		t.Fatalf("pushed %d images, want 1", len(f.images))
	}
	got := color.RGBAModel.Convert(f.images[0].At(11, 21)).(color.RGBA)
	if got.R < 0xf0 || got.G != 0 || got.B != 0 {
		t.Errorf("pixel = %v, want red", got)
	}

	if err := d.WriteRegion(image.Rect(799, 0, 801, 2), pix); err == nil {
		t.Error("WriteRegion outside strip succeeded, want error")
	}
	if err := d.WriteRegion(r, pix[:4]); err == nil {
		t.Error("WriteRegion with short buffer succeeded, want error")
	}
}

func TestBacklightAndPower(t *testing.T) {
	d, f := openDeck(t)

	if err := d.SetBacklight(255); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPower(false); err != nil {
		t.Fatal(err)
	}
	// Backlight while off is remembered but not applied.
	if err := d.SetBacklight(51); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPower(true); err != nil {
		t.Fatal(err)
	}

	want := []byte{100, 0, 20}
	if len(f.brightness) != len(want) {
		t.Fatalf("brightness calls = %v, want %v", f.brightness, want)
	}
	for i := range want {
		if f.brightness[i] != want[i] {
			t.Errorf("brightness[%d] = %d, want %d", i, f.brightness[i], want[i])
		}
	}
}

func TestTapReplaysPressRelease(t *testing.T) {
	d, _ := openDeck(t)
	d.tap(image.Pt(300, 40))

	s, ok, err := d.SampleTouch()
	if err != nil || !ok || !s.Pressed || s.Point != image.Pt(300, 40) {
		t.Fatalf("first sample = %+v, %v, %v; want press at (300,40)", s, ok, err)
	}
	s, ok, _ = d.SampleTouch()
	if !ok || s.Pressed {
		t.Fatalf("second sample = %+v, %v; want release", s, ok)
	}
	if _, ok, _ := d.SampleTouch(); ok {
		t.Error("SampleTouch() on empty queue ok = true, want false")
	}
}

// drain reads n queued samples, stamping them one polling tick apart.
func drain(t *testing.T, d *Deck, n int) []gesture.Sample {
	t.Helper()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []gesture.Sample
	for i := 0; i < n; i++ {
		s, ok, err := d.SampleTouch()
		if err != nil || !ok {
			t.Fatalf("SampleTouch() #%d = ok %v, err %v", i, ok, err)
		}
		s.At = t0.Add(time.Duration(i) * 10 * time.Millisecond)
		out = append(out, s)
	}
	return out
}

type nopOutput struct{}

func (nopOutput) SetBacklight(uint8) error { return nil }
func (nopOutput) SetPanelPower(bool) error { return nil }
func (nopOutput) SetRenderPriority(bool)   {}

func TestStripGestures(t *testing.T) {
	tests := []struct {
		name   string
		replay func(d *Deck)
		n      int
		wantDY int
		want   gesture.Kind
	}{
		{"leftward reads up", func(d *Deck) { d.swipe(image.Pt(500, 50), image.Pt(380, 50)) }, 3, -120, gesture.SwipeUp},
		{"rightward reads down", func(d *Deck) { d.swipe(image.Pt(100, 50), image.Pt(250, 60)) }, 3, 150, gesture.SwipeDown},
		{"tap", func(d *Deck) { d.tap(image.Pt(300, 40)) }, 2, 0, gesture.Tap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := openDeck(t)
			tt.replay(d)
			samples := drain(t, d, tt.n)

			first, last := samples[0], samples[len(samples)-2]
			if got := last.Point.Y - first.Point.Y; got != tt.wantDY {
				t.Errorf("pressed travel dy = %d, want %d", got, tt.wantDY)
			}
			if last.Point.X != first.Point.X {
				t.Errorf("pressed travel dx = %d, want 0", last.Point.X-first.Point.X)
			}

			pm := power.New(clock.NewMock(), nopOutput{}, power.DefaultConfig())
			r := gesture.New(pm, nil)
			var res gesture.Result
			for _, s := range samples {
				res = r.Step(s, orientation.Natural)
			}
			if res.Gesture != tt.want {
				t.Errorf("recognized %v, want %v", res.Gesture, tt.want)
			}
		})
	}
}

func TestListenErrorSurfaces(t *testing.T) {
	d, _ := openDeck(t)
	d.listenErr <- errTest
	if _, _, err := d.SampleTouch(); err == nil {
		t.Error("SampleTouch() after disconnect = nil error, want error")
	}
}

func TestEmitDial(t *testing.T) {
	d, _ := openDeck(t)
	var got []input.DialEvent
	d.OnDial(func(ev input.DialEvent) { got = append(got, ev) })

	d.emitDial(input.DialEvent{Type: input.DialRotate, Delta: -2})
	d.emitDial(input.DialEvent{Type: input.DialRelease, Duration: time.Second})

	if len(got) != 2 || got[0].Delta != -2 || got[1].Type != input.DialRelease {
		t.Errorf("dial events = %+v, want rotate(-2) then release", got)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("usb gone")
