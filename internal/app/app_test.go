package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phinze/knobdeck/internal/bridge"
	"github.com/phinze/knobdeck/internal/clock"
	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/gesture"
	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/orientation"
)

type fakeBackend struct {
	mu      sync.Mutex
	writes  int
	dialFns []device.DialHandler
}

func (f *fakeBackend) Open() error       { return nil }
func (f *fakeBackend) Close() error      { return nil }
func (f *fakeBackend) ModelName() string { return "fake" }
func (f *fakeBackend) Size() image.Point { return image.Pt(120, 120) }

func (f *fakeBackend) WriteRegion(r image.Rectangle, pix []byte) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) SetBacklight(uint8) error { return nil }
func (f *fakeBackend) SetPower(bool) error      { return nil }

func (f *fakeBackend) SampleTouch() (gesture.Sample, bool, error) {
	return gesture.Sample{}, false, nil
}

func (f *fakeBackend) OnDial(fn device.DialHandler) {
	f.dialFns = append(f.dialFns, fn)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Display.RotationCharging = orientation.Inverted
	cfg.Display.RotationBattery = orientation.Natural
	cfg.Display.Charging.Immersive = config.Timeout{Enabled: true, TimeoutSec: 10}
	return cfg
}

func TestNewUsesChargingProfile(t *testing.T) {
	var charging atomic.Bool
	charging.Store(true)

	s, err := New(testConfig(), &fakeBackend{}, bridge.NewProbe("", "", nil), Options{
		Clock:    clock.NewMock(),
		Charging: charging.Load,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := s.Coordinator().Orientation(); got != orientation.Inverted {
		t.Errorf("Orientation() = %v, want %v", got, orientation.Inverted)
	}
	if got := s.Coordinator().Power().Config().SleepTimeout; got != 0 {
		t.Errorf("charging SleepTimeout = %v, want disabled", got)
	}

	if got := s.Coordinator().Power().Config().ImmersiveTimeout; got != 10*time.Second {
		t.Errorf("charging ImmersiveTimeout = %v, want 10s", got)
	}

	charging.Store(false)
	s.Refresh(context.Background())

	if got := s.Coordinator().Orientation(); got != orientation.Natural {
		t.Errorf("Orientation() after unplug = %v, want %v", got, orientation.Natural)
	}
	if got := s.Coordinator().Power().Config().SleepTimeout; got != 60*time.Second {
		t.Errorf("battery SleepTimeout = %v, want 60s", got)
	}
	if got := s.Coordinator().Power().Config().ImmersiveTimeout; got != 0 {
		t.Errorf("battery ImmersiveTimeout = %v, want disabled", got)
	}
}

func TestRefreshFromZones(t *testing.T) {
	var art bytes.Buffer
	if err := png.Encode(&art, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	var (
		mu      sync.Mutex
		zones   = `{"zones":[{"zone_id":"z","zone_name":"Living Room"}]}`
		failing bool
		artHits []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case failing:
			w.WriteHeader(http.StatusBadGateway)
		case r.URL.Path == "/zones":
			w.Write([]byte(zones))
		case r.URL.Path == "/now_playing/image":
			artHits = append(artHits, r.URL.Query().Get("zone_id"))
			w.Write(art.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	probe := bridge.NewProbe(srv.URL, "", clock.NewMock())
	s, err := New(testConfig(), &fakeBackend{}, probe, Options{
		Clock:    clock.NewMock(),
		Charging: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Refresh(ctx)
	if got := s.Scene().Title(); got != idleTitle {
		t.Errorf("Title() before poll = %q, want %q", got, idleTitle)
	}

	if err := probe.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	s.Refresh(ctx)
	s.Refresh(ctx)
	if got := s.Scene().Title(); got != "Living Room" {
		t.Errorf("Title() = %q, want %q", got, "Living Room")
	}

	mu.Lock()
	zones = `{"zones":[{"zone_id":"k","zone_name":"Kitchen"}]}`
	mu.Unlock()
	if err := probe.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	s.Refresh(ctx)

	mu.Lock()
	got := append([]string(nil), artHits...)
	failing = true
	mu.Unlock()
	if want := []string{"z", "k"}; !reflect.DeepEqual(got, want) {
		t.Errorf("artwork fetched for %v, want %v", got, want)
	}

	if err := probe.Check(ctx); err == nil {
		t.Fatal("Check against failing bridge = nil, want error")
	}
	s.Refresh(ctx)
	if got := s.Scene().Title(); got != offlineTitle {
		t.Errorf("Title() with bridge down = %q, want %q", got, offlineTitle)
	}
}

func TestDialReachesScene(t *testing.T) {
	b := &fakeBackend{}
	s, err := New(testConfig(), b, bridge.NewProbe("", "", nil), Options{
		Clock:    clock.NewMock(),
		Charging: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(b.dialFns) != 1 {
		t.Fatalf("dial handlers = %d, want 1", len(b.dialFns))
	}

	before := s.Scene().Volume()
	b.dialFns[0](input.DialEvent{Type: input.DialRotate, Delta: 3})
	if err := s.Coordinator().Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := s.Scene().Volume(); got != before+3 {
		t.Errorf("Volume() = %d, want %d", got, before+3)
	}
	if b.writes == 0 {
		t.Error("Tick() wrote nothing to the panel")
	}
}

func TestParsePmset(t *testing.T) {
	tests := []struct {
		out  string
		want bool
	}{
		{"Now drawing from 'AC Power'\n -InternalBattery-0\t100%; charged;", true},
		{"Now drawing from 'Battery Power'\n -InternalBattery-0\t80%; discharging;", false},
	}
	for _, tt := range tests {
		if got := parsePmset(tt.out); got != tt.want {
			t.Errorf("parsePmset(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}

func TestSysfsOnMains(t *testing.T) {
	supply := func(t *testing.T, root, name string, files map[string]string) {
		t.Helper()
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for f, v := range files {
			if err := os.WriteFile(filepath.Join(dir, f), []byte(v+"\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	tests := []struct {
		name     string
		supplies map[string]map[string]string
		want     bool
	}{
		{"no supplies", nil, true},
		{"mains online", map[string]map[string]string{
			"AC":   {"type": "Mains", "online": "1"},
			"BAT0": {"type": "Battery", "status": "Full"},
		}, true},
		{"on battery", map[string]map[string]string{
			"AC":   {"type": "Mains", "online": "0"},
			"BAT0": {"type": "Battery", "status": "Discharging"},
		}, false},
		{"battery charging", map[string]map[string]string{
			"BAT0": {"type": "Battery", "status": "Charging"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for name, files := range tt.supplies {
				supply(t, root, name, files)
			}
			if got := sysfsOnMains(root); got != tt.want {
				t.Errorf("sysfsOnMains() = %v, want %v", got, tt.want)
			}
		})
	}
}
