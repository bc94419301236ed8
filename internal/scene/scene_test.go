package scene

import (
	"errors"
	"image"
	"testing"

	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/power"
	"github.com/phinze/knobdeck/internal/rotation"
)

func newScene(t *testing.T) *Scene {
	t.Helper()
	s, err := New(image.Pt(360, 360), 60)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func collect(t *testing.T, s *Scene, state power.State) []rotation.Tile {
	t.Helper()
	var tiles []rotation.Tile
	err := s.Render(state, func(tile rotation.Tile) error {
		tiles = append(tiles, tile)
		return nil
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return tiles
}

func checkTiles(t *testing.T, tiles []rotation.Tile) {
	t.Helper()
	bounds := image.Rect(0, 0, 360, 360)
	for _, tile := range tiles {
		a := tile.Area
		if !a.In(bounds) {
			t.Errorf("tile %v outside panel", a)
		}
		if a.Dy() > 60 {
			t.Errorf("tile %v taller than 60 rows", a)
		}
		if a.Min.X%2 != 0 || a.Min.Y%2 != 0 || a.Dx()%2 != 0 || a.Dy()%2 != 0 {
			t.Errorf("tile %v not rounded to even coordinates", a)
		}
		if got, want := len(tile.Pix), a.Dx()*a.Dy()*2; got != want {
			t.Errorf("tile %v Pix = %d bytes, want %d", a, got, want)
		}
	}
}

func TestFirstFrameCoversScreen(t *testing.T) {
	s := newScene(t)
	tiles := collect(t, s, power.Normal)
	checkTiles(t, tiles)

	rows := 0
	for _, tile := range tiles {
		if tile.Area.Dx() != 360 {
			t.Errorf("first frame tile %v is not full width", tile.Area)
		}
		rows += tile.Area.Dy()
	}
	if rows != 360 {
		t.Errorf("first frame covers %d rows, want 360", rows)
	}
}

func TestUnchangedFrameEmitsNothing(t *testing.T) {
	s := newScene(t)
	collect(t, s, power.Normal)

	if tiles := collect(t, s, power.Normal); len(tiles) != 0 {
		t.Errorf("second identical frame emitted %d tiles, want 0", len(tiles))
	}
}

func TestDialChangesOnlySomeRows(t *testing.T) {
	s := newScene(t)
	collect(t, s, power.Normal)

	s.HandleDial(input.DialEvent{Type: input.DialRotate, Delta: 10})
	if got := s.Volume(); got != 60 {
		t.Errorf("Volume() = %d, want 60", got)
	}

	tiles := collect(t, s, power.Normal)
	checkTiles(t, tiles)
	if len(tiles) == 0 {
		t.Fatal("volume change emitted no tiles")
	}
	rows := 0
	for _, tile := range tiles {
		rows += tile.Area.Dy()
	}
	if rows >= 360 {
		t.Errorf("volume change redrew %d rows, want a partial update", rows)
	}
}

func TestVolumeClamps(t *testing.T) {
	s := newScene(t)
	s.HandleDial(input.DialEvent{Type: input.DialRotate, Delta: 127})
	if got := s.Volume(); got != 100 {
		t.Errorf("Volume() = %d, want 100", got)
	}
	s.HandleDial(input.DialEvent{Type: input.DialRotate, Delta: -128})
	if got := s.Volume(); got != 0 {
		t.Errorf("Volume() = %d, want 0", got)
	}
}

func TestAsleepRendersNothing(t *testing.T) {
	s := newScene(t)
	if tiles := collect(t, s, power.Asleep); len(tiles) != 0 {
		t.Errorf("asleep emitted %d tiles, want 0", len(tiles))
	}
}

func TestImmersiveRedraws(t *testing.T) {
	s := newScene(t)
	collect(t, s, power.Normal)

	tiles := collect(t, s, power.Immersive)
	checkTiles(t, tiles)
	if len(tiles) == 0 {
		t.Error("switching to immersive emitted no tiles")
	}
}

func TestInvalidate(t *testing.T) {
	s := newScene(t)
	collect(t, s, power.Normal)
	s.Invalidate()

	rows := 0
	for _, tile := range collect(t, s, power.Normal) {
		rows += tile.Area.Dy()
	}
	if rows != 360 {
		t.Errorf("frame after Invalidate covers %d rows, want 360", rows)
	}
}

func TestTouchTogglesPlayback(t *testing.T) {
	tests := []struct {
		name       string
		press, rel image.Point
		want       bool
	}{
		{"tap on button", image.Pt(180, 180), image.Pt(182, 181), true},
		{"tap off button", image.Pt(20, 20), image.Pt(20, 20), false},
		{"slide off button", image.Pt(180, 180), image.Pt(300, 180), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScene(t)
			s.HandleTouch(input.TouchEvent{Type: input.TouchPressed, Point: tt.press})
			s.HandleTouch(input.TouchEvent{Type: input.TouchReleased, Point: tt.rel})
			if got := s.Playing(); got != tt.want {
				t.Errorf("Playing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmitErrorStopsRender(t *testing.T) {
	s := newScene(t)
	panelErr := errors.New("panel gone")
	calls := 0

	err := s.Render(power.Normal, func(rotation.Tile) error {
		calls++
		return panelErr
	})
	if !errors.Is(err, panelErr) {
		t.Errorf("Render() = %v, want %v", err, panelErr)
	}
	if calls != 1 {
		t.Errorf("emit calls = %d, want 1", calls)
	}
}
