// Package scene is the built-in now-playing screen: album art, a play/pause
// control and a volume readout. It renders into an RGB565 frame and emits
// only the rows that changed since the previous frame.
package scene

import (
	"fmt"
	"image"
	"log"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/power"
	"github.com/phinze/knobdeck/internal/rgb565"
	"github.com/phinze/knobdeck/internal/rotation"
)

// Scene holds the widget state and the last frame sent to the panel.
type Scene struct {
	size    image.Point
	maxRows int

	canvas *image.RGBA
	frame  *rgb565.Image
	prev   *rgb565.Image

	titleFace font.Face
	labelFace font.Face

	mu      sync.Mutex
	playing bool
	volume  int
	title   string
	art     image.Image
	pressed bool
	invalid bool
}

// New creates a scene for a panel of the given size. maxRows bounds the
// height of every emitted tile.
func New(size image.Point, maxRows int) (*Scene, error) {
	if maxRows < 2 {
		maxRows = 2
	}
	s := &Scene{
		size:    size,
		maxRows: maxRows &^ 1,
		canvas:  image.NewRGBA(image.Rectangle{Max: size}),
		frame:   rgb565.New(image.Rectangle{Max: size}),
		volume:  50,
		title:   "Nothing playing",
	}
	if err := s.initFonts(); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return s, nil
}

// SetTitle sets the text under the control.
func (s *Scene) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// Title returns the text under the control.
func (s *Scene) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetArt sets the album art shown in both views. It is scaled to fit.
func (s *Scene) SetArt(img image.Image) {
	s.mu.Lock()
	s.art = img
	s.mu.Unlock()
}

// Playing reports the play toggle.
func (s *Scene) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Volume returns the volume level, 0 to 100.
func (s *Scene) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// HandleTouch toggles playback when a press and its release both land on
// the play control.
func (s *Scene) HandleTouch(ev input.TouchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	btn := s.buttonRect()
	switch ev.Type {
	case input.TouchPressed:
		s.pressed = ev.Point.In(btn)
	case input.TouchReleased:
		if s.pressed && ev.Point.In(btn) {
			s.playing = !s.playing
			log.Printf("scene: playing=%v", s.playing)
		}
		s.pressed = false
	}
}

// HandleDial adjusts the volume on rotation and toggles playback on press.
func (s *Scene) HandleDial(ev input.DialEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case input.DialRotate:
		s.volume += int(ev.Delta)
		s.volume = max(0, min(100, s.volume))
	case input.DialPress:
		s.playing = !s.playing
	}
}

// Invalidate forces the next Render to emit the whole screen, for example
// after the panel has been power cycled.
func (s *Scene) Invalidate() {
	s.mu.Lock()
	s.invalid = true
	s.mu.Unlock()
}

// Render draws the view for state and emits the changed rows. Nothing is
// drawn while asleep.
func (s *Scene) Render(state power.State, emit func(rotation.Tile) error) error {
	if state == power.Asleep {
		return nil
	}

	s.mu.Lock()
	v := view{
		state:   state,
		playing: s.playing,
		volume:  s.volume,
		title:   s.title,
		art:     s.art,
		pressed: s.pressed,
	}
	if s.invalid {
		s.prev = nil
		s.invalid = false
	}
	s.mu.Unlock()

	s.draw(v)
	draw.Draw(s.frame, s.frame.Rect, s.canvas, image.Point{}, draw.Src)

	for _, r := range s.dirty() {
		if err := emit(rotation.Tile{Area: r, Pix: s.frame.CopyRect(r)}); err != nil {
			return err
		}
	}

	if s.prev == nil {
		s.prev = rgb565.New(s.frame.Rect)
	}
	copy(s.prev.Pix, s.frame.Pix)
	return nil
}

// dirty returns the changed regions of frame as row bands no taller than
// maxRows, each rounded to even coordinates.
func (s *Scene) dirty() []image.Rectangle {
	bounds := s.frame.Rect
	var out []image.Rectangle

	rowBytes := s.frame.Stride
	changed := func(y int) bool {
		if s.prev == nil {
			return true
		}
		i := y * rowBytes
		a, b := s.frame.Pix[i:i+rowBytes], s.prev.Pix[i:i+rowBytes]
		for k := range a {
			if a[k] != b[k] {
				return true
			}
		}
		return false
	}

	for y := 0; y < bounds.Dy(); {
		if !changed(y) {
			y++
			continue
		}
		start := y
		for y < bounds.Dy() && changed(y) {
			y++
		}
		out = append(out, s.bands(start, y)...)
	}
	return out
}

func (s *Scene) bands(y0, y1 int) []image.Rectangle {
	bounds := s.frame.Rect
	y0 &^= 1
	y1 = min((y1+1)&^1, bounds.Max.Y)

	var out []image.Rectangle
	for y := y0; y < y1; y += s.maxRows {
		end := min(y+s.maxRows, y1)
		x0, x1 := s.columns(y, end)
		r := rotation.RoundArea(image.Rect(x0, y, x1, end)).Intersect(bounds)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// columns returns the changed column span within rows [y0, y1).
func (s *Scene) columns(y0, y1 int) (int, int) {
	w := s.frame.Rect.Dx()
	if s.prev == nil {
		return 0, w
	}
	x0, x1 := w, 0
	for y := y0; y < y1; y++ {
		row := y * s.frame.Stride
		for x := 0; x < w; x++ {
			i := row + x*2
			if s.frame.Pix[i] != s.prev.Pix[i] || s.frame.Pix[i+1] != s.prev.Pix[i+1] {
				x0 = min(x0, x)
				x1 = max(x1, x+1)
			}
		}
	}
	if x1 <= x0 {
		return 0, w
	}
	return x0, x1
}
