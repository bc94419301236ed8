// Package orientation defines the two supported display mountings and the
// single process-wide setting shared by the render transform and the
// gesture recognizer.
package orientation

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Orientation is the panel mounting. Only 0° and 180° exist; 90/270 need a
// transpose-style access pattern that is too slow at this pixel volume.
type Orientation uint8

const (
	// Natural is 0°: bytes are swapped, coordinates pass through.
	Natural Orientation = iota
	// Inverted is 180°: pixels are reversed and coordinates mirrored.
	Inverted
)

func (o Orientation) String() string {
	switch o {
	case Natural:
		return "natural"
	case Inverted:
		return "inverted"
	default:
		return fmt.Sprintf("orientation(%d)", uint8(o))
	}
}

// Degrees returns 0 or 180.
func (o Orientation) Degrees() int {
	if o == Inverted {
		return 180
	}
	return 0
}

// Valid reports whether o is one of the two legal values.
func (o Orientation) Valid() bool {
	return o == Natural || o == Inverted
}

// FromDegrees maps a configured rotation to an Orientation. Anything other
// than 0 or 180 is rejected, logged, and normalized to Natural; ok reports
// whether the input was accepted as-is.
func FromDegrees(deg int) (o Orientation, ok bool) {
	switch deg {
	case 0:
		return Natural, true
	case 180:
		return Inverted, true
	default:
		log.Printf("orientation: rotation %d not supported (only 0/180), using 0", deg)
		return Natural, false
	}
}

// Parse accepts "0", "180", "natural" or "inverted" (case-insensitive).
// Unknown values normalize to Natural with a warning.
func Parse(s string) (Orientation, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "natural", "normal", "":
		return Natural, true
	case "inverted", "upside-down":
		return Inverted, true
	}
	deg, err := strconv.Atoi(strings.TrimSuffix(s, "deg"))
	if err != nil {
		log.Printf("orientation: %q not recognized, using natural", s)
		return Natural, false
	}
	return FromDegrees(deg)
}

// UnmarshalYAML decodes either a number of degrees or a name.
func (o *Orientation) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("orientation: expected scalar, got %v at line %d", node.Tag, node.Line)
	}
	*o, _ = Parse(node.Value)
	return nil
}

// MarshalYAML writes the orientation in degrees.
func (o Orientation) MarshalYAML() (interface{}, error) {
	return o.Degrees(), nil
}

// Setting is the single owned orientation value. Both consumers read it
// through Get, so a Set is observed by both at once; there is no window in
// which the transform and the recognizer disagree.
type Setting struct {
	v atomic.Uint32
}

// NewSetting returns a setting initialised to o.
func NewSetting(o Orientation) *Setting {
	s := &Setting{}
	s.Set(o)
	return s
}

// Get returns the current orientation.
func (s *Setting) Get() Orientation {
	return Orientation(s.v.Load())
}

// Set stores o. Out-of-range values are rejected and Natural is stored.
func (s *Setting) Set(o Orientation) {
	if !o.Valid() {
		log.Printf("orientation: invalid value %d, using natural", uint8(o))
		o = Natural
	}
	prev := Orientation(s.v.Swap(uint32(o)))
	if prev != o {
		log.Printf("orientation: %s -> %s", prev, o)
	}
}

// SetDegrees is Set(FromDegrees(deg)).
func (s *Setting) SetDegrees(deg int) Orientation {
	o, _ := FromDegrees(deg)
	s.Set(o)
	return o
}
