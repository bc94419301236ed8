// Package input defines the events exchanged between the display core and
// the UI layer.
package input

import (
	"fmt"
	"image"
	"time"
)

// DialEventType indicates the type of dial interaction.
type DialEventType uint8

const (
	// DialRotate indicates the dial was rotated.
	DialRotate DialEventType = iota + 1
	// DialPress indicates the dial was pressed down.
	DialPress
	// DialRelease indicates the dial was released.
	DialRelease
)

func (t DialEventType) String() string {
	switch t {
	case DialRotate:
		return "rotate"
	case DialPress:
		return "press"
	case DialRelease:
		return "release"
	default:
		return fmt.Sprintf("dial(%d)", uint8(t))
	}
}

// DialEvent represents an interaction with the rotary encoder.
type DialEvent struct {
	Type DialEventType

	// Delta is the rotation amount (positive = clockwise).
	// Only meaningful for DialRotate events.
	Delta int8

	// Duration is how long the dial was held before release.
	Duration time.Duration
}

// TouchEventType is the phase of a touch delivered to the UI.
type TouchEventType uint8

const (
	TouchPressed TouchEventType = iota + 1
	TouchReleased
)

func (t TouchEventType) String() string {
	if t == TouchPressed {
		return "pressed"
	}
	return "released"
}

// TouchEvent is a raw contact forwarded to widgets. Releases carry the last
// pressed position.
type TouchEvent struct {
	Type  TouchEventType
	Point image.Point
}

// GestureKind is the classification of a completed touch.
type GestureKind uint8

const (
	GestureNone GestureKind = iota
	GestureTap
	GestureSwipeUp
	GestureSwipeDown
	GestureDoubleTap
)

func (k GestureKind) String() string {
	switch k {
	case GestureNone:
		return "none"
	case GestureTap:
		return "tap"
	case GestureSwipeUp:
		return "swipe-up"
	case GestureSwipeDown:
		return "swipe-down"
	case GestureDoubleTap:
		return "double-tap"
	default:
		return fmt.Sprintf("gesture(%d)", uint8(k))
	}
}

// GestureEvent is published to gesture listeners after classification.
type GestureEvent struct {
	Kind GestureKind

	// Start and End are raw panel coordinates.
	Start, End image.Point
	Duration   time.Duration
}
