// Package gesture turns polled touch samples into taps, double-taps and
// vertical swipes, and decides which touches reach the UI.
package gesture

import (
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phinze/knobdeck/internal/input"
	"github.com/phinze/knobdeck/internal/orientation"
	"github.com/phinze/knobdeck/internal/power"
)

// Classification thresholds.
const (
	SwipeMinDistance     = 60
	SwipeMaxTime         = 500 * time.Millisecond
	DoubleTapMaxInterval = 400 * time.Millisecond
	DoubleTapMaxDistance = 40
)

// Kind is the classification of a completed touch.
type Kind = input.GestureKind

const (
	None      = input.GestureNone
	Tap       = input.GestureTap
	SwipeUp   = input.GestureSwipeUp
	SwipeDown = input.GestureSwipeDown
	DoubleTap = input.GestureDoubleTap
)

// Sample is one poll of the touch controller.
type Sample struct {
	Point   image.Point
	Pressed bool
	At      time.Time
}

// PowerSignals is the part of the power state machine the recognizer needs.
type PowerSignals interface {
	State() power.State
	Activity()
	TouchSuppressed() bool
}

// Result is the outcome of one Step.
type Result struct {
	// Gesture is set on the release that completes a gesture.
	Gesture Kind
	// Point is the position to report to the UI. On release it is the last
	// pressed position.
	Point image.Point
	// Dispatch reports whether the UI should see this sample as a press.
	Dispatch bool
}

// Intents are the deferred requests produced by gestures. They are set
// during Step and consumed by the polling loop outside of UI callbacks.
type Intents struct {
	enter atomic.Bool
	exit  atomic.Bool
}

// Drain returns and clears both flags.
func (i *Intents) Drain() (enter, exit bool) {
	return i.enter.Swap(false), i.exit.Swap(false)
}

// Pending reports whether either flag is set.
func (i *Intents) Pending() bool {
	return i.enter.Load() || i.exit.Load()
}

type tap struct {
	point image.Point
	at    time.Time
	valid bool
}

// Recognizer tracks one contact at a time. Step must be called from a single
// goroutine.
type Recognizer struct {
	power PowerSignals
	ready func() bool

	intents Intents

	tracking bool
	start    image.Point
	startAt  time.Time
	last     image.Point
	lastTap  tap
	// startState is the power state at touch-down, before the press wakes
	// the display.
	startState power.State

	mu        sync.Mutex
	listeners []func(input.GestureEvent)
}

// New creates a recognizer. ready gates entering immersive mode; a nil
// ready means always ready.
func New(p PowerSignals, ready func() bool) *Recognizer {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Recognizer{power: p, ready: ready}
}

// Intents returns the pending intent flags.
func (r *Recognizer) Intents() *Intents {
	return &r.intents
}

// OnGesture registers fn to receive every classified gesture.
func (r *Recognizer) OnGesture(fn func(input.GestureEvent)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Tracking reports whether a contact is in progress.
func (r *Recognizer) Tracking() bool {
	return r.tracking
}

// Step processes one sample. o is the orientation snapshot for this tick.
func (r *Recognizer) Step(s Sample, o orientation.Orientation) Result {
	if s.Pressed {
		return r.press(s)
	}
	return r.release(s, o)
}

func (r *Recognizer) press(s Sample) Result {
	if !r.tracking {
		r.tracking = true
		r.start = s.Point
		r.startAt = s.At
		r.startState = r.power.State()
	}
	r.last = s.Point
	res := Result{Point: s.Point}

	// A touch on a dark or dim screen only wakes it; gesture tracking
	// continues but widgets never see it.
	if r.power.State() != power.Normal {
		r.power.Activity()
		return res
	}
	if r.power.TouchSuppressed() {
		return res
	}
	r.power.Activity()
	res.Dispatch = true
	return res
}

func (r *Recognizer) release(s Sample, o orientation.Orientation) Result {
	res := Result{Point: r.last}
	if !r.tracking {
		return res
	}
	r.tracking = false

	elapsed := s.At.Sub(r.startAt)
	if elapsed >= SwipeMaxTime {
		return res
	}

	dx := r.last.X - r.start.X
	dy := r.last.Y - r.start.Y
	// Upside down, the user's upward swipe moves toward larger raw y.
	if o == orientation.Inverted {
		dx, dy = -dx, -dy
	}

	kind := r.classify(dx, dy, s.At)
	if kind == None {
		return res
	}
	res.Gesture = kind

	r.power.Activity()

	switch kind {
	case SwipeUp, DoubleTap:
		switch {
		case r.startState == power.Immersive:
			log.Printf("gesture: %s began in immersive, not re-entering", kind)
		case r.ready():
			log.Printf("gesture: %s (rotation=%d), queueing immersive", kind, o.Degrees())
			r.intents.enter.Store(true)
		default:
			log.Printf("gesture: %s ignored, not ready for immersive", kind)
		}
	case SwipeDown:
		log.Printf("gesture: %s (rotation=%d), queueing exit immersive", kind, o.Degrees())
		r.intents.exit.Store(true)
	}

	r.publish(input.GestureEvent{
		Kind:     kind,
		Start:    r.start,
		End:      r.last,
		Duration: elapsed,
	})
	return res
}

func (r *Recognizer) classify(dx, dy int, at time.Time) Kind {
	switch {
	case dy < -SwipeMinDistance && abs(dy) > abs(dx):
		return SwipeUp
	case dy > SwipeMinDistance && abs(dy) > abs(dx):
		return SwipeDown
	case abs(dx) < DoubleTapMaxDistance && abs(dy) < DoubleTapMaxDistance:
		// Judged by the state the touch began in; the press itself has
		// already left immersive.
		if r.startState == power.Immersive {
			return None
		}
		p := r.last
		if r.lastTap.valid &&
			at.Sub(r.lastTap.at) < DoubleTapMaxInterval &&
			abs(p.X-r.lastTap.point.X) < DoubleTapMaxDistance &&
			abs(p.Y-r.lastTap.point.Y) < DoubleTapMaxDistance {
			// Cleared so a third tap starts a new pair.
			r.lastTap = tap{}
			return DoubleTap
		}
		r.lastTap = tap{point: p, at: at, valid: true}
		return Tap
	}
	return None
}

func (r *Recognizer) publish(ev input.GestureEvent) {
	r.mu.Lock()
	listeners := r.listeners
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
