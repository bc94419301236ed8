// Package power implements the display power state machine: dimming and
// sleeping after inactivity, waking on activity, and the explicit immersive
// mode that hides controls.
package power

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/phinze/knobdeck/internal/clock"
)

// State is the display power state.
type State uint8

const (
	Normal State = iota
	Dimmed
	Asleep
	Immersive
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Dimmed:
		return "dimmed"
	case Asleep:
		return "asleep"
	case Immersive:
		return "immersive"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Output is the hardware the machine drives. Calls are made without the
// state lock held.
type Output interface {
	SetBacklight(level uint8) error
	SetPanelPower(on bool) error
	// SetRenderPriority lowers the render task priority while asleep.
	SetRenderPriority(low bool)
}

// Config holds the timeouts and levels. A zero timeout disables that step.
type Config struct {
	DimTimeout   time.Duration
	SleepTimeout time.Duration

	// ImmersiveTimeout enters immersive mode after this much idle time in
	// Normal, provided the readiness predicate passes. Zero disables it.
	ImmersiveTimeout time.Duration

	// AwakeUntilReady holds off dimming and sleeping while the readiness
	// predicate fails, so a connection status stays visible. The idle clock
	// counts from the moment readiness returns.
	AwakeUntilReady bool

	NormalLevel uint8
	DimLevel    uint8

	// SuppressWindow is how long touches are swallowed after a wake.
	SuppressWindow time.Duration
	// WakeSettle is the delay between panel power-on and backlight-on.
	WakeSettle time.Duration
	// CheckInterval is the period of the timeout check.
	CheckInterval time.Duration
}

// DefaultConfig returns the battery-profile defaults.
func DefaultConfig() Config {
	return Config{
		DimTimeout:     30 * time.Second,
		SleepTimeout:   60 * time.Second,
		NormalLevel:    255,
		DimLevel:       40,
		SuppressWindow: 250 * time.Millisecond,
		WakeSettle:     10 * time.Millisecond,
		CheckInterval:  250 * time.Millisecond,
	}
}

// Machine owns the power state. All fields below mu are guarded by it; mu
// is never held while talking to Output.
type Machine struct {
	clk clock.Clock
	out Output

	mu            sync.Mutex
	cfg           Config
	state         State
	lastActivity  time.Time
	suppressUntil time.Time
	gen           uint64
	ready         func() bool
	listeners     []func()

	// effMu serializes hardware updates so they land in transition order.
	effMu   sync.Mutex
	applied State
}

// New creates a machine in the Normal state with the idle clock started now.
func New(clk clock.Clock, out Output, cfg Config) *Machine {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	return &Machine{
		clk:          clk,
		out:          out,
		cfg:          cfg,
		state:        Normal,
		applied:      Normal,
		lastActivity: clk.Now(),
	}
}

// State returns the current power state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TouchSuppressed reports whether touches are still being swallowed after a
// wake.
func (m *Machine) TouchSuppressed() bool {
	now := m.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Before(m.suppressUntil)
}

// Config returns the active configuration.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// OnActivity registers fn to be called after every activity signal.
func (m *Machine) OnActivity(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetReadiness installs the predicate consulted by ImmersiveTimeout.
func (m *Machine) SetReadiness(ready func() bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

// Activity records user activity. Any state returns to Normal. Leaving any
// non-Normal state, immersive included, opens the touch suppression window.
func (m *Machine) Activity() {
	now := m.clk.Now()

	m.mu.Lock()
	m.lastActivity = now
	from := m.state
	var gen uint64
	if from != Normal {
		m.suppressUntil = now.Add(m.cfg.SuppressWindow)
		gen = m.transitionLocked(Normal)
	}
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	if from != Normal {
		log.Printf("power: %s -> normal (activity)", from)
		m.apply(gen, Normal)
	}
	for _, fn := range listeners {
		fn()
	}
}

// CheckTimeouts evaluates the idle time against the configured timeouts.
// It is called from the timer service and may be called directly.
func (m *Machine) CheckTimeouts() {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	isReady := ready != nil && ready()

	now := m.clk.Now()
	m.mu.Lock()
	idle := now.Sub(m.lastActivity)
	cfg := m.cfg
	hold := cfg.AwakeUntilReady && ready != nil && !isReady
	from := m.state
	to := from
	switch {
	case hold:
		m.lastActivity = now
	case cfg.SleepTimeout > 0 && idle >= cfg.SleepTimeout:
		if from == Normal || from == Dimmed || from == Immersive {
			to = Asleep
		}
	case cfg.DimTimeout > 0 && idle >= cfg.DimTimeout:
		if from == Normal || from == Immersive {
			to = Dimmed
		}
	case cfg.ImmersiveTimeout > 0 && idle >= cfg.ImmersiveTimeout:
		if from == Normal && isReady {
			to = Immersive
		}
	}
	if to == from {
		m.mu.Unlock()
		return
	}
	gen := m.transitionLocked(to)
	m.mu.Unlock()

	log.Printf("power: %s -> %s after %v idle", from, to, idle.Round(time.Millisecond))
	m.apply(gen, to)
}

// EnterImmersive switches to immersive mode from Normal, Dimmed or Asleep
// when ready is true. It reports whether a transition happened.
func (m *Machine) EnterImmersive(ready bool) bool {
	if !ready {
		return false
	}
	now := m.clk.Now()

	m.mu.Lock()
	from := m.state
	if from == Immersive {
		m.mu.Unlock()
		return false
	}
	m.lastActivity = now
	gen := m.transitionLocked(Immersive)
	m.mu.Unlock()

	log.Printf("power: %s -> immersive", from)
	m.apply(gen, Immersive)
	return true
}

// ExitImmersive returns to Normal from immersive mode. It reports whether a
// transition happened.
func (m *Machine) ExitImmersive() bool {
	now := m.clk.Now()

	m.mu.Lock()
	if m.state != Immersive {
		m.mu.Unlock()
		return false
	}
	m.lastActivity = now
	gen := m.transitionLocked(Normal)
	m.mu.Unlock()

	log.Printf("power: immersive -> normal")
	m.apply(gen, Normal)
	return true
}

// UpdateTimeouts replaces the idle timeouts, for example when the charging
// profile changes, and restarts the idle clock.
func (m *Machine) UpdateTimeouts(immersive, dim, sleep time.Duration) {
	now := m.clk.Now()

	m.mu.Lock()
	if m.cfg.ImmersiveTimeout == immersive && m.cfg.DimTimeout == dim && m.cfg.SleepTimeout == sleep {
		m.mu.Unlock()
		return
	}
	m.cfg.ImmersiveTimeout = immersive
	m.cfg.DimTimeout = dim
	m.cfg.SleepTimeout = sleep
	m.lastActivity = now
	m.mu.Unlock()

	log.Printf("power: timeouts updated (immersive: %v, dim: %v, sleep: %v)", immersive, dim, sleep)
}

// Start registers the periodic timeout check with svc. The returned func
// stops it.
func (m *Machine) Start(svc *clock.Service) (stop func()) {
	p := svc.Every("power-timeouts", m.Config().CheckInterval, m.CheckTimeouts)
	return p.Stop
}

func (m *Machine) transitionLocked(to State) uint64 {
	m.state = to
	m.gen++
	return m.gen
}

func (m *Machine) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// apply drives the hardware toward to. An effect whose transition has
// already been superseded is skipped; the newer one will run.
func (m *Machine) apply(gen uint64, to State) {
	m.effMu.Lock()
	defer m.effMu.Unlock()

	if !m.current(gen) {
		return
	}
	cfg := m.Config()
	from := m.applied
	m.applied = to

	switch to {
	case Dimmed:
		if from == Asleep {
			m.wake(cfg)
		}
		m.backlight(cfg.DimLevel)
	case Asleep:
		m.backlight(0)
		if err := m.out.SetPanelPower(false); err != nil {
			log.Printf("power: panel off: %v", err)
		}
		m.out.SetRenderPriority(true)
	case Normal, Immersive:
		if from == Asleep {
			m.wake(cfg)
		}
		m.backlight(cfg.NormalLevel)
	}
}

func (m *Machine) wake(cfg Config) {
	if err := m.out.SetPanelPower(true); err != nil {
		log.Printf("power: panel on: %v", err)
	}
	if cfg.WakeSettle > 0 {
		m.clk.Sleep(cfg.WakeSettle)
	}
	m.out.SetRenderPriority(false)
}

func (m *Machine) backlight(level uint8) {
	if err := m.out.SetBacklight(level); err != nil {
		log.Printf("power: backlight %d: %v", level, err)
	}
}
