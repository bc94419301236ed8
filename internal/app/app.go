// Package app assembles a running knob from a backend, the configuration
// and the bridge probe. Both the daemon and the emulator run a Session.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/phinze/knobdeck/internal/bridge"
	"github.com/phinze/knobdeck/internal/clock"
	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/coordinator"
	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/scene"
)

// ProfileInterval is how often the power source and zone title are
// re-read.
const ProfileInterval = 30 * time.Second

const (
	idleTitle    = "No zone"
	offlineTitle = "Bridge offline"
)

// Options configures a Session.
type Options struct {
	Clock clock.Clock
	// Charging reports whether the knob runs on external power. Nil uses
	// OnExternalPower.
	Charging func() bool
}

// Session is one connection to a backend.
type Session struct {
	cfg      *config.Config
	backend  device.Backend
	probe    *bridge.Probe
	clk      clock.Clock
	charging func() bool

	scene *scene.Scene
	coord *coordinator.Coordinator

	mu           sync.Mutex
	lastCharging bool
	artZone      string
}

// New builds the scene and coordinator for an opened backend.
func New(cfg *config.Config, backend device.Backend, probe *bridge.Probe, opts Options) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Charging == nil {
		opts.Charging = OnExternalPower
	}

	size := backend.Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("backend %s reports no panel", backend.ModelName())
	}

	sc, err := scene.New(size, coordinator.DefaultMaxRows)
	if err != nil {
		return nil, err
	}

	charging := opts.Charging()
	prof := cfg.Profile(charging)
	coord := coordinator.New(coordinator.Options{
		Clock:       opts.Clock,
		Touch:       backend,
		Panel:       backend,
		Renderer:    sc,
		UI:          sc,
		Ready:       probe.Ready,
		Orientation: prof.Rotation,
		Power:       cfg.PowerConfig(charging),
	})

	if ds, ok := backend.(device.DialSource); ok {
		ds.OnDial(coord.HandleDial)
	}

	s := &Session{
		cfg:          cfg,
		backend:      backend,
		probe:        probe,
		clk:          opts.Clock,
		charging:     opts.Charging,
		scene:        sc,
		coord:        coord,
		lastCharging: charging,
	}
	log.Printf("app: %s %dx%d, charging=%v, rotation=%v", backend.ModelName(), size.X, size.Y, charging, prof.Rotation)
	return s, nil
}

// Coordinator returns the session's coordinator.
func (s *Session) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Scene returns the session's scene.
func (s *Session) Scene() *scene.Scene {
	return s.scene
}

// Wake counts a host wake as user activity.
func (s *Session) Wake() {
	s.coord.Power().Activity()
}

// Run drives the session until ctx is cancelled or the backend fails.
func (s *Session) Run(ctx context.Context) error {
	svc := clock.NewService(s.clk)
	defer svc.Close()

	s.Refresh(ctx)
	svc.Every("profile", ProfileInterval, func() { s.Refresh(ctx) })

	err := s.coord.Run(ctx)
	log.Printf("app: session ended after %v", svc.Uptime().Round(time.Second))
	return err
}

// Refresh re-reads the power source and bridge zones, applying a changed
// charging profile to the display and loading artwork for a new zone.
func (s *Session) Refresh(ctx context.Context) {
	charging := s.charging()

	s.mu.Lock()
	changed := charging != s.lastCharging
	s.lastCharging = charging
	s.mu.Unlock()

	if changed {
		prof := s.cfg.Profile(charging)
		log.Printf("app: power source changed, charging=%v", charging)
		s.coord.SetOrientation(prof.Rotation.Degrees())
		s.coord.Power().UpdateTimeouts(prof.ImmersiveTimeout, prof.DimTimeout, prof.SleepTimeout)
	}

	zones := s.probe.Zones()
	switch {
	case len(zones) > 0:
		s.scene.SetTitle(zones[0].Name)
		s.refreshArt(ctx, zones[0].ID)
	case s.probe.Err() != nil:
		s.scene.SetTitle(offlineTitle)
	default:
		s.scene.SetTitle(idleTitle)
		s.refreshArt(ctx, "")
	}
}

// refreshArt loads artwork when the active zone changes. A failed fetch
// leaves the placeholder and is retried on the next refresh.
func (s *Session) refreshArt(ctx context.Context, zoneID string) {
	s.mu.Lock()
	same := zoneID == s.artZone
	s.mu.Unlock()
	if same {
		return
	}

	if zoneID == "" {
		s.scene.SetArt(nil)
		s.setArtZone("")
		return
	}

	img, err := s.probe.Artwork(ctx, zoneID, s.backend.Size())
	if err != nil {
		log.Printf("app: %v", err)
		s.scene.SetArt(nil)
		return
	}
	s.scene.SetArt(img)
	s.setArtZone(zoneID)
}

func (s *Session) setArtZone(id string) {
	s.mu.Lock()
	s.artZone = id
	s.mu.Unlock()
}
