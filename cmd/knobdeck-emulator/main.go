package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phinze/knobdeck/internal/app"
	"github.com/phinze/knobdeck/internal/bridge"
	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/device/emulator"
	"github.com/phinze/knobdeck/internal/orientation"
)

func main() {
	log.Println("=== Knob Emulator ===")
	log.Println("Close window or press Ctrl+C to exit")

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal")
		cancel()
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Warning: config load: %v", err)
		cfg = config.Default()
	}

	emu := emulator.New()
	if err := emu.Open(); err != nil {
		log.Fatalf("Failed to open emulator: %v", err)
	}

	probe := bridge.NewProbe(cfg.Bridge.URL, cfg.Bridge.Token, nil)
	probe.SetKnobID(cfg.Bridge.KnobID)
	go probe.Poll(ctx, cfg.BridgePollInterval())

	sess, err := app.New(cfg, emu, probe, app.Options{})
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	coord := sess.Coordinator()
	emu.OnRotateKey(func() {
		next := orientation.Inverted
		if coord.Orientation() == orientation.Inverted {
			next = orientation.Natural
		}
		coord.SetOrientation(next.Degrees())
		log.Printf("Rotation: %v", next)
	})

	// Run the session in the background; the GUI owns the main thread
	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session error: %v", err)
		}
		emu.Close()
	}()

	log.Println("Ready!")

	// Run GUI on main thread (required for macOS)
	if err := emu.RunGUI(); err != nil {
		log.Printf("Emulator GUI error: %v", err)
	}
	cancel()
}
