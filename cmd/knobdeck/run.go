package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phinze/knobdeck/internal/app"
	"github.com/phinze/knobdeck/internal/bridge"
	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/device"
	"github.com/phinze/knobdeck/internal/device/spipanel"
	"github.com/phinze/knobdeck/internal/device/streamdeck"
	"github.com/phinze/knobdeck/internal/usbwatch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the knob display on the configured backend",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	log.Println("=== Knobdeck ===")
	log.Println("Press Ctrl+C to exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

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

	probe := bridge.NewProbe(cfg.Bridge.URL, cfg.Bridge.Token, nil)
	probe.SetKnobID(cfg.Bridge.KnobID)
	go probe.Poll(ctx, cfg.BridgePollInterval())

	wakeCh := watchWake()

	switch cfg.Backend {
	case config.BackendStreamDeck:
		runStreamDeck(ctx, cfg, probe, wakeCh)
		return nil
	case config.BackendSPI:
		knob := spipanel.New(cfg.SPI)
		if err := knob.Open(); err != nil {
			return err
		}
		err := runWithBackend(ctx, cfg, probe, knob, wakeCh, false)
		closeBackend(ctx, knob)
		return err
	default:
		return fmt.Errorf("backend %q is not supported by run; use knobdeck-emulator", cfg.Backend)
	}
}

// runStreamDeck waits for a device, runs it, and repeats on disconnect or
// host wake until ctx is cancelled.
func runStreamDeck(ctx context.Context, cfg *config.Config, probe *bridge.Probe, wakeCh <-chan struct{}) {
	arrivals := usbwatch.New(nil, streamdeck.VendorID).Watch(ctx)

	for {
		deck := waitForDeck(ctx, wakeCh, arrivals)
		if deck == nil {
			// Context cancelled
			return
		}

		// Drain any stale wake signals that accumulated while waiting for
		// the device, so they don't tear down the new session at once.
	drainWake:
		for {
			select {
			case <-wakeCh:
				log.Println("Draining stale wake signal")
			default:
				break drainWake
			}
		}

		// USB enumeration may not be complete even after GetDevice succeeds.
		time.Sleep(500 * time.Millisecond)

		if err := deck.Open(); err != nil {
			log.Printf("Opening device: %v", err)
			closeBackend(ctx, deck)
			continue
		}

		if err := runWithBackend(ctx, cfg, probe, deck, wakeCh, true); err != nil {
			log.Printf("Device disconnected: %v", err)
		}

		// The usbhid library doesn't cancel ongoing I/O on close, so let
		// pending callbacks finish before closing.
		time.Sleep(200 * time.Millisecond)
		closeBackend(ctx, deck)

		select {
		case <-ctx.Done():
			log.Println("Exiting...")
			return
		default:
			log.Println("Waiting for device reconnect...")
		}
	}
}

// waitForDeck polls for a Stream Deck until one is available. USB arrivals
// and wake signals trigger an immediate retry instead of waiting for the
// poll interval.
func waitForDeck(ctx context.Context, wakeCh <-chan struct{}, arrivals <-chan struct{}) *streamdeck.Deck {
	const deviceTimeout = 5 * time.Second

	if dev, err := streamdeck.Probe(deviceTimeout); err == nil {
		return streamdeck.New(dev)
	}

	log.Println("Waiting for device...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wakeCh:
			// After wake, USB devices may take several seconds to enumerate.
			log.Println("Wake signal received, probing for device...")
			for i := 0; i < 10; i++ {
				if dev, err := streamdeck.Probe(deviceTimeout); err == nil {
					log.Println("Device connected!")
					return streamdeck.New(dev)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(500 * time.Millisecond):
				}
			}
			log.Println("Device not found after wake, resuming polling...")
		case <-arrivals:
		case <-time.After(2 * time.Second):
		}

		if dev, err := streamdeck.Probe(deviceTimeout); err == nil {
			log.Println("Device connected!")
			return streamdeck.New(dev)
		}
	}
}

// runWithBackend runs a session until ctx is cancelled or the backend
// fails. A host wake counts as activity; when reconnectOnWake is set it
// also ends the session so the device is reopened.
func runWithBackend(ctx context.Context, cfg *config.Config, probe *bridge.Probe, backend device.Backend, wakeCh <-chan struct{}, reconnectOnWake bool) error {
	log.Printf("Connected to: %s", backend.ModelName())

	sess, err := app.New(cfg, backend, probe, app.Options{})
	if err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- sess.Run(runCtx)
	}()

	log.Println("Ready!")

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down...")
			runCancel()
			<-errChan
			return nil
		case err := <-errChan:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-wakeCh:
			sess.Wake()
			if reconnectOnWake {
				log.Println("Reconnecting device after wake...")
				runCancel()
				<-errChan
				return nil
			}
		}
	}
}

// closeBackend closes the backend, bounded in time since a wedged USB stack
// can block Close indefinitely.
func closeBackend(ctx context.Context, backend device.Backend) {
	closeDone := make(chan struct{})
	go func() {
		backend.Close()
		close(closeDone)
	}()

	select {
	case <-ctx.Done():
		select {
		case <-closeDone:
		case <-time.After(time.Second):
			log.Println("Exiting...")
			os.Exit(0)
		}
	case <-closeDone:
	case <-time.After(3 * time.Second):
		log.Println("Device close timed out")
	}
}
