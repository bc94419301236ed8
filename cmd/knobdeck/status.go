package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/phinze/knobdeck/internal/app"
	"github.com/phinze/knobdeck/internal/bridge"
	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/device/streamdeck"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check config, secrets, bridge and device health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Knobdeck Status ===")
	fmt.Println()

	allOK := true

	// Config file
	configPath := config.DefaultConfigPath()
	fmt.Printf("Config file: %s\n", configPath)
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("  Status: found")
	} else {
		fmt.Println("  Status: not found (using defaults)")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("  Load error: %v\n", err)
		fmt.Println()
		fmt.Println("Some checks failed. Run 'knobdeck setup' to configure.")
		return nil
	}
	fmt.Printf("  Backend: %s\n", cfg.Backend)
	fmt.Println()

	// Active profile
	charging := app.OnExternalPower()
	prof := cfg.Profile(charging)
	source := "battery"
	if charging {
		source = "external power"
	}
	fmt.Printf("Display (%s):\n", source)
	fmt.Printf("  Rotation: %v\n", prof.Rotation)
	fmt.Printf("  Dim after: %s\n", describe(prof.DimTimeout))
	fmt.Printf("  Sleep after: %s\n", describe(prof.SleepTimeout))
	fmt.Printf("  Immersive after: %s\n", describe(prof.ImmersiveTimeout))
	fmt.Printf("  Backlight: %d normal, %d dim\n", cfg.Display.BacklightNormal, cfg.Display.BacklightDim)
	fmt.Println()

	// Bridge
	fmt.Println("Media bridge:")
	if cfg.Bridge.URL == "" {
		fmt.Println("  URL: not set (immersive mode always available)")
	} else {
		fmt.Printf("  URL: %s\n", cfg.Bridge.URL)
		if _, err := config.GetKeychainSecret(config.KeyBridgeToken); err == nil {
			fmt.Println("  Token (Keychain): set")
		} else if cfg.Bridge.Token != "" {
			fmt.Println("  Token (env): set")
		} else {
			fmt.Println("  Token: not set")
		}

		probe := bridge.NewProbe(cfg.Bridge.URL, cfg.Bridge.Token, nil)
		probe.SetKnobID(cfg.Bridge.KnobID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := probe.Check(ctx)
		cancel()
		switch {
		case err != nil:
			fmt.Printf("  Reachable: NO (%v)\n", err)
			allOK = false
		case probe.Ready():
			fmt.Printf("  Zones: %d\n", len(probe.Zones()))
		default:
			fmt.Println("  Zones: none (immersive mode unavailable)")
		}
	}
	fmt.Println()

	// Device check (quick USB probe)
	if cfg.Backend == config.BackendStreamDeck {
		fmt.Println("Stream Deck:")
		if dev, err := streamdeck.Probe(2 * time.Second); err == nil {
			fmt.Printf("  Device: CONNECTED (%s)\n", dev.GetModelName())
			dev.Close()
		} else {
			fmt.Println("  Device: not detected")
			allOK = false
		}
		fmt.Println()
	}

	if allOK {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed. Run 'knobdeck setup' to configure.")
	}

	return nil
}

func describe(d time.Duration) string {
	if d <= 0 {
		return "disabled"
	}
	return d.String()
}
