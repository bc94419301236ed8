package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/orientation"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup: write config and store secrets in Keychain",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== Knobdeck Setup ===")
	fmt.Println()

	// Start from the existing config so unprompted fields survive
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("  (ignoring existing config: %v)\n", err)
		cfg = config.Default()
	}

	fmt.Println("-- Device --")
	cfg.Backend = prompt(reader, "Backend (streamdeck, spi)", cfg.Backend)
	rot := prompt(reader, "Rotation in degrees (0 or 180)", strconv.Itoa(cfg.Display.RotationCharging.Degrees()))
	if o, ok := orientation.Parse(rot); ok {
		cfg.Display.RotationCharging = o
		cfg.Display.RotationBattery = o
	} else {
		fmt.Printf("  -> unsupported rotation %q, keeping %v\n", rot, cfg.Display.RotationCharging)
	}

	fmt.Println()

	fmt.Println("-- Media bridge --")
	cfg.Bridge.URL = prompt(reader, "Bridge URL (empty to disable)", cfg.Bridge.URL)
	cfg.Bridge.KnobID = prompt(reader, "Knob ID", cfg.Bridge.KnobID)

	token := promptSecret(reader, "Bridge token", cfg.Bridge.Token != "")
	if token != "" {
		if err := config.SetKeychainSecret(config.KeyBridgeToken, token); err != nil {
			return fmt.Errorf("storing bridge token in Keychain: %w", err)
		}
		fmt.Println("  -> Stored in Keychain")
	} else {
		fmt.Println("  -> Kept existing")
	}

	fmt.Println()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.WriteConfigFile(cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	fmt.Printf("Config written to %s\n", config.DefaultConfigPath())
	fmt.Println("Setup complete!")
	return nil
}

// prompt asks for a value with an optional default.
func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal
	}
	return line
}

// promptSecret asks for a secret value. If one already exists, allows keeping it.
func promptSecret(reader *bufio.Reader, label string, hasExisting bool) string {
	if hasExisting {
		fmt.Printf("  %s [press Enter to keep existing]: ", label)
	} else {
		fmt.Printf("  %s: ", label)
	}
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
