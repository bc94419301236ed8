// Package config provides configuration loading from YAML files, macOS Keychain,
// and environment variables. Environment variables take precedence for dev flexibility.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/phinze/knobdeck/internal/orientation"
	"github.com/phinze/knobdeck/internal/power"
)

const (
	// KeychainService is the macOS Keychain service name for knobdeck secrets.
	KeychainService = "knobdeck"

	// KeyBridgeToken is the Keychain account holding the bridge bearer token.
	KeyBridgeToken = "bridge-token"
)

// Supported device backends.
const (
	BackendStreamDeck = "streamdeck"
	BackendSPI        = "spi"
	BackendEmulator   = "emulator"
)

// Config holds the full application configuration, assembled from YAML + Keychain + env.
type Config struct {
	Backend string        `yaml:"backend"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Display DisplayConfig `yaml:"display"`
	SPI     SPIConfig     `yaml:"spi"`
}

// BridgeConfig points at the media bridge that backs immersive mode.
type BridgeConfig struct {
	URL          string `yaml:"url"`
	KnobID       string `yaml:"knob_id"`
	PollInterval int    `yaml:"poll_interval_sec"`
	Token        string `yaml:"-"` // secret, not in YAML
}

// DisplayConfig holds the per-profile display behaviour.
type DisplayConfig struct {
	RotationCharging orientation.Orientation `yaml:"rotation_charging"`
	RotationBattery  orientation.Orientation `yaml:"rotation_battery"`
	BacklightNormal  uint8                   `yaml:"backlight_normal"`
	BacklightDim     uint8                   `yaml:"backlight_dim"`
	AwakeUntilReady  bool                    `yaml:"awake_until_ready"`
	Charging         TimeoutProfile          `yaml:"charging"`
	Battery          TimeoutProfile          `yaml:"battery"`
}

// TimeoutProfile is the set of idle timeouts for one power source.
type TimeoutProfile struct {
	Immersive Timeout `yaml:"immersive"`
	Dim       Timeout `yaml:"dim"`
	Sleep     Timeout `yaml:"sleep"`
}

// Timeout is an optional idle timeout.
type Timeout struct {
	Enabled    bool `yaml:"enabled"`
	TimeoutSec int  `yaml:"timeout_sec"`
}

// Duration returns the timeout, or zero when disabled.
func (t Timeout) Duration() time.Duration {
	if !t.Enabled || t.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutSec) * time.Second
}

// SPIConfig describes the wiring of a directly attached panel.
type SPIConfig struct {
	Port         string `yaml:"port"`
	SpeedHz      int64  `yaml:"speed_hz"`
	DCPin        string `yaml:"dc_pin"`
	ResetPin     string `yaml:"reset_pin"`
	BacklightPin string `yaml:"backlight_pin"`
	I2CBus       string `yaml:"i2c_bus"`
	TouchAddr    uint16 `yaml:"touch_addr"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
}

// Profile is the resolved display behaviour for the current power source.
type Profile struct {
	Rotation         orientation.Orientation
	ImmersiveTimeout time.Duration
	DimTimeout       time.Duration
	SleepTimeout     time.Duration
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: BackendStreamDeck,
		Bridge: BridgeConfig{
			PollInterval: 10,
		},
		Display: DisplayConfig{
			BacklightNormal: 255,
			BacklightDim:    40,
			Charging: TimeoutProfile{
				Dim: Timeout{Enabled: true, TimeoutSec: 120},
			},
			Battery: TimeoutProfile{
				Dim:   Timeout{Enabled: true, TimeoutSec: 30},
				Sleep: Timeout{Enabled: true, TimeoutSec: 60},
			},
		},
		SPI: SPIConfig{
			Port:         "/dev/spidev0.0",
			SpeedHz:      40_000_000,
			DCPin:        "GPIO25",
			ResetPin:     "GPIO27",
			BacklightPin: "GPIO18",
			I2CBus:       "1",
			TouchAddr:    0x15,
			Width:        360,
			Height:       360,
		},
	}
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "knobdeck")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	// Allow override via environment variable (used by nix-generated config)
	if p := os.Getenv("KNOBDECK_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load assembles configuration from YAML file + Keychain + environment variables.
// Environment variables always take precedence. Returns a usable Config even if
// some sources are missing.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(configPath string) (*Config, error) {
	cfg := Default()

	// 1. Try to load YAML config file
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	// 2. Layer in Keychain secrets (ignore errors, Keychain may not be populated)
	if token, err := keyring.Get(KeychainService, KeyBridgeToken); err == nil {
		cfg.Bridge.Token = token
	}

	// 3. Environment variables override everything
	if v := os.Getenv("KNOBDECK_BRIDGE"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("KNOBDECK_BRIDGE_TOKEN"); v != "" {
		cfg.Bridge.Token = v
	}
	if v := os.Getenv("KNOBDECK_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("KNOBDECK_ROTATION"); v != "" {
		o, _ := orientation.Parse(v)
		cfg.Display.RotationCharging = o
		cfg.Display.RotationBattery = o
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendStreamDeck, BackendSPI, BackendEmulator:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)",
			c.Backend, BackendStreamDeck, BackendSPI, BackendEmulator)
	}
	if c.Display.BacklightDim > c.Display.BacklightNormal {
		log.Printf("config: backlight_dim %d is brighter than backlight_normal %d",
			c.Display.BacklightDim, c.Display.BacklightNormal)
	}
	return nil
}

// Profile resolves the rotation and timeouts for the given power source.
func (c *Config) Profile(charging bool) Profile {
	rot, tp := c.Display.RotationBattery, c.Display.Battery
	if charging {
		rot, tp = c.Display.RotationCharging, c.Display.Charging
	}
	return Profile{
		Rotation:         rot,
		ImmersiveTimeout: tp.Immersive.Duration(),
		DimTimeout:       tp.Dim.Duration(),
		SleepTimeout:     tp.Sleep.Duration(),
	}
}

// PowerConfig builds the power state machine configuration for a profile.
func (c *Config) PowerConfig(charging bool) power.Config {
	p := c.Profile(charging)
	pc := power.DefaultConfig()
	pc.DimTimeout = p.DimTimeout
	pc.SleepTimeout = p.SleepTimeout
	pc.ImmersiveTimeout = p.ImmersiveTimeout
	pc.NormalLevel = c.Display.BacklightNormal
	pc.DimLevel = c.Display.BacklightDim
	pc.AwakeUntilReady = c.Display.AwakeUntilReady
	return pc
}

// BridgePollInterval returns the readiness poll period.
func (c *Config) BridgePollInterval() time.Duration {
	if c.Bridge.PollInterval <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Bridge.PollInterval) * time.Second
}

// WriteConfigFile writes the non-secret portion of config to the YAML file.
func WriteConfigFile(cfg *Config) error {
	return WriteConfigFileTo(DefaultConfigPath(), cfg)
}

// WriteConfigFileTo writes cfg to path, creating the directory.
func WriteConfigFileTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// SetKeychainSecret stores a secret in the macOS Keychain.
func SetKeychainSecret(account, value string) error {
	// Delete first to avoid "already exists" errors on update
	_ = keyring.Delete(KeychainService, account)
	return keyring.Set(KeychainService, account, value)
}

// GetKeychainSecret retrieves a secret from the macOS Keychain.
func GetKeychainSecret(account string) (string, error) {
	return keyring.Get(KeychainService, account)
}
