package spipanel

import (
	"fmt"
	"image"
	"log"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/phinze/knobdeck/internal/config"
	"github.com/phinze/knobdeck/internal/gesture"
)

// Knob implements device.Backend on a directly wired panel and touch
// controller.
type Knob struct {
	cfg config.SPIConfig

	*Panel
	touch *Touch

	port spi.PortCloser
	bus  i2c.BusCloser
}

// New prepares a backend for the given wiring. Hardware is not touched
// until Open.
func New(cfg config.SPIConfig) *Knob {
	return &Knob{cfg: cfg}
}

// Open initializes the host drivers, opens the buses and resets the panel.
func (k *Knob) Open() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}

	port, err := spireg.Open(k.cfg.Port)
	if err != nil {
		return fmt.Errorf("opening spi %s: %w", k.cfg.Port, err)
	}
	c, err := port.Connect(physic.Frequency(k.cfg.SpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return fmt.Errorf("connecting spi: %w", err)
	}
	k.port = port

	size := image.Pt(k.cfg.Width, k.cfg.Height)
	k.Panel = NewPanel(c, pin(k.cfg.DCPin), pin(k.cfg.ResetPin), pin(k.cfg.BacklightPin), size)
	if lim, ok := c.(conn.Limits); ok && lim.MaxTxSize() > 0 {
		k.Panel.maxTx = lim.MaxTxSize()
	}
	if err := k.Panel.Init(); err != nil {
		k.Close()
		return err
	}

	bus, err := i2creg.Open(k.cfg.I2CBus)
	if err != nil {
		log.Printf("spipanel: no touch bus %q: %v", k.cfg.I2CBus, err)
		return nil
	}
	k.bus = bus
	k.touch = NewTouch(bus, k.cfg.TouchAddr, size)
	return nil
}

// Close releases the buses.
func (k *Knob) Close() error {
	var firstErr error
	if k.bus != nil {
		if err := k.bus.Close(); err != nil {
			firstErr = err
		}
		k.bus = nil
	}
	if k.port != nil {
		if err := k.port.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		k.port = nil
	}
	return firstErr
}

// ModelName describes the attached panel.
func (k *Knob) ModelName() string {
	return fmt.Sprintf("SPI panel %dx%d on %s", k.cfg.Width, k.cfg.Height, k.cfg.Port)
}

// SampleTouch polls the touch controller.
func (k *Knob) SampleTouch() (gesture.Sample, bool, error) {
	if k.touch == nil {
		return gesture.Sample{}, false, nil
	}
	s, err := k.touch.Sample()
	if err != nil {
		return gesture.Sample{}, false, err
	}
	return s, true, nil
}

func pin(name string) gpio.PinOut {
	if name == "" {
		return nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		log.Printf("spipanel: unknown pin %q", name)
		return nil
	}
	return p
}
