// Package hw opens the amplifier's SPI bus and GPIO lines.
package hw

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/config"
)

// ErrPinNotFound is returned for an unknown GPIO name.
var ErrPinNotFound = errors.New("hw: pin not found")

// Board is an opened set of amplifier peripherals.
type Board struct {
	Bus      ad7124.Bus
	Hardware amp.Hardware

	closers []io.Closer
}

// Close releases the peripherals.
func (b *Board) Close() error {
	var err error
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	b.closers = nil
	return err
}

// Open initializes the host drivers and opens the configured SPI port and
// pins. The ADC uses SPI mode 3.
func Open(cfg config.HardwareConfig) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	hw, err := pins(cfg, func(name string) gpio.PinOut {
		if p := gpioreg.ByName(name); p != nil {
			return p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("open spi %s: %w", cfg.SPIPort, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.SPISpeedHz)*physic.Hertz, spi.Mode3, 8)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("connect spi %s: %w", cfg.SPIPort, err), port.Close())
	}

	return &Board{Bus: conn, Hardware: hw, closers: []io.Closer{port}}, nil
}

// pins resolves the configured line names with lookup.
func pins(cfg config.HardwareConfig, lookup func(string) gpio.PinOut) (amp.Hardware, error) {
	var hw amp.Hardware
	if len(cfg.AttenuatorPins) != amp.NumAttenuatorPins {
		return hw, fmt.Errorf("hw: want %d attenuator pins, have %d", amp.NumAttenuatorPins, len(cfg.AttenuatorPins))
	}

	var err error
	get := func(name string) gpio.PinOut {
		p := lookup(name)
		if p == nil {
			err = multierr.Append(err, fmt.Errorf("%w: %q", ErrPinNotFound, name))
		}
		return p
	}
	for i, name := range cfg.AttenuatorPins {
		hw.Attenuator[i] = get(name)
	}
	hw.Power = get(cfg.PowerPin)
	hw.Fan = get(cfg.FanPin)
	hw.PWM = get(cfg.PWMPin)
	return hw, err
}
