package amp

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Pins is the 5-bit attenuator code. Bit i switches in a 0.9·2^i dB section.
type Pins uint8

const (
	// MaxAttenuation switches in every section (27.9 dB), the safe state.
	MaxAttenuation Pins = 0b11111

	// StepDB is the attenuation of the least significant section.
	StepDB = 0.9

	// NumAttenuatorPins is the number of attenuator control lines.
	NumAttenuatorPins = 5
)

// SectionDB lists the section weights in pin order, most significant first.
var SectionDB = [NumAttenuatorPins]float64{14.4, 7.2, 3.6, 1.8, 0.9}

// Attenuation returns the attenuation of the code in dB.
func (p Pins) Attenuation() float64 {
	var db float64
	for i := range NumAttenuatorPins {
		if p&(1<<i) != 0 {
			db += SectionDB[NumAttenuatorPins-1-i]
		}
	}
	return db
}

func (p Pins) String() string { return fmt.Sprintf("0b%05b", uint8(p)) }

// PinsForGain returns the attenuator code that brings an amplifier with the
// given base gain down to gain.
func PinsForGain(base, gain float64) Pins {
	att := math.Max(0, base-gain)
	n := int(att/StepDB + 1e-9)
	if n > int(MaxAttenuation) {
		return MaxAttenuation
	}
	return Pins(n)
}

// Attenuator drives the attenuator control lines.
type Attenuator struct {
	mu   sync.Mutex
	pins [NumAttenuatorPins]gpio.PinOut
	cur  Pins
}

// NewAttenuator creates an attenuator on the given lines, most significant
// (14.4 dB) first. The lines are not touched until Set.
func NewAttenuator(pins [NumAttenuatorPins]gpio.PinOut) *Attenuator {
	return &Attenuator{pins: pins, cur: MaxAttenuation}
}

// Set drives every line for code p. Bit i drives line 4-i.
func (a *Attenuator) Set(p Pins) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p &= MaxAttenuation
	for i := range NumAttenuatorPins {
		l := gpio.Level(p&(1<<i) != 0)
		if err := a.pins[NumAttenuatorPins-1-i].Out(l); err != nil {
			return fmt.Errorf("attenuator bit %d: %w", i, err)
		}
	}
	a.cur = p
	return nil
}

// Pins returns the last code written.
func (a *Attenuator) Pins() Pins {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}
