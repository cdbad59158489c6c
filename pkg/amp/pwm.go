package amp

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Modulator drives the pulse modulation output. Duty is a fraction in
// (0, 1].
type Modulator struct {
	mu      sync.Mutex
	pin     gpio.PinOut
	duty    float64
	freq    physic.Frequency
	running bool
}

// NewModulator creates a stopped modulator on pin.
func NewModulator(pin gpio.PinOut) *Modulator {
	return &Modulator{pin: pin, duty: 1}
}

// PulseFrequency returns the repetition frequency for a pulse of the given
// length in seconds.
func PulseFrequency(seconds float64) physic.Frequency {
	return physic.Frequency(float64(physic.Hertz) / seconds)
}

// Start outputs the waveform with the given duty and frequency.
func (m *Modulator) Start(duty float64, f physic.Frequency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duty, m.freq = duty, f
	if err := m.apply(); err != nil {
		return err
	}
	m.running = true
	return nil
}

// Stop drives the output low.
func (m *Modulator) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if err := m.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("stop pwm: %w", err)
	}
	return nil
}

// SetDuty changes the duty. A running output is updated immediately.
func (m *Modulator) SetDuty(duty float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duty = duty
	if !m.running {
		return nil
	}
	return m.apply()
}

// SetFrequency changes the frequency. A running output is updated
// immediately.
func (m *Modulator) SetFrequency(f physic.Frequency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freq = f
	if !m.running {
		return nil
	}
	return m.apply()
}

// State returns the duty, frequency and whether the output runs.
func (m *Modulator) State() (float64, physic.Frequency, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty, m.freq, m.running
}

func (m *Modulator) apply() error {
	d := gpio.Duty(m.duty * float64(gpio.DutyMax))
	if err := m.pin.PWM(d, m.freq); err != nil {
		return fmt.Errorf("set pwm %s %s: %w", d, m.freq, err)
	}
	return nil
}
