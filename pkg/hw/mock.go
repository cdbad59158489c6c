package hw

import (
	"math"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/config"
)

const (
	maxSenseVolts  = 2.4 // Detector saturation, below the 2.5 V reference
	heatingCPerV   = 8.0 // Steady state rise per volt of detector output
	thermalTimeSec = 5.0
)

// Mock simulates the amplifier board: an AD7124 register model and
// in-memory pins. The power detector follows the attenuator and supply pins;
// the thermal sensor approaches a power dependent temperature with lag.
type Mock struct {
	Sim        *ad7124.Sim
	Attenuator [amp.NumAttenuatorPins]*gpiotest.Pin
	Power      *gpiotest.Pin
	Fan        *gpiotest.Pin
	PWM        *gpiotest.Pin

	cfg     config.MockConfig
	ambient float64
	now     func() time.Time

	mu   sync.Mutex
	temp float64
	last time.Time
}

var _ ad7124.Bus = (*Mock)(nil)

// NewMock creates a simulated board.
func NewMock(cfg config.MockConfig) *Mock {
	m := &Mock{
		Sim:   ad7124.NewSim(),
		Power: &gpiotest.Pin{N: "POWER", Num: 0},
		Fan:   &gpiotest.Pin{N: "FAN", Num: 1},
		PWM:   &gpiotest.Pin{N: "PWM", Num: 2},
		cfg:   cfg,
		now:   time.Now,
	}
	for i := range m.Attenuator {
		m.Attenuator[i] = &gpiotest.Pin{N: "ATT" + strconv.Itoa(i), Num: 3 + i}
	}
	m.ambient = amp.TempFromVoltage(cfg.ThermalSenseVolts)
	m.temp = m.ambient
	if cfg.NoiseLevel > 0 {
		m.Sim.SetNoise(cfg.NoiseLevel, time.Now().UnixNano())
	}
	m.update()
	return m
}

// Board returns the simulated peripherals.
func (m *Mock) Board() *Board {
	hw := amp.Hardware{Power: m.Power, Fan: m.Fan, PWM: m.PWM}
	for i, p := range m.Attenuator {
		hw.Attenuator[i] = p
	}
	return &Board{Bus: m, Hardware: hw}
}

// Tx refreshes the analog inputs and forwards to the register model.
func (m *Mock) Tx(w, r []byte) error {
	m.update()
	return m.Sim.Tx(w, r)
}

// Temperature returns the simulated sensor temperature.
func (m *Mock) Temperature() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temp
}

func (m *Mock) attenuation() float64 {
	var db float64
	for i, p := range m.Attenuator {
		if p.Read() == gpio.High {
			db += amp.SectionDB[i]
		}
	}
	return db
}

func (m *Mock) update() {
	sense := 0.0
	if m.Power.Read() == gpio.High {
		gain := amp.MaxAttenuation.Attenuation() - m.attenuation()
		sense = math.Min(m.cfg.PowerSenseVolts*math.Pow(10, gain/10), maxSenseVolts)
	}

	m.mu.Lock()
	now := m.now()
	if !m.last.IsZero() {
		dt := now.Sub(m.last).Seconds()
		alpha := math.Min(dt/thermalTimeSec, 1)
		target := m.ambient + sense*heatingCPerV
		m.temp += alpha * (target - m.temp)
	}
	m.last = now
	temp := m.temp
	m.mu.Unlock()

	m.Sim.SetInput(ad7124.Ain0, sense)
	m.Sim.SetInput(ad7124.Ain1, amp.VoltageFromTemp(temp))
}
