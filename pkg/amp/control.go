package amp

import (
	"errors"
	"fmt"
	"math"

	"github.com/itohio/instamp/pkg/calib"
	"github.com/itohio/instamp/pkg/sample"
)

var (
	// ErrThermalFault is returned when the amplifier temperature leaves the
	// safe window. The amplifier must be shut down.
	ErrThermalFault = errors.New("amp: temperature out of range")

	// ErrOverPowerFault is returned when the measured output power exceeds
	// the target. The amplifier must be shut down.
	ErrOverPowerFault = errors.New("amp: output power above target")

	// ErrSensorInvalid is returned when the power sensor reading converts to
	// no power. The tick is skipped.
	ErrSensorInvalid = errors.New("amp: power sensor reading invalid")
)

// Mode selects what the control loop holds constant.
type Mode int

const (
	// ModeOutputPower closes the loop on measured output power.
	ModeOutputPower Mode = iota
	// ModeGain sets the attenuator open loop from the gain table.
	ModeGain
)

func (m Mode) String() string {
	switch m {
	case ModeOutputPower:
		return "output_power"
	case ModeGain:
		return "gain"
	}
	return "unknown"
}

// ParseMode parses the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "output_power":
		return ModeOutputPower, nil
	case "gain":
		return ModeGain, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// WattsToDBm converts watts to dBm.
func WattsToDBm(w float64) float64 { return 10 * math.Log10(w*1000) }

// DBmToWatts converts dBm to watts.
func DBmToWatts(dbm float64) float64 { return math.Pow(10, dbm/10) / 1000 }

// Sensors is one aggregated reading of the power and thermal channels.
type Sensors struct {
	Power   sample.Reading
	Thermal sample.Reading
}

// Step holds the inputs of one control tick.
type Step struct {
	Mode      Mode
	TargetDBm float64
	BaseGain  float64         // Amplifier gain at zero attenuation (dB)
	Pins      Pins            // Attenuator code before the tick
	Power     calib.PowerFunc // Raw power code to watts
	Thermal   ThermalLimits
}

// Regulation is the outcome of one control tick.
type Regulation struct {
	TempC    float64
	PowerW   float64
	PowerDBm float64
	Pins     Pins    // Attenuator code to apply
	GainDB   float64 // Gain achieved with Pins
}

// Run evaluates one tick. The temperature is always checked first. A power
// reading that converts to no power yields ErrSensorInvalid and leaves the
// pins alone. In output power mode a measurement above target yields
// ErrOverPowerFault; otherwise attenuation is removed in proportion to the
// remaining headroom, never below zero.
func (s Step) Run(in Sensors) (Regulation, error) {
	r := Regulation{
		TempC:  TempFromVoltage(in.Thermal.Voltage),
		Pins:   s.Pins,
		GainDB: s.BaseGain - float64(s.Pins)*StepDB,
	}
	if !s.Thermal.OK(r.TempC) {
		return r, fmt.Errorf("%w: %.2f °C", ErrThermalFault, r.TempC)
	}

	if s.Power != nil {
		r.PowerW = math.Max(0, s.Power(float64(in.Power.Code)))
	}
	if !(r.PowerW > 0) {
		r.PowerW = 0
		return r, ErrSensorInvalid
	}
	r.PowerDBm = WattsToDBm(r.PowerW)

	if s.Mode != ModeOutputPower {
		return r, nil
	}
	// Negated so that a NaN target trips as well.
	if !(r.PowerDBm <= s.TargetDBm) {
		return r, fmt.Errorf("%w: %.3f dBm > %.3f dBm", ErrOverPowerFault, r.PowerDBm, s.TargetDBm)
	}

	// eps keeps exact multiples of the step from rounding down.
	const eps = 1e-9
	delta := s.TargetDBm - r.PowerDBm
	if delta+eps >= StepDB {
		reduce := max(1, int(delta/StepDB/2+eps))
		r.Pins = Pins(max(0, int(s.Pins)-reduce))
		r.GainDB = s.BaseGain - float64(r.Pins)*StepDB
	}
	return r, nil
}
