package amp

// Settings are the operator controlled parameters.
type Settings struct {
	FrequencyGHz   float64 `json:"frequency_ghz" yaml:"frequency_ghz"`
	OutputPowerDBm float64 `json:"output_power_dbm" yaml:"output_power_dbm"`
	GainDB         float64 `json:"gain_db" yaml:"gain_db"`
	Mode           Mode    `json:"mode" yaml:"mode"`
	Modulation     bool    `json:"modulation" yaml:"modulation"`
	PulseUs        float64 `json:"pulse_us" yaml:"pulse_us"`
	DutyCycle      float64 `json:"duty_cycle" yaml:"duty_cycle"` // Period over pulse length
}

// DefaultSettings returns the power-up settings.
func DefaultSettings() Settings {
	return Settings{
		FrequencyGHz:   10,
		OutputPowerDBm: -10,
		GainDB:         20,
		Mode:           ModeOutputPower,
		Modulation:     true,
		PulseUs:        1000,
		DutyCycle:      10,
	}
}

// PulseSeconds returns the pulse length in seconds.
func (s Settings) PulseSeconds() float64 { return s.PulseUs / 1e6 }

// PWMDuty returns the modulation output duty: 1/DutyCycle when modulating,
// continuous otherwise.
func (s Settings) PWMDuty() float64 {
	if !s.Modulation {
		return 1
	}
	return 1 / s.DutyCycle
}

// Limits bound the settings.
type Limits struct {
	FrequencyMinGHz float64
	FrequencyMaxGHz float64
	PowerMaxW       float64
	GainMinDB       float64
	GainMaxDB       float64
	PulseMinUs      float64
	PulseMaxUs      float64
}

// DefaultLimits returns the amplifier's rated limits.
func DefaultLimits() Limits {
	return Limits{
		FrequencyMinGHz: 6,
		FrequencyMaxGHz: 18,
		PowerMaxW:       6.5,
		GainMinDB:       12,
		GainMaxDB:       45,
		PulseMinUs:      1,
		PulseMaxUs:      1e6,
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// ClampFrequency bounds a frequency in GHz.
func (l Limits) ClampFrequency(ghz float64) float64 {
	return clamp(ghz, l.FrequencyMinGHz, l.FrequencyMaxGHz)
}

// ClampOutputPower bounds an output power in dBm to [0, PowerMaxW] watts.
func (l Limits) ClampOutputPower(dbm float64) float64 {
	if DBmToWatts(dbm) > l.PowerMaxW {
		return WattsToDBm(l.PowerMaxW)
	}
	return dbm
}

// ClampGain bounds a gain in dB.
func (l Limits) ClampGain(db float64) float64 {
	return clamp(db, l.GainMinDB, l.GainMaxDB)
}

// ClampPulse bounds a pulse length in µs. The pulse may not be shorter than
// the duty cycle ratio.
func (l Limits) ClampPulse(us, duty float64) float64 {
	us = clamp(us, l.PulseMinUs, l.PulseMaxUs)
	if us/duty < 1 {
		us = duty
	}
	return us
}

// ClampDuty bounds a duty cycle ratio to at least 1 and at most the pulse
// length in µs.
func ClampDuty(duty, pulseUs float64) float64 {
	duty = max(1, duty)
	if pulseUs/duty < 1 {
		duty = pulseUs
	}
	return duty
}
