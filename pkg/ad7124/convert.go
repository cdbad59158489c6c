package ad7124

const (
	// CodeMax is the largest 24 bit conversion code; a saturated input reads as CodeMax.
	CodeMax = 1<<24 - 1

	halfScale = 1 << 23
	fullScale = 1 << 24
)

// Voltage converts a raw 24 bit code to volts for the given setup.
// Bipolar setups are offset binary around mid scale.
func Voltage(code uint32, cfg Configuration) float64 {
	gain := float64(cfg.Pga().Gain())
	if cfg.Bipolar() {
		return (float64(code)/halfScale - 1) * Vref / gain
	}
	return float64(code) * Vref / (gain * fullScale)
}

// Code is the inverse of Voltage, clamped to the 24 bit range.
func Code(volts float64, cfg Configuration) uint32 {
	gain := float64(cfg.Pga().Gain())
	var c float64
	if cfg.Bipolar() {
		c = (volts*gain/Vref + 1) * halfScale
	} else {
		c = volts * gain / Vref * fullScale
	}
	switch {
	case c <= 0:
		return 0
	case c >= CodeMax:
		return CodeMax
	}
	return uint32(c)
}
