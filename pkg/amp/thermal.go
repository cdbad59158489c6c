package amp

import "math"

// TempFromVoltage converts the thermal sensor output voltage to °C.
func TempFromVoltage(v float64) float64 {
	return -1481.96 + math.Sqrt(2.1962e6+(1.8639-v)/3.88e-6)
}

// ThermalLimits is the safe operating temperature window in °C.
type ThermalLimits struct {
	Min float64
	Max float64
}

// DefaultThermalLimits returns the sensor's rated window.
func DefaultThermalLimits() ThermalLimits {
	return ThermalLimits{Min: -55, Max: 60}
}

// OK reports whether t lies inside the window. NaN is never OK.
func (l ThermalLimits) OK(t float64) bool {
	return t >= l.Min && t <= l.Max
}

// VoltageFromTemp is the inverse of TempFromVoltage.
func VoltageFromTemp(t float64) float64 {
	return 1.8639 - 3.88e-6*((t+1481.96)*(t+1481.96)-2.1962e6)
}
