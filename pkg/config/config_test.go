package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "SPI0.0", cfg.Hardware.SPIPort)
	assert.Equal(t, []string{"GPIO24", "GPIO23", "GPIO22", "GPIO27", "GPIO17"}, cfg.Hardware.AttenuatorPins)
	assert.Equal(t, "GPIO5", cfg.Hardware.PowerPin)
	assert.Equal(t, "GPIO16", cfg.Hardware.FanPin)
	assert.Equal(t, "full", cfg.ADC.PowerMode)
	assert.Equal(t, uint8(0), cfg.Sensors.PowerChannel)
	assert.Equal(t, uint8(1), cfg.Sensors.ThermalChannel)
	assert.Equal(t, 4, cfg.Sensors.Samples)
	assert.Equal(t, 16, cfg.Sensors.RangingPasses)
	assert.Equal(t, float64(-55), cfg.Control.TempMin)
	assert.Equal(t, float64(60), cfg.Control.TempMax)
	assert.Equal(t, float64(10), cfg.Settings.FrequencyGHz)
	assert.Equal(t, float64(-10), cfg.Settings.OutputPowerDBm)
	assert.Equal(t, "output_power", cfg.Settings.Mode)
	assert.True(t, cfg.Settings.Modulation)
	assert.Equal(t, 115200, cfg.Console.BaudRate)
	assert.Len(t, cfg.Calibration.Power, 3)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "SPI0.0", cfg.Hardware.SPIPort)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
hardware:
  spi_port: "SPI1.0"
  attenuator_pins: [GPIO1, GPIO2, GPIO3, GPIO4, GPIO6]

adc:
  power_mode: mid
  poll_interval: 2ms

control:
  tick_interval: 100ms
  temp_min: -20
  temp_max: 50

settings:
  frequency_ghz: 12.5
  mode: gain
  gain_db: 30

calibration:
  power:
    - ghz: 8
      expr: "x * 2"
  gain:
    - ghz: 8
      db: 40

console:
  port: /dev/ttyS0
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "SPI1.0", cfg.Hardware.SPIPort)
	assert.Equal(t, []string{"GPIO1", "GPIO2", "GPIO3", "GPIO4", "GPIO6"}, cfg.Hardware.AttenuatorPins)
	assert.Equal(t, "mid", cfg.ADC.PowerMode)
	assert.Equal(t, 2*time.Millisecond, cfg.ADC.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Control.TickInterval)
	assert.Equal(t, float64(-20), cfg.Control.TempMin)
	assert.Equal(t, float64(50), cfg.Control.TempMax)
	assert.Equal(t, 12.5, cfg.Settings.FrequencyGHz)
	assert.Equal(t, "gain", cfg.Settings.Mode)
	assert.Equal(t, float64(30), cfg.Settings.GainDB)
	assert.Len(t, cfg.Calibration.Power, 1)
	assert.Equal(t, "x * 2", cfg.Calibration.Power[0].Expr)
	assert.Equal(t, "/dev/ttyS0", cfg.Console.Port)
	assert.Equal(t, 115200, cfg.Console.BaudRate) // default
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
hardware:
  power_pin: GPIO6
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "GPIO6", cfg.Hardware.PowerPin)
	assert.Equal(t, "GPIO16", cfg.Hardware.FanPin)      // default
	assert.Equal(t, 1000, cfg.ADC.ReadyRetries)         // default
	assert.Equal(t, float64(60), cfg.Control.TempMax)   // default
	assert.Equal(t, float64(6.5), cfg.Limits.PowerMaxW) // default
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Hardware.SPIPort = "SPI0.1"
	cfg.Settings.DutyCycle = 4

	filename := filepath.Join(t.TempDir(), "save.yaml")
	err := cfg.Save(filename)
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, "SPI0.1", loaded.Hardware.SPIPort)
	assert.Equal(t, float64(4), loaded.Settings.DutyCycle)
	assert.Equal(t, cfg.Calibration.Gain, loaded.Calibration.Gain)
}

func TestCalibration_Tables(t *testing.T) {
	cfg := Default()

	power, err := cfg.Calibration.PowerTable()
	require.NoError(t, err)
	assert.Equal(t, 3, power.Len())

	gain, err := cfg.Calibration.GainTable()
	require.NoError(t, err)
	base, err := gain.Closest(11)
	require.NoError(t, err)
	assert.Equal(t, float64(44), base)
}

func TestCalibration_PowerFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "adc_power.txt")
	require.NoError(t, os.WriteFile(filename, []byte("10 x*3\n"), 0644))

	c := CalibrationConfig{PowerFile: filename}
	power, err := c.PowerTable()
	require.NoError(t, err)
	f, err := power.Closest(10)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, f(2), 1e-9)
}

func TestLoad_SensorChannels(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "defaults", yaml: "sensors:\n  samples: 8\n"},
		{name: "last setup", yaml: "sensors:\n  power_channel: 7\n  thermal_channel: 6\n"},
		{name: "power beyond setups", yaml: "sensors:\n  power_channel: 8\n", wantErr: true},
		{name: "thermal beyond setups", yaml: "sensors:\n  thermal_channel: 15\n", wantErr: true},
		{name: "same channel", yaml: "sensors:\n  power_channel: 1\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
