package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/calib"
)

// Config represents the application configuration.
type Config struct {
	Hardware    HardwareConfig    `yaml:"hardware"`
	ADC         ADCConfig         `yaml:"adc"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Control     ControlConfig     `yaml:"control"`
	Limits      LimitsConfig      `yaml:"limits"`
	Settings    SettingsConfig    `yaml:"settings"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Console     ConsoleConfig     `yaml:"console"`
	API         APIConfig         `yaml:"api"`
	State       StateConfig       `yaml:"state"`
	Mock        MockConfig        `yaml:"mock"`
	Log         LogConfig         `yaml:"log"`
}

// HardwareConfig names the SPI port and GPIO lines (periph.io names).
type HardwareConfig struct {
	SPIPort        string   `yaml:"spi_port"`
	SPISpeedHz     int64    `yaml:"spi_speed_hz"`
	AttenuatorPins []string `yaml:"attenuator_pins"` // Most significant (14.4 dB) first
	PowerPin       string   `yaml:"power_pin"`
	FanPin         string   `yaml:"fan_pin"`
	PWMPin         string   `yaml:"pwm_pin"`
}

// ADCConfig contains the AD7124 polling bounds and delays.
type ADCConfig struct {
	PowerMode         string        `yaml:"power_mode"` // low, mid or full
	ReadyRetries      int           `yaml:"ready_retries"`
	PowerOnRetries    int           `yaml:"power_on_retries"`
	ConversionRetries int           `yaml:"conversion_retries"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ResetSettle       time.Duration `yaml:"reset_settle"`
	SingleSettle      time.Duration `yaml:"single_settle"`
	StreamSettle      time.Duration `yaml:"stream_settle"`
}

// SensorsConfig describes how the power and thermal sensors are sampled.
// Each sensor channel uses the setup with the same index, so channels are
// limited to the number of setups.
type SensorsConfig struct {
	PowerChannel   uint8 `yaml:"power_channel"`
	ThermalChannel uint8 `yaml:"thermal_channel"`
	Samples        int   `yaml:"samples"`     // Samples per channel for control
	RawSamples     int   `yaml:"raw_samples"` // Samples per channel for read_sensors
	RangingPasses  int   `yaml:"ranging_passes"`
	FilterFs       int   `yaml:"filter_fs"`
}

// ControlConfig contains the control loop parameters.
type ControlConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	TempMin        float64       `yaml:"temp_min"` // °C
	TempMax        float64       `yaml:"temp_max"` // °C
	PowerUpDelay   time.Duration `yaml:"power_up_delay"`
	LockDelay      time.Duration `yaml:"lock_delay"`
	InitRetryDelay time.Duration `yaml:"init_retry_delay"`
	HistoryWindow  time.Duration `yaml:"history_window"`
}

// LimitsConfig bounds operator settings.
type LimitsConfig struct {
	FrequencyMinGHz float64 `yaml:"frequency_min_ghz"`
	FrequencyMaxGHz float64 `yaml:"frequency_max_ghz"`
	PowerMaxW       float64 `yaml:"power_max_w"`
	GainMinDB       float64 `yaml:"gain_min_db"`
	GainMaxDB       float64 `yaml:"gain_max_db"`
	PulseMinUs      float64 `yaml:"pulse_min_us"`
	PulseMaxUs      float64 `yaml:"pulse_max_us"`
}

// SettingsConfig contains the operator settings applied at startup.
type SettingsConfig struct {
	FrequencyGHz   float64 `yaml:"frequency_ghz"`
	OutputPowerDBm float64 `yaml:"output_power_dbm"`
	GainDB         float64 `yaml:"gain_db"`
	Mode           string  `yaml:"mode"` // output_power or gain
	Modulation     bool    `yaml:"modulation"`
	PulseUs        float64 `yaml:"pulse_us"`
	DutyCycle      float64 `yaml:"duty_cycle"`
}

// CalibrationConfig contains the calibration tables. Files take precedence
// over inline points when set.
type CalibrationConfig struct {
	PowerFile string             `yaml:"power_file"`
	GainFile  string             `yaml:"gain_file"`
	Power     []calib.PowerPoint `yaml:"power"`
	Gain      []calib.GainPoint  `yaml:"gain"`
}

// ConsoleConfig contains the serial command console configuration.
// An empty port disables the console.
type ConsoleConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// APIConfig contains the HTTP API configuration. An empty address disables it.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// StateConfig contains the register state database location.
type StateConfig struct {
	DBPath string `yaml:"db_path"`
}

// MockConfig contains simulated hardware configuration.
type MockConfig struct {
	PowerSenseVolts   float64 `yaml:"power_sense_volts"`   // Power sensor voltage at max attenuation (V)
	ThermalSenseVolts float64 `yaml:"thermal_sense_volts"` // Thermal sensor voltage (V)
	NoiseLevel        float64 `yaml:"noise_level"`         // Noise level (V)
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Hardware: HardwareConfig{
			SPIPort:        "SPI0.0",
			SPISpeedHz:     1_000_000,
			AttenuatorPins: []string{"GPIO24", "GPIO23", "GPIO22", "GPIO27", "GPIO17"},
			PowerPin:       "GPIO5",
			FanPin:         "GPIO16",
			PWMPin:         "GPIO18",
		},
		ADC: ADCConfig{
			PowerMode:         "full",
			ReadyRetries:      1000,
			PowerOnRetries:    1000,
			ConversionRetries: 10000,
			PollInterval:      time.Millisecond,
			ResetSettle:       4 * time.Millisecond,
			SingleSettle:      2 * time.Millisecond,
			StreamSettle:      5 * time.Millisecond,
		},
		Sensors: SensorsConfig{
			PowerChannel:   0,
			ThermalChannel: 1,
			Samples:        4,
			RawSamples:     5,
			RangingPasses:  16,
			FilterFs:       30,
		},
		Control: ControlConfig{
			TickInterval:   50 * time.Millisecond,
			TempMin:        -55,
			TempMax:        60,
			PowerUpDelay:   100 * time.Millisecond,
			LockDelay:      50 * time.Millisecond,
			InitRetryDelay: 2 * time.Second,
			HistoryWindow:  10 * time.Minute,
		},
		Limits: LimitsConfig{
			FrequencyMinGHz: 6,
			FrequencyMaxGHz: 18,
			PowerMaxW:       6.5,
			GainMinDB:       12,
			GainMaxDB:       45,
			PulseMinUs:      1,
			PulseMaxUs:      1e6,
		},
		Settings: SettingsConfig{
			FrequencyGHz:   10,
			OutputPowerDBm: -10,
			GainDB:         20,
			Mode:           "output_power",
			Modulation:     true,
			PulseUs:        1000,
			DutyCycle:      10,
		},
		Calibration: CalibrationConfig{
			Power: []calib.PowerPoint{
				{GHz: 6, Expr: "x * 1e-7"},
				{GHz: 12, Expr: "x * 1.2e-7"},
				{GHz: 18, Expr: "x * 1.5e-7"},
			},
			Gain: []calib.GainPoint{
				{GHz: 6, DB: 46},
				{GHz: 12, DB: 44},
				{GHz: 18, DB: 41},
			},
		},
		Console: ConsoleConfig{
			BaudRate: 115200,
		},
		API: APIConfig{
			Listen: ":8080",
		},
		State: StateConfig{
			DBPath: "instamp.db",
		},
		Mock: MockConfig{
			PowerSenseVolts:   0.05,
			ThermalSenseVolts: 1.574, // About 25 °C
			NoiseLevel:        0.0005,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	if err := cfg.Sensors.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that both sensor channels have a setup of their own.
func (c SensorsConfig) Validate() error {
	for name, ch := range map[string]uint8{"power_channel": c.PowerChannel, "thermal_channel": c.ThermalChannel} {
		if int(ch) >= ad7124.NumSetups {
			return fmt.Errorf("sensors.%s %d: must be below %d", name, ch, ad7124.NumSetups)
		}
	}
	if c.PowerChannel == c.ThermalChannel {
		return fmt.Errorf("sensors: power and thermal channels are both %d", c.PowerChannel)
	}
	return nil
}

// PowerTable builds the power calibration table from the file or inline points.
func (c *CalibrationConfig) PowerTable() (*calib.PowerTable, error) {
	if c.PowerFile != "" {
		return calib.LoadPowerTable(c.PowerFile)
	}
	return calib.NewPowerTable(c.Power)
}

// GainTable builds the base gain table from the file or inline points.
func (c *CalibrationConfig) GainTable() (*calib.GainTable, error) {
	if c.GainFile != "" {
		return calib.LoadGainTable(c.GainFile)
	}
	return calib.NewGainTable(c.Gain), nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Hardware.SPIPort == "" {
		c.Hardware.SPIPort = def.Hardware.SPIPort
	}
	if c.Hardware.SPISpeedHz == 0 {
		c.Hardware.SPISpeedHz = def.Hardware.SPISpeedHz
	}
	if len(c.Hardware.AttenuatorPins) == 0 {
		c.Hardware.AttenuatorPins = def.Hardware.AttenuatorPins
	}
	if c.Hardware.PowerPin == "" {
		c.Hardware.PowerPin = def.Hardware.PowerPin
	}
	if c.Hardware.FanPin == "" {
		c.Hardware.FanPin = def.Hardware.FanPin
	}
	if c.Hardware.PWMPin == "" {
		c.Hardware.PWMPin = def.Hardware.PWMPin
	}

	if c.ADC.PowerMode == "" {
		c.ADC.PowerMode = def.ADC.PowerMode
	}
	if c.ADC.ReadyRetries == 0 {
		c.ADC.ReadyRetries = def.ADC.ReadyRetries
	}
	if c.ADC.PowerOnRetries == 0 {
		c.ADC.PowerOnRetries = def.ADC.PowerOnRetries
	}
	if c.ADC.ConversionRetries == 0 {
		c.ADC.ConversionRetries = def.ADC.ConversionRetries
	}

	if c.Sensors.Samples == 0 {
		c.Sensors.Samples = def.Sensors.Samples
	}
	if c.Sensors.RawSamples == 0 {
		c.Sensors.RawSamples = def.Sensors.RawSamples
	}
	if c.Sensors.RangingPasses == 0 {
		c.Sensors.RangingPasses = def.Sensors.RangingPasses
	}
	if c.Sensors.FilterFs == 0 {
		c.Sensors.FilterFs = def.Sensors.FilterFs
	}

	if c.Control.TempMin == 0 && c.Control.TempMax == 0 {
		c.Control.TempMin = def.Control.TempMin
		c.Control.TempMax = def.Control.TempMax
	}
	if c.Control.InitRetryDelay == 0 {
		c.Control.InitRetryDelay = def.Control.InitRetryDelay
	}
	if c.Control.HistoryWindow == 0 {
		c.Control.HistoryWindow = def.Control.HistoryWindow
	}

	if c.Limits.FrequencyMaxGHz == 0 {
		c.Limits.FrequencyMinGHz = def.Limits.FrequencyMinGHz
		c.Limits.FrequencyMaxGHz = def.Limits.FrequencyMaxGHz
	}
	if c.Limits.PowerMaxW == 0 {
		c.Limits.PowerMaxW = def.Limits.PowerMaxW
	}
	if c.Limits.GainMaxDB == 0 {
		c.Limits.GainMinDB = def.Limits.GainMinDB
		c.Limits.GainMaxDB = def.Limits.GainMaxDB
	}
	if c.Limits.PulseMaxUs == 0 {
		c.Limits.PulseMinUs = def.Limits.PulseMinUs
		c.Limits.PulseMaxUs = def.Limits.PulseMaxUs
	}

	if c.Settings.FrequencyGHz == 0 {
		c.Settings.FrequencyGHz = def.Settings.FrequencyGHz
	}
	if c.Settings.Mode == "" {
		c.Settings.Mode = def.Settings.Mode
	}
	if c.Settings.PulseUs == 0 {
		c.Settings.PulseUs = def.Settings.PulseUs
	}
	if c.Settings.DutyCycle == 0 {
		c.Settings.DutyCycle = def.Settings.DutyCycle
	}

	if c.Calibration.PowerFile == "" && len(c.Calibration.Power) == 0 {
		c.Calibration.Power = def.Calibration.Power
	}
	if c.Calibration.GainFile == "" && len(c.Calibration.Gain) == 0 {
		c.Calibration.Gain = def.Calibration.Gain
	}

	if c.Console.BaudRate == 0 {
		c.Console.BaudRate = def.Console.BaudRate
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
