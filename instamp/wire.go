package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/config"
)

func adcTiming(c config.ADCConfig) ad7124.Timing {
	return ad7124.Timing{
		ReadyRetries:      c.ReadyRetries,
		PowerOnRetries:    c.PowerOnRetries,
		ConversionRetries: c.ConversionRetries,
		PollInterval:      c.PollInterval,
		ResetSettle:       c.ResetSettle,
		SingleSettle:      c.SingleSettle,
		StreamSettle:      c.StreamSettle,
	}
}

func frontendConfig(cfg *config.Config) (amp.FrontendConfig, error) {
	pm, err := ad7124.ParsePowerMode(cfg.ADC.PowerMode)
	if err != nil {
		return amp.FrontendConfig{}, err
	}
	s := cfg.Sensors
	if s.FilterFs <= 0 || s.FilterFs > 2047 {
		return amp.FrontendConfig{}, fmt.Errorf("sensors.filter_fs %d out of 1..2047", s.FilterFs)
	}
	return amp.FrontendConfig{
		PowerChannel:   s.PowerChannel,
		ThermalChannel: s.ThermalChannel,
		Samples:        s.Samples,
		RawSamples:     s.RawSamples,
		RangingPasses:  s.RangingPasses,
		FilterFs:       uint16(s.FilterFs),
		PowerMode:      pm,
	}, nil
}

func ampOptions(cfg *config.Config) (amp.Options, error) {
	mode, err := amp.ParseMode(cfg.Settings.Mode)
	if err != nil {
		return amp.Options{}, err
	}
	o := amp.DefaultOptions()
	o.Limits = amp.Limits{
		FrequencyMinGHz: cfg.Limits.FrequencyMinGHz,
		FrequencyMaxGHz: cfg.Limits.FrequencyMaxGHz,
		PowerMaxW:       cfg.Limits.PowerMaxW,
		GainMinDB:       cfg.Limits.GainMinDB,
		GainMaxDB:       cfg.Limits.GainMaxDB,
		PulseMinUs:      cfg.Limits.PulseMinUs,
		PulseMaxUs:      cfg.Limits.PulseMaxUs,
	}
	o.Thermal = amp.ThermalLimits{Min: cfg.Control.TempMin, Max: cfg.Control.TempMax}
	o.Tick = cfg.Control.TickInterval
	o.PowerUpDelay = cfg.Control.PowerUpDelay
	o.LockDelay = cfg.Control.LockDelay

	s := cfg.Settings
	o.Settings = amp.Settings{
		FrequencyGHz:   o.Limits.ClampFrequency(s.FrequencyGHz),
		OutputPowerDBm: o.Limits.ClampOutputPower(s.OutputPowerDBm),
		GainDB:         o.Limits.ClampGain(s.GainDB),
		Mode:           mode,
		Modulation:     s.Modulation,
	}
	o.Settings.DutyCycle = amp.ClampDuty(s.DutyCycle, o.Limits.ClampPulse(s.PulseUs, 1))
	o.Settings.PulseUs = o.Limits.ClampPulse(s.PulseUs, o.Settings.DutyCycle)
	return o, nil
}

// newAmplifier builds the amplifier stack on an opened board.
func newAmplifier(cfg *config.Config, bus ad7124.Bus, hw amp.Hardware, log *zap.SugaredLogger) (*amp.Amplifier, error) {
	fc, err := frontendConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := ampOptions(cfg)
	if err != nil {
		return nil, err
	}
	power, err := cfg.Calibration.PowerTable()
	if err != nil {
		return nil, fmt.Errorf("power calibration: %w", err)
	}
	gain, err := cfg.Calibration.GainTable()
	if err != nil {
		return nil, fmt.Errorf("gain calibration: %w", err)
	}

	dev := ad7124.New(bus, adcTiming(cfg.ADC), log.Named("adc"))
	fe := amp.NewFrontend(dev, fc, log.Named("sensors"))
	notifier := amp.NewLogNotifier(log.Named("operator"), cfg.Control.InitRetryDelay)
	return amp.New(fe, hw, power, gain, notifier, opts, log.Named("amp")), nil
}
