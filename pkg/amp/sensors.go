package amp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/ranger"
	"github.com/itohio/instamp/pkg/sample"
)

// ErrBadID is returned when the ADC identification register reads zero,
// which means nothing answers on the bus.
var ErrBadID = errors.New("amp: adc id check failed")

// ADC is the part of the AD7124 driver the sensor frontend uses.
type ADC interface {
	ranger.Device
	Initialize(ctx context.Context, pm ad7124.PowerMode) error
	ID(ctx context.Context) (uint8, error)
	SetChannel(ctx context.Context, i int, c ad7124.Channel) error
	SetFilter(ctx context.Context, i int, f ad7124.Filter) error
}

var _ ADC = (*ad7124.Device)(nil)

// FrontendConfig selects the sensor channels and sampling depth.
type FrontendConfig struct {
	PowerChannel   uint8
	ThermalChannel uint8
	Samples        int // Per channel, control loop
	RawSamples     int // Per channel, raw sensor readout
	RangingPasses  int
	FilterFs       uint16
	PowerMode      ad7124.PowerMode
}

// Frontend reads the power and thermal sensors through the ADC. Each sensor
// channel n measures AIN n against AVSS using setup n.
type Frontend struct {
	adc    ADC
	cfg    FrontendConfig
	ranger *ranger.Ranger
	log    *zap.SugaredLogger
}

// NewFrontend creates a sensor frontend.
func NewFrontend(adc ADC, cfg FrontendConfig, log *zap.SugaredLogger) *Frontend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 4
	}
	if cfg.RawSamples <= 0 {
		cfg.RawSamples = 5
	}
	if cfg.FilterFs == 0 {
		cfg.FilterFs = 30
	}
	return &Frontend{
		adc:    adc,
		cfg:    cfg,
		ranger: ranger.New(adc, cfg.RangingPasses, log),
		log:    log,
	}
}

// Config returns the frontend configuration.
func (f *Frontend) Config() FrontendConfig { return f.cfg }

func (f *Frontend) channels() []uint8 {
	return []uint8{f.cfg.PowerChannel, f.cfg.ThermalChannel}
}

func sensorChannel(ch uint8) ad7124.Channel {
	return ad7124.Channel(0).
		WithEnable(true).
		WithSetup(ch).
		WithAinP(ad7124.Ain(ch)).
		WithAinM(ad7124.AinAvss)
}

func sensorConfig() ad7124.Configuration {
	return ad7124.Configuration(0).
		WithBipolar(false).
		WithRefSel(ad7124.RefIn1).
		WithAinBufP(true).
		WithAinBufM(false).
		WithPga(ad7124.Pga1)
}

func (f *Frontend) sensorFilter() ad7124.Filter {
	return ad7124.Filter(0).
		WithType(ad7124.FilterSinc4).
		WithFs(f.cfg.FilterFs).
		WithPostFilter(ad7124.PostFilterDb62)
}

// Init initializes the ADC and configures the sensor channels, then checks
// that the device identifies itself.
func (f *Frontend) Init(ctx context.Context) error {
	if err := f.adc.Initialize(ctx, f.cfg.PowerMode); err != nil {
		return fmt.Errorf("initialize adc: %w", err)
	}
	time.Sleep(6 * time.Millisecond)

	if !slices.Contains(f.channels(), 0) {
		if err := f.adc.SetChannel(ctx, 0, ad7124.ChannelDefault); err != nil {
			return fmt.Errorf("disable channel 0: %w", err)
		}
	}
	for _, ch := range f.channels() {
		if err := f.adc.SetChannel(ctx, int(ch), sensorChannel(ch)); err != nil {
			return fmt.Errorf("set channel %d: %w", ch, err)
		}
	}
	for _, ch := range f.channels() {
		if err := f.adc.SetConfiguration(ctx, int(ch), sensorConfig()); err != nil {
			return fmt.Errorf("set configuration %d: %w", ch, err)
		}
	}
	for _, ch := range f.channels() {
		if err := f.adc.SetFilter(ctx, int(ch), f.sensorFilter()); err != nil {
			return fmt.Errorf("set filter %d: %w", ch, err)
		}
	}
	time.Sleep(2 * time.Millisecond)

	id, err := f.adc.ID(ctx)
	if err != nil {
		return fmt.Errorf("read adc id: %w", err)
	}
	if id == 0 {
		return ErrBadID
	}
	f.log.Debugw("sensors configured", "adc_id", id)
	return nil
}

// Read auto-ranges the selected sensor channels, takes times samples of
// each from one stream and returns the robust average per channel. With no
// channels listed both sensors are read. Channel enables and configurations
// are restored before returning, whatever the outcome.
func (f *Frontend) Read(ctx context.Context, times int, only ...uint8) (out map[uint8]sample.Reading, err error) {
	restore := context.WithoutCancel(ctx)
	if len(only) > 0 {
		for _, ch := range f.channels() {
			c := sensorChannel(ch).WithEnable(slices.Contains(only, ch))
			if err := f.adc.SetChannel(ctx, int(ch), c); err != nil {
				return nil, multierr.Combine(err, f.restore(restore, true))
			}
		}
	}
	defer func() {
		err = multierr.Combine(err, f.restore(restore, len(only) > 0))
	}()

	gains, err := f.ranger.Converge(ctx)
	if err != nil {
		return nil, err
	}

	enabled := len(f.adc.Snapshot().EnabledChannels())
	ms, err := f.collect(ctx, times*enabled)
	if err != nil {
		return nil, err
	}

	out = make(map[uint8]sample.Reading)
	for ch, batch := range sample.ByChannel(ms) {
		r, err := sample.Aggregate(batch, gains[ch])
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		out[ch] = r
	}
	return out, nil
}

func (f *Frontend) collect(ctx context.Context, n int) (out []ad7124.Measurement, err error) {
	s, err := f.adc.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, s.Close())
	}()

	out = make([]ad7124.Measurement, 0, n)
	for range n {
		m, err := s.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// restore writes back the sensor configurations and, if they were changed,
// the channel enables.
func (f *Frontend) restore(ctx context.Context, channels bool) error {
	var err error
	if channels {
		for _, ch := range f.channels() {
			err = multierr.Append(err, f.adc.SetChannel(ctx, int(ch), sensorChannel(ch)))
		}
	}
	for _, ch := range f.channels() {
		err = multierr.Append(err, f.adc.SetConfiguration(ctx, int(ch), sensorConfig()))
	}
	return err
}

// ReadSensors reads both sensors with the control loop sample depth.
func (f *Frontend) ReadSensors(ctx context.Context) (Sensors, error) {
	return f.readBoth(ctx, f.cfg.Samples)
}

// ReadRaw reads both sensors with the raw readout sample depth.
func (f *Frontend) ReadRaw(ctx context.Context) (Sensors, error) {
	return f.readBoth(ctx, f.cfg.RawSamples)
}

func (f *Frontend) readBoth(ctx context.Context, times int) (Sensors, error) {
	rs, err := f.Read(ctx, times)
	if err != nil {
		return Sensors{}, err
	}
	p, ok := rs[f.cfg.PowerChannel]
	if !ok {
		return Sensors{}, fmt.Errorf("power channel %d: %w", f.cfg.PowerChannel, sample.ErrEmptyAggregation)
	}
	t, ok := rs[f.cfg.ThermalChannel]
	if !ok {
		return Sensors{}, fmt.Errorf("thermal channel %d: %w", f.cfg.ThermalChannel, sample.ErrEmptyAggregation)
	}
	return Sensors{Power: p, Thermal: t}, nil
}

// ReadThermal reads only the thermal sensor.
func (f *Frontend) ReadThermal(ctx context.Context) (sample.Reading, error) {
	rs, err := f.Read(ctx, f.cfg.Samples, f.cfg.ThermalChannel)
	if err != nil {
		return sample.Reading{}, err
	}
	t, ok := rs[f.cfg.ThermalChannel]
	if !ok {
		return sample.Reading{}, fmt.Errorf("thermal channel %d: %w", f.cfg.ThermalChannel, sample.ErrEmptyAggregation)
	}
	return t, nil
}
