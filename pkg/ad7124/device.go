package ad7124

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State mirrors the registers the driver has confirmed with the device.
type State struct {
	Status      Status
	Error       Error
	AdcControl  AdcControl
	ErrorEnable ErrorEnable
	Channels    [NumChannels]Channel
	Configs     [NumSetups]Configuration
	Filters     [NumSetups]Filter
	Offsets     [NumSetups]Offset
	Gains       [NumSetups]Gain
}

// PowerOnState returns the register contents right after a reset. Gains are
// unknown until read back from the device.
func PowerOnState() State {
	var s State
	s.ErrorEnable = ErrorEnableDefault
	for i := range s.Channels {
		s.Channels[i] = ChannelDefault
	}
	s.Channels[0] = ChannelDefault0
	for i := range NumSetups {
		s.Configs[i] = ConfigurationDefault
		s.Filters[i] = FilterDefault
		s.Offsets[i] = OffsetDefault
		s.Gains[i] = GainUndefined
	}
	return s
}

// Voltage converts a raw code sampled on channel ch using the shadowed setup.
func (s State) Voltage(ch uint8, code uint32) float64 {
	setup := s.Channels[ch&(NumChannels-1)].Setup()
	return Voltage(code, s.Configs[setup])
}

// EnabledChannels lists enabled channel indices in ascending order.
func (s State) EnabledChannels() []uint8 {
	var out []uint8
	for i, c := range s.Channels {
		if c.Enable() {
			out = append(out, uint8(i))
		}
	}
	return out
}

// RegisterValue is an encoded register with its address.
type RegisterValue struct {
	Addr  byte
	Value []byte
}

// Registers encodes the writable registers in address order.
func (s State) Registers() []RegisterValue {
	regs := []RegisterValue{
		{AddrAdcControl, s.AdcControl.Bytes()},
		{AddrErrorEnable, s.ErrorEnable.Bytes()},
	}
	for i, c := range s.Channels {
		regs = append(regs, RegisterValue{AddrChannel0 + byte(i), c.Bytes()})
	}
	for i, c := range s.Configs {
		regs = append(regs, RegisterValue{AddrConfig0 + byte(i), c.Bytes()})
	}
	for i, f := range s.Filters {
		regs = append(regs, RegisterValue{AddrFilter0 + byte(i), f.Bytes()})
	}
	for i, o := range s.Offsets {
		regs = append(regs, RegisterValue{AddrOffset0 + byte(i), o.Bytes()})
	}
	for i, g := range s.Gains {
		if !g.IsUndefined() {
			regs = append(regs, RegisterValue{AddrGain0 + byte(i), g.Bytes()})
		}
	}
	return regs
}

// Measurement is one conversion result.
type Measurement struct {
	Channel uint8
	Code    uint32
	Voltage float64
	Status  Status
}

// Lifecycle is the coarse driver state.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	PoweringOn
	Configured
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case PoweringOn:
		return "powering-on"
	case Configured:
		return "configured"
	}
	return "unknown"
}

// Device is an AD7124-8 driver. Every register write updates the shadow
// State only after the transfer succeeded. Methods are safe for concurrent
// use, but only one Stream may be open at a time.
type Device struct {
	mu        sync.Mutex
	tr        *Transport
	timing    Timing
	log       *zap.SugaredLogger
	state     State
	lifecycle Lifecycle
	streaming bool
}

// New creates a driver on bus. The device is not touched until Reset or
// Initialize.
func New(bus Bus, timing Timing, log *zap.SugaredLogger) *Device {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Device{
		tr:     NewTransport(bus, timing),
		timing: timing,
		log:    log,
		state:  PowerOnState(),
	}
}

// Snapshot returns a copy of the shadow registers.
func (d *Device) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Lifecycle returns the driver lifecycle state.
func (d *Device) Lifecycle() Lifecycle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lifecycle
}

// Reset resets the device, waits for it to power on and reads the factory
// gain coefficients.
func (d *Device) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset(ctx)
}

func (d *Device) reset(ctx context.Context) error {
	d.lifecycle = Uninitialized
	if err := d.tr.Reset(ctx); err != nil {
		return err
	}
	d.state = PowerOnState()
	d.tr.SetErrorEnable(d.state.ErrorEnable)
	d.lifecycle = PoweringOn

	err := poll(ctx, d.timing.PowerOnRetries, d.timing.PollInterval, func() (bool, error) {
		b, err := d.tr.ReadRegister(ctx, AddrStatus, SizeStatus)
		if err != nil {
			return false, err
		}
		d.state.Status = DecodeStatus(b)
		return !d.state.Status.PowerOnReset(), nil
	})
	if err != nil {
		return fmt.Errorf("wait for power on: %w", err)
	}
	sleep(d.timing.ResetSettle)

	for i := range NumSetups {
		b, err := d.tr.ReadRegister(ctx, AddrGain0+byte(i), SizeGain)
		if err != nil {
			return fmt.Errorf("read gain %d: %w", i, err)
		}
		d.state.Gains[i] = DecodeGain(b)
	}
	d.lifecycle = Configured
	d.log.Debugw("adc reset", "gains", d.state.Gains)
	return nil
}

// Initialize resets the device and applies the baseline configuration: CRC
// and readiness checking enabled, standby mode with the given power mode,
// internal reference and channel 0 enabled.
func (d *Device) Initialize(ctx context.Context, pm PowerMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reset(ctx); err != nil {
		return err
	}
	if err := d.writeErrorEnable(ctx, ErrEnSpiCrc|ErrEnSpiIgnore); err != nil {
		return err
	}
	ctl := AdcControl(0).
		WithMode(ModeStandby).
		WithPowerMode(pm).
		WithRefEn(true).
		WithCsEn(true).
		WithDataStatus(true)
	if err := d.writeAdcControl(ctx, ctl); err != nil {
		return err
	}
	if err := d.writeChannel(ctx, 0, ChannelDefault0); err != nil {
		return err
	}
	d.log.Infow("adc initialized", "power_mode", pm)
	return nil
}

// ID reads the device identification byte.
func (d *Device) ID(ctx context.Context) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.tr.ReadRegister(ctx, AddrID, SizeID)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadError reads the error register.
func (d *Device) ReadError(ctx context.Context) (Error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.tr.ReadRegister(ctx, AddrError, SizeError)
	if err != nil {
		return 0, err
	}
	d.state.Error = DecodeError(b)
	return d.state.Error, nil
}

// SetErrorEnable writes the error enable register.
func (d *Device) SetErrorEnable(ctx context.Context, e ErrorEnable) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeErrorEnable(ctx, e)
}

// SetAdcControl writes the ADC control register.
func (d *Device) SetAdcControl(ctx context.Context, c AdcControl) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeAdcControl(ctx, c)
}

// SetChannel writes channel register i.
func (d *Device) SetChannel(ctx context.Context, i int, c Channel) error {
	if i < 0 || i >= NumChannels {
		return fmt.Errorf("%w: channel %d", ErrIndex, i)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeChannel(ctx, i, c)
}

// SetConfiguration writes configuration register i.
func (d *Device) SetConfiguration(ctx context.Context, i int, c Configuration) error {
	if i < 0 || i >= NumSetups {
		return fmt.Errorf("%w: configuration %d", ErrIndex, i)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.tr.WriteRegister(ctx, AddrConfig0+byte(i), c.Bytes()); err != nil {
		return err
	}
	d.state.Configs[i] = c
	return nil
}

// SetFilter writes filter register i.
func (d *Device) SetFilter(ctx context.Context, i int, f Filter) error {
	if i < 0 || i >= NumSetups {
		return fmt.Errorf("%w: filter %d", ErrIndex, i)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.tr.WriteRegister(ctx, AddrFilter0+byte(i), f.Bytes()); err != nil {
		return err
	}
	d.state.Filters[i] = f
	return nil
}

// SetOffset writes offset register i. The device must be in standby or idle.
func (d *Device) SetOffset(ctx context.Context, i int, o Offset) error {
	if i < 0 || i >= NumSetups {
		return fmt.Errorf("%w: offset %d", ErrIndex, i)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.tr.WriteRegister(ctx, AddrOffset0+byte(i), o.Bytes()); err != nil {
		return err
	}
	d.state.Offsets[i] = o
	return nil
}

// SetGain writes gain register i. The device must be in standby or idle.
func (d *Device) SetGain(ctx context.Context, i int, g Gain) error {
	if i < 0 || i >= NumSetups {
		return fmt.Errorf("%w: gain %d", ErrIndex, i)
	}
	if g.IsUndefined() {
		return ErrUndefinedGain
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.tr.WriteRegister(ctx, AddrGain0+byte(i), g.Bytes()); err != nil {
		return err
	}
	d.state.Gains[i] = g
	return nil
}

// SingleData runs one single conversion sequence over the enabled channels
// and returns the result of each channel the device reported.
func (d *Device) SingleData(ctx context.Context) (map[uint8]Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return nil, ErrBusy
	}

	ctl := d.state.AdcControl.
		WithMode(ModeSingle).
		WithRefEn(true).
		WithCsEn(true).
		WithDataStatus(true)
	if err := d.writeAdcControl(ctx, ctl); err != nil {
		return nil, err
	}
	sleep(d.timing.SingleSettle)

	results := make(map[uint8]Measurement)
	for d.state.AdcControl.Mode() == ModeSingle {
		m, err := d.readSample(ctx)
		if err != nil {
			return results, err
		}
		results[m.Channel] = m

		b, err := d.tr.ReadRegister(ctx, AddrAdcControl, SizeAdcControl)
		if err != nil {
			return results, err
		}
		d.state.AdcControl = DecodeAdcControl(b)
	}
	return results, nil
}

func (d *Device) writeErrorEnable(ctx context.Context, e ErrorEnable) error {
	if err := d.tr.WriteRegister(ctx, AddrErrorEnable, e.Bytes()); err != nil {
		return err
	}
	d.state.ErrorEnable = e
	d.tr.SetErrorEnable(e)
	return nil
}

func (d *Device) writeAdcControl(ctx context.Context, c AdcControl) error {
	if err := d.tr.WriteRegister(ctx, AddrAdcControl, c.Bytes()); err != nil {
		return err
	}
	d.state.AdcControl = c
	return nil
}

func (d *Device) writeChannel(ctx context.Context, i int, c Channel) error {
	if err := d.tr.WriteRegister(ctx, AddrChannel0+byte(i), c.Bytes()); err != nil {
		return err
	}
	d.state.Channels[i] = c
	return nil
}

// waitConversion polls status until a conversion result is ready.
func (d *Device) waitConversion(ctx context.Context) error {
	err := poll(ctx, d.timing.ConversionRetries, d.timing.PollInterval, func() (bool, error) {
		b, err := d.tr.ReadRegister(ctx, AddrStatus, SizeStatus)
		if err != nil {
			return false, err
		}
		d.state.Status = DecodeStatus(b)
		return !d.state.Status.Rdy(), nil
	})
	if err != nil {
		return fmt.Errorf("wait for conversion: %w", err)
	}
	return nil
}

// readSample waits for and reads one conversion with its status byte.
func (d *Device) readSample(ctx context.Context) (Measurement, error) {
	if err := d.waitConversion(ctx); err != nil {
		return Measurement{}, err
	}
	b, err := d.tr.ReadRegister(ctx, AddrData, SizeDataStatus)
	if err != nil {
		return Measurement{}, err
	}
	raw := decodeBE(b, SizeDataStatus)
	st := Status(raw & 0xFF & statusMask)
	d.state.Status = st

	ch := st.ActiveChannel()
	code := raw >> 8
	return Measurement{
		Channel: ch,
		Code:    code,
		Voltage: d.state.Voltage(ch, code),
		Status:  st,
	}, nil
}
