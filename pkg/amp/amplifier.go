package amp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/calib"
)

// Status is the amplifier operating state.
type Status int

const (
	StatusInitializing Status = iota
	StatusOff
	StatusStarting
	StatusOn
	StatusStopping
	StatusLock
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusOff:
		return "off"
	case StatusStarting:
		return "starting"
	case StatusOn:
		return "on"
	case StatusStopping:
		return "stopping"
	case StatusLock:
		return "lock"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for v := StatusInitializing; v <= StatusLock; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// ErrWrongState is wrapped by StateError.
var ErrWrongState = errors.New("amp: operation not available in current state")

// ErrInvalidArgument is returned for out of domain raw control values.
var ErrInvalidArgument = errors.New("amp: invalid argument")

// StateError reports an operation attempted outside its state.
type StateError struct {
	Op   string
	Want Status
	Have Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is only available in the %s state. Current status: %s.", e.Op, e.Want, e.Have)
}

func (e *StateError) Unwrap() error { return ErrWrongState }

// Hardware holds the digital outputs of the amplifier.
type Hardware struct {
	Attenuator [NumAttenuatorPins]gpio.PinOut // Most significant first
	Power      gpio.PinOut
	Fan        gpio.PinOut
	PWM        gpio.PinOut
}

// Options tune the amplifier sequencing.
type Options struct {
	Limits       Limits
	Thermal      ThermalLimits
	Settings     Settings
	Tick         time.Duration // Pause between control ticks
	InitSettle   time.Duration // Power on before the startup thermal check
	PowerUpDelay time.Duration // Power on before start
	LockDelay    time.Duration // Power on before lock
}

// DefaultOptions returns the sequencing used with real hardware.
func DefaultOptions() Options {
	return Options{
		Limits:       DefaultLimits(),
		Thermal:      DefaultThermalLimits(),
		Settings:     DefaultSettings(),
		Tick:         50 * time.Millisecond,
		InitSettle:   20 * time.Millisecond,
		PowerUpDelay: 100 * time.Millisecond,
		LockDelay:    50 * time.Millisecond,
	}
}

// Snapshot is the published amplifier state.
type Snapshot struct {
	Time     time.Time `json:"time"`
	Status   Status    `json:"status"`
	Settings Settings  `json:"settings"`
	PowerW   float64   `json:"power_w"`
	PowerDBm float64   `json:"power_dbm"`
	TempC    float64   `json:"temp_c"`
	Pins     Pins      `json:"pins"`
	GainDB   float64   `json:"gain_db"` // Gain achieved with Pins
	Fault    string    `json:"fault,omitempty"`
}

// RawSensors is an unconverted sensor readout.
type RawSensors struct {
	PowerCode    uint32  `json:"power_in_adc"`
	PowerGain    int     `json:"power_adc_gain"`
	PowerVolts   float64 `json:"power_in_voltage"`
	ThermalCode  uint32  `json:"temp_in_adc"`
	ThermalVolts float64 `json:"temp_in_voltage"`
	TempC        float64 `json:"temp_in_c"`
}

// Amplifier sequences the amplifier hardware and runs the power control
// loop. Operations are serialized; the control loop runs in its own
// goroutine and publishes snapshots.
type Amplifier struct {
	op sync.Mutex // serializes operations

	mu       sync.RWMutex
	status   Status
	settings Settings
	snap     Snapshot
	cancel   context.CancelFunc
	done     chan struct{}

	opts     Options
	frontend *Frontend
	atten    *Attenuator
	pwm      *Modulator
	power    gpio.PinOut
	fan      gpio.PinOut
	powerTab *calib.PowerTable
	gainTab  *calib.GainTable
	notifier Notifier
	log      *zap.SugaredLogger

	cbMu      sync.RWMutex
	callbacks []func(Snapshot)
	initHooks []func(ad7124.State)
}

// New creates an amplifier in the Initializing state. Call Init before use.
func New(frontend *Frontend, hw Hardware, power *calib.PowerTable, gain *calib.GainTable, notifier Notifier, opts Options, log *zap.SugaredLogger) *Amplifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log, time.Second)
	}
	a := &Amplifier{
		status:   StatusInitializing,
		settings: opts.Settings,
		opts:     opts,
		frontend: frontend,
		atten:    NewAttenuator(hw.Attenuator),
		pwm:      NewModulator(hw.PWM),
		power:    hw.Power,
		fan:      hw.Fan,
		powerTab: power,
		gainTab:  gain,
		notifier: notifier,
		log:      log,
	}
	a.snap = Snapshot{Status: a.status, Settings: a.settings, Pins: MaxAttenuation}
	return a
}

// Status returns the current state.
func (a *Amplifier) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Settings returns the current settings.
func (a *Amplifier) Settings() Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// Snapshot returns the last published state.
func (a *Amplifier) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// ADCState returns the ADC register shadow.
func (a *Amplifier) ADCState() ad7124.State {
	return a.frontend.adc.Snapshot()
}

// OnUpdate registers a callback invoked with every published snapshot. The
// callback runs on the publishing goroutine and should return quickly.
func (a *Amplifier) OnUpdate(cb func(Snapshot)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.callbacks = append(a.callbacks, cb)
}

// OnADCInit registers a callback invoked with the ADC registers after every
// successful ADC initialization.
func (a *Amplifier) OnADCInit(cb func(ad7124.State)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.initHooks = append(a.initHooks, cb)
}

func (a *Amplifier) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	a.publish(func(sn *Snapshot) {})
}

// publish applies update to the snapshot and hands a copy to every callback.
func (a *Amplifier) publish(update func(*Snapshot)) {
	a.mu.Lock()
	update(&a.snap)
	a.snap.Time = time.Now()
	a.snap.Status = a.status
	a.snap.Settings = a.settings
	a.snap.Pins = a.atten.Pins()
	sn := a.snap
	a.mu.Unlock()

	a.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(a.callbacks))
	copy(callbacks, a.callbacks)
	a.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(sn)
		}
	}
}

// Init puts the outputs in their safe state, brings up the ADC and checks
// the amplifier temperature once. It leaves the amplifier Off.
func (a *Amplifier) Init(ctx context.Context) error {
	a.op.Lock()
	defer a.op.Unlock()

	a.setStatus(StatusInitializing)
	err := multierr.Combine(
		a.fan.Out(gpio.High),
		a.power.Out(gpio.Low),
		a.pwm.Stop(),
		a.atten.Set(MaxAttenuation),
	)
	if err != nil {
		return fmt.Errorf("safe outputs: %w", err)
	}
	if err := a.ensureADC(ctx); err != nil {
		return err
	}

	if err := a.power.Out(gpio.High); err != nil {
		return err
	}
	sleepCtx(ctx, a.opts.InitSettle)
	t, err := a.readTemp(ctx)
	if err != nil {
		a.log.Errorw("startup thermal check", "error", err)
	} else if !a.opts.Thermal.OK(t) {
		a.notifier.Notify(fmt.Sprintf("Temperature out of range (%.1f °C).", t))
	}
	if err := a.power.Out(gpio.Low); err != nil {
		return err
	}
	a.setStatus(StatusOff)
	a.log.Infow("amplifier initialized", "temp_c", t)
	return nil
}

// ensureADC initializes the ADC, asking the notifier to retry until it
// succeeds or the notifier gives up.
func (a *Amplifier) ensureADC(ctx context.Context) error {
	for {
		err := a.frontend.Init(ctx)
		if err == nil {
			a.adcInitialized()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !a.notifier.Retry(ctx, fmt.Sprintf("ADC initialization failed: %v", err)) {
			return fmt.Errorf("adc initialization: %w", err)
		}
	}
}

func (a *Amplifier) adcInitialized() {
	st := a.frontend.adc.Snapshot()
	a.cbMu.RLock()
	hooks := make([]func(ad7124.State), len(a.initHooks))
	copy(hooks, a.initHooks)
	a.cbMu.RUnlock()
	for _, h := range hooks {
		h(st)
	}
}

func (a *Amplifier) readTemp(ctx context.Context) (float64, error) {
	r, err := a.frontend.ReadThermal(ctx)
	if err != nil {
		return 0, err
	}
	return TempFromVoltage(r.Voltage), nil
}

func (a *Amplifier) baseGain(ghz float64) (float64, error) {
	if a.gainTab == nil {
		return 0, calib.ErrEmptyTable
	}
	return a.gainTab.Closest(ghz)
}

// targetPins returns the attenuator code for the settings' mode.
func (a *Amplifier) targetPins(s Settings) (Pins, error) {
	if s.Mode != ModeGain {
		return MaxAttenuation, nil
	}
	base, err := a.baseGain(s.FrequencyGHz)
	if err != nil {
		return MaxAttenuation, err
	}
	return PinsForGain(base, s.GainDB), nil
}

// Start powers the amplifier, checks its temperature, sets the attenuator
// and modulation and starts the control loop. It requires Off.
func (a *Amplifier) Start(ctx context.Context) (err error) {
	a.op.Lock()
	defer a.op.Unlock()

	if s := a.Status(); s != StatusOff {
		return &StateError{Op: "start", Want: StatusOff, Have: s}
	}
	a.setStatus(StatusStarting)
	defer func() {
		if err != nil {
			err = multierr.Combine(err, a.safe())
			a.setStatus(StatusOff)
		}
	}()

	if err := a.power.Out(gpio.High); err != nil {
		return err
	}
	sleepCtx(ctx, a.opts.PowerUpDelay)
	if err := a.ensureADC(ctx); err != nil {
		return err
	}

	t, err := a.readTemp(ctx)
	if err != nil {
		return err
	}
	if !a.opts.Thermal.OK(t) {
		a.notifier.Notify(fmt.Sprintf("Temperature out of range (%.1f °C). Start aborted.", t))
		return fmt.Errorf("%w: %.2f °C", ErrThermalFault, t)
	}

	s := a.Settings()
	pins, err := a.targetPins(s)
	if err != nil {
		return err
	}
	if err := a.atten.Set(pins); err != nil {
		return err
	}
	if err := a.pwm.Start(s.PWMDuty(), PulseFrequency(s.PulseSeconds())); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel, a.done = cancel, done
	a.status = StatusOn
	a.mu.Unlock()
	a.publish(func(sn *Snapshot) { sn.Fault = ""; sn.TempC = t })

	go a.run(loopCtx, done)
	a.log.Infow("amplifier started", "settings", s, "pins", pins)
	return nil
}

// Stop ends the control loop and waits for the outputs to reach their safe
// state. It requires On.
func (a *Amplifier) Stop(ctx context.Context) error {
	a.op.Lock()
	defer a.op.Unlock()

	a.mu.Lock()
	if a.status != StatusOn {
		s := a.status
		a.mu.Unlock()
		return &StateError{Op: "stop", Want: StatusOn, Have: s}
	}
	a.status = StatusStopping
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	a.publish(func(sn *Snapshot) {})

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the control loop, if any, has finished.
func (a *Amplifier) Wait() {
	a.mu.RLock()
	done := a.done
	a.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// safe stops modulation, sets full attenuation and cuts power.
func (a *Amplifier) safe() error {
	return multierr.Combine(
		a.pwm.Stop(),
		a.atten.Set(MaxAttenuation),
		a.power.Out(gpio.Low),
	)
}

// run is the control loop. Whatever ends it, the outputs are made safe and
// the amplifier goes Off.
func (a *Amplifier) run(ctx context.Context, done chan struct{}) {
	var fault error
	defer func() {
		if err := a.safe(); err != nil {
			a.log.Errorw("safe shutdown", "error", err)
		}
		a.mu.Lock()
		a.status = StatusOff
		a.cancel = nil
		a.mu.Unlock()
		a.publish(func(sn *Snapshot) {
			if fault != nil {
				sn.Fault = fault.Error()
			}
		})
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		err := a.tick(ctx)
		switch {
		case err == nil, errors.Is(err, ErrSensorInvalid):
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrThermalFault), errors.Is(err, ErrOverPowerFault):
			fault = err
			a.notifier.Notify(fmt.Sprintf("%v. Amplifier stopped.", err))
			a.log.Warnw("control loop fault", "error", err)
			return
		default:
			fault = err
			a.log.Errorw("control loop failed", "error", err)
			return
		}
		if !sleepCtx(ctx, a.opts.Tick) {
			return
		}
	}
}

// tick reads the sensors and applies one regulation step.
func (a *Amplifier) tick(ctx context.Context) error {
	sensors, err := a.frontend.ReadSensors(ctx)
	if err != nil {
		return err
	}

	s := a.Settings()
	base, err := a.baseGain(s.FrequencyGHz)
	if err != nil {
		return err
	}
	var fn calib.PowerFunc
	if a.powerTab != nil {
		if fn, err = a.powerTab.Closest(s.FrequencyGHz); err != nil {
			return err
		}
	}
	step := Step{
		Mode:      s.Mode,
		TargetDBm: s.OutputPowerDBm,
		BaseGain:  base,
		Pins:      a.atten.Pins(),
		Power:     fn,
		Thermal:   a.opts.Thermal,
	}
	reg, err := step.Run(sensors)
	if errors.Is(err, ErrSensorInvalid) {
		a.log.Debugw("power sensor reading invalid", "code", sensors.Power.Code)
	}
	if err == nil && reg.Pins != step.Pins {
		if serr := a.atten.Set(reg.Pins); serr != nil {
			return serr
		}
		a.log.Debugw("attenuation reduced", "dbm", reg.PowerDBm, "pins", reg.Pins, "gain_db", reg.GainDB)
	}
	a.publish(func(sn *Snapshot) {
		sn.TempC = reg.TempC
		sn.PowerW = reg.PowerW
		sn.PowerDBm = reg.PowerDBm
		sn.GainDB = reg.GainDB
	})
	return err
}

func (a *Amplifier) isOn() bool { return a.Status() == StatusOn }

// SetFrequency sets the carrier frequency in GHz and returns the value
// applied after clamping.
func (a *Amplifier) SetFrequency(ghz float64) (float64, error) {
	if err := finite(ghz); err != nil {
		return 0, err
	}
	v := a.opts.Limits.ClampFrequency(ghz)
	a.update(func(s *Settings) { s.FrequencyGHz = v })
	return v, nil
}

// SetOutputPower sets the output power target in dBm.
func (a *Amplifier) SetOutputPower(dbm float64) (float64, error) {
	if err := finite(dbm); err != nil {
		return 0, err
	}
	v := a.opts.Limits.ClampOutputPower(dbm)
	a.update(func(s *Settings) { s.OutputPowerDBm = v })
	return v, nil
}

// SetGain sets the gain target in dB. In gain mode a running amplifier
// applies it immediately.
func (a *Amplifier) SetGain(db float64) (float64, error) {
	if err := finite(db); err != nil {
		return 0, err
	}
	v := a.opts.Limits.ClampGain(db)
	s := a.update(func(s *Settings) { s.GainDB = v })
	if s.Mode == ModeGain && a.isOn() {
		return v, a.applyPins(s)
	}
	return v, nil
}

// SetMode selects the control mode. A running amplifier switches the
// attenuator immediately.
func (a *Amplifier) SetMode(m Mode) error {
	s := a.update(func(s *Settings) { s.Mode = m })
	if a.isOn() {
		return a.applyPins(s)
	}
	return nil
}

// SetModulation enables or disables pulse modulation.
func (a *Amplifier) SetModulation(on bool) error {
	s := a.update(func(s *Settings) { s.Modulation = on })
	if a.isOn() {
		return a.pwm.SetDuty(s.PWMDuty())
	}
	return nil
}

// SetPulseDuration sets the pulse length in µs and returns the applied
// value.
func (a *Amplifier) SetPulseDuration(us float64) (float64, error) {
	if err := finite(us); err != nil {
		return 0, err
	}
	var v float64
	s := a.update(func(s *Settings) {
		v = a.opts.Limits.ClampPulse(us, s.DutyCycle)
		s.PulseUs = v
	})
	if a.isOn() {
		return v, a.pwm.SetFrequency(PulseFrequency(s.PulseSeconds()))
	}
	return v, nil
}

// SetDutyCycle sets the period to pulse ratio and returns the applied value.
func (a *Amplifier) SetDutyCycle(duty float64) (float64, error) {
	if err := finite(duty); err != nil {
		return 0, err
	}
	var v float64
	s := a.update(func(s *Settings) {
		v = ClampDuty(duty, s.PulseUs)
		s.DutyCycle = v
	})
	if a.isOn() {
		return v, a.pwm.SetDuty(s.PWMDuty())
	}
	return v, nil
}

func finite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, v)
	}
	return nil
}

func (a *Amplifier) update(fn func(*Settings)) Settings {
	a.mu.Lock()
	fn(&a.settings)
	s := a.settings
	a.mu.Unlock()
	a.publish(func(sn *Snapshot) {})
	return s
}

func (a *Amplifier) applyPins(s Settings) error {
	p, err := a.targetPins(s)
	if err != nil {
		return err
	}
	if err := a.atten.Set(p); err != nil {
		return err
	}
	a.publish(func(sn *Snapshot) {})
	return nil
}

// Lock enters maintenance mode: the amplifier is powered with full
// attenuation and raw controls become available. It requires Off.
func (a *Amplifier) Lock(ctx context.Context) error {
	a.op.Lock()
	defer a.op.Unlock()

	if s := a.Status(); s != StatusOff {
		return &StateError{Op: "lock", Want: StatusOff, Have: s}
	}
	a.setStatus(StatusLock)

	err := multierr.Combine(
		a.atten.Set(MaxAttenuation),
		a.power.Out(gpio.High),
	)
	if err == nil {
		sleepCtx(ctx, a.opts.LockDelay)
		err = a.frontend.Init(ctx)
		if err == nil {
			a.adcInitialized()
		}
	}
	if err != nil {
		err = multierr.Combine(err, a.power.Out(gpio.Low))
		a.setStatus(StatusOff)
		return fmt.Errorf("lock: %w", err)
	}
	a.publish(func(sn *Snapshot) {})
	return nil
}

// Unlock leaves maintenance mode with safe outputs. It requires Lock.
func (a *Amplifier) Unlock() error {
	a.op.Lock()
	defer a.op.Unlock()

	if s := a.Status(); s != StatusLock {
		return &StateError{Op: "unlock", Want: StatusLock, Have: s}
	}
	return a.unlock()
}

func (a *Amplifier) unlock() error {
	err := a.safe()
	a.setStatus(StatusOff)
	return err
}

// Disconnect is called when the remote operator goes away. It leaves
// maintenance mode if active.
func (a *Amplifier) Disconnect() error {
	a.op.Lock()
	defer a.op.Unlock()
	if a.Status() != StatusLock {
		return nil
	}
	return a.unlock()
}

func (a *Amplifier) requireLock(op string) error {
	if s := a.Status(); s != StatusLock {
		return &StateError{Op: op, Want: StatusLock, Have: s}
	}
	return nil
}

// SetAttenuator writes a raw attenuator code. It requires Lock.
func (a *Amplifier) SetAttenuator(p Pins) error {
	a.op.Lock()
	defer a.op.Unlock()
	if err := a.requireLock("set_attenuator"); err != nil {
		return err
	}
	if p > MaxAttenuation {
		return fmt.Errorf("%w: attenuator code %d", ErrInvalidArgument, p)
	}
	if err := a.atten.Set(p); err != nil {
		return err
	}
	a.publish(func(sn *Snapshot) {})
	return nil
}

// ReadSensorsRaw reads both sensors without calibration. It requires Lock.
func (a *Amplifier) ReadSensorsRaw(ctx context.Context) (RawSensors, error) {
	a.op.Lock()
	defer a.op.Unlock()
	if err := a.requireLock("read_sensors"); err != nil {
		return RawSensors{}, err
	}
	s, err := a.frontend.ReadRaw(ctx)
	if err != nil {
		return RawSensors{}, err
	}
	return RawSensors{
		PowerCode:    s.Power.Code,
		PowerGain:    s.Power.Pga.Gain(),
		PowerVolts:   s.Power.Voltage,
		ThermalCode:  s.Thermal.Code,
		ThermalVolts: s.Thermal.Voltage,
		TempC:        TempFromVoltage(s.Thermal.Voltage),
	}, nil
}

// EnablePWM starts modulation with a period to pulse ratio and a pulse
// length in seconds. It requires Lock.
func (a *Amplifier) EnablePWM(duty, pulseSeconds float64) error {
	a.op.Lock()
	defer a.op.Unlock()
	if err := a.requireLock("enable_pwm"); err != nil {
		return err
	}
	if !(duty > 0) || !(pulseSeconds > 0) {
		return fmt.Errorf("%w: duty %g, pulse %g s", ErrInvalidArgument, duty, pulseSeconds)
	}
	return a.pwm.Start(1/duty, PulseFrequency(pulseSeconds))
}

// DisablePWM stops modulation. It requires Lock.
func (a *Amplifier) DisablePWM() error {
	a.op.Lock()
	defer a.op.Unlock()
	if err := a.requireLock("disable_pwm"); err != nil {
		return err
	}
	return a.pwm.Stop()
}

// Close stops a running control loop and makes the outputs safe.
func (a *Amplifier) Close() error {
	if a.isOn() {
		if err := a.Stop(context.Background()); err != nil && !errors.Is(err, ErrWrongState) {
			return err
		}
	}
	a.Wait()
	a.op.Lock()
	defer a.op.Unlock()
	return multierr.Combine(a.safe(), a.fan.Out(gpio.Low))
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
