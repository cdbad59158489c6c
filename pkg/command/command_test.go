package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/itohio/instamp/pkg/amp"
)

// fakeAmp records calls and enforces the state rules of the real amplifier.
type fakeAmp struct {
	status   amp.Status
	settings amp.Settings
	limits   amp.Limits
	pins     amp.Pins
	pwm      [2]float64
	calls    []string
	failNext error
}

func newFakeAmp() *fakeAmp {
	return &fakeAmp{status: amp.StatusOff, settings: amp.DefaultSettings(), limits: amp.DefaultLimits()}
}

func (f *fakeAmp) record(op string) error {
	f.calls = append(f.calls, op)
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	return nil
}

func (f *fakeAmp) require(op string, want amp.Status) error {
	if f.status != want {
		return &amp.StateError{Op: op, Want: want, Have: f.status}
	}
	return nil
}

func (f *fakeAmp) Status() amp.Status { return f.status }

func (f *fakeAmp) Start(ctx context.Context) error {
	if err := f.require("start", amp.StatusOff); err != nil {
		return err
	}
	if err := f.record("start"); err != nil {
		return err
	}
	f.status = amp.StatusOn
	return nil
}

func (f *fakeAmp) Stop(ctx context.Context) error {
	if err := f.require("stop", amp.StatusOn); err != nil {
		return err
	}
	f.status = amp.StatusOff
	return f.record("stop")
}

func (f *fakeAmp) Lock(ctx context.Context) error {
	if err := f.require("lock", amp.StatusOff); err != nil {
		return err
	}
	f.status = amp.StatusLock
	return f.record("lock")
}

func (f *fakeAmp) Unlock() error {
	if err := f.require("unlock", amp.StatusLock); err != nil {
		return err
	}
	f.status = amp.StatusOff
	return f.record("unlock")
}

func (f *fakeAmp) Disconnect() error {
	if f.status == amp.StatusLock {
		f.status = amp.StatusOff
	}
	return f.record("disconnect")
}

func (f *fakeAmp) SetFrequency(ghz float64) (float64, error) {
	f.settings.FrequencyGHz = f.limits.ClampFrequency(ghz)
	return f.settings.FrequencyGHz, f.record("frequency")
}

func (f *fakeAmp) SetOutputPower(dbm float64) (float64, error) {
	f.settings.OutputPowerDBm = f.limits.ClampOutputPower(dbm)
	return f.settings.OutputPowerDBm, f.record("output_power")
}

func (f *fakeAmp) SetGain(db float64) (float64, error) {
	f.settings.GainDB = f.limits.ClampGain(db)
	return f.settings.GainDB, f.record("gain")
}

func (f *fakeAmp) SetMode(m amp.Mode) error {
	f.settings.Mode = m
	return f.record("mode")
}

func (f *fakeAmp) SetModulation(on bool) error {
	f.settings.Modulation = on
	return f.record("modulation")
}

func (f *fakeAmp) SetPulseDuration(us float64) (float64, error) {
	f.settings.PulseUs = f.limits.ClampPulse(us, f.settings.DutyCycle)
	return f.settings.PulseUs, f.record("pulse")
}

func (f *fakeAmp) SetDutyCycle(duty float64) (float64, error) {
	f.settings.DutyCycle = amp.ClampDuty(duty, f.settings.PulseUs)
	return f.settings.DutyCycle, f.record("duty")
}

func (f *fakeAmp) SetAttenuator(p amp.Pins) error {
	if err := f.require("set_attenuator", amp.StatusLock); err != nil {
		return err
	}
	if p > amp.MaxAttenuation {
		return amp.ErrInvalidArgument
	}
	f.pins = p
	return f.record("attenuator")
}

func (f *fakeAmp) ReadSensorsRaw(ctx context.Context) (amp.RawSensors, error) {
	if err := f.require("read_sensors", amp.StatusLock); err != nil {
		return amp.RawSensors{}, err
	}
	return amp.RawSensors{PowerCode: 1234, PowerGain: 32, TempC: 25}, f.record("read_sensors")
}

func (f *fakeAmp) EnablePWM(duty, pulseSeconds float64) error {
	if err := f.require("enable_pwm", amp.StatusLock); err != nil {
		return err
	}
	f.pwm = [2]float64{duty, pulseSeconds}
	return f.record("enable_pwm")
}

func (f *fakeAmp) DisablePWM() error {
	if err := f.require("disable_pwm", amp.StatusLock); err != nil {
		return err
	}
	return f.record("disable_pwm")
}

var _ Amplifier = (*fakeAmp)(nil)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAmp) {
	t.Helper()
	a := newFakeAmp()
	d := NewDispatcher(zaptest.NewLogger(t).Sugar())
	require.NoError(t, Register(d, a))
	return d, a
}

func TestDispatcher_LongestPrefixWins(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Handle("set", func(ctx context.Context, args string) (Result, error) {
		return OK("short " + args), nil
	}))
	require.NoError(t, d.Handle("set_gain", func(ctx context.Context, args string) (Result, error) {
		return OK("long " + args), nil
	}))

	res, reply := d.Dispatch(context.Background(), "set_gain 20")
	assert.True(t, reply)
	assert.Equal(t, "long 20", res.Message)

	res, _ = d.Dispatch(context.Background(), "set_x")
	assert.Equal(t, "short _x", res.Message)

	assert.Equal(t, []string{"set_gain", "set"}, d.Prefixes())
}

func TestDispatcher_Registration(t *testing.T) {
	d := NewDispatcher(nil)
	h := func(ctx context.Context, args string) (Result, error) { return OK(""), nil }

	require.NoError(t, d.Handle("a", h))
	assert.True(t, errors.Is(d.Handle("a", h), ErrDuplicatePrefix))
	assert.True(t, errors.Is(d.HandleRaw("a", h), ErrDuplicatePrefix))
	assert.True(t, errors.Is(d.Handle("", h), ErrEmptyPrefix))
}

func TestDispatcher_Unknown(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res, reply := d.Dispatch(context.Background(), "bogus")
	assert.True(t, reply)
	assert.Equal(t, UnknownCommand, res.Code)
}

func TestDispatcher_PanicIsExecutionError(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t).Sugar())
	require.NoError(t, d.Handle("boom", func(ctx context.Context, args string) (Result, error) {
		panic("kaboom")
	}))

	res, reply := d.Dispatch(context.Background(), "boom")
	assert.True(t, reply)
	assert.Equal(t, ExecutionError, res.Code)
	assert.Equal(t, "kaboom", res.Message)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name    string
		status  amp.Status
		line    string
		code    Code
		message string
	}{
		{name: "test", line: "test", code: Ok, message: "test"},
		{name: "echo trims", line: "echo  hello ", code: Ok, message: "> hello"},
		{name: "full echo keeps spaces", line: "full_echo  hello ", code: Ok, message: "> full_echo  hello "},
		{name: "status", line: "status", code: Ok, message: "off"},
		{name: "start", line: "start", code: Ok, message: "started"},
		{name: "stop when off", line: "stop", code: InvalidArguments, message: "stop is only available in the on state. Current status: off."},
		{name: "stop when on", status: amp.StatusOn, line: "stop", code: Ok},
		{name: "start when on", status: amp.StatusOn, line: "start", code: InvalidArguments},
		{name: "unlock when off", line: "unlock", code: InvalidArguments},
		{name: "lock", line: "lock", code: Ok},
		{name: "frequency", line: "set_frequency 12000", code: Ok, message: "frequency set to 12000 MHz"},
		{name: "frequency clamped", line: "set_frequency 20000", code: Ok, message: "frequency clamped to 18000 MHz"},
		{name: "frequency decimal comma", line: "set_frequency 9500,5", code: Ok, message: "frequency set to 9500.5 MHz"},
		{name: "frequency not a number", line: "set_frequency abc", code: InvalidArguments},
		{name: "frequency infinite", line: "set_frequency +Inf", code: InvalidArguments},
		{name: "output power nan", line: "set_output_power NaN", code: InvalidArguments},
		{name: "gain nan", line: "set_gain nan", code: InvalidArguments},
		{name: "pulse infinite", line: "set_pulse_duration inf", code: InvalidArguments},
		{name: "duty nan", line: "set_duty_cycle NaN", code: InvalidArguments},
		{name: "enable pwm nan", status: amp.StatusLock, line: "enable_pwm NaN 0.001", code: InvalidArguments},
		{name: "gain clamped", line: "set_gain 50", code: Ok, message: "gain clamped to 45 dB"},
		{name: "output power", line: "set_output_power 20", code: Ok, message: "output power set to 20 dBm"},
		{name: "mode", line: "set_mode gain", code: Ok, message: "mode set to gain"},
		{name: "mode invalid", line: "set_mode fast", code: InvalidArguments},
		{name: "modulation", line: "set_modulation false", code: Ok, message: "modulation set to false"},
		{name: "modulation invalid", line: "set_modulation maybe", code: InvalidArguments},
		{name: "pulse clamped", line: "set_pulse_duration 5", code: Ok, message: "pulse duration clamped to 10 us"},
		{name: "duty", line: "set_duty_cycle 4", code: Ok, message: "duty cycle set to 4"},
		{name: "attenuator needs lock", line: "set_attenuator 3", code: InvalidArguments},
		{name: "attenuator", status: amp.StatusLock, line: "set_attenuator 3", code: Ok, message: "attenuator set to 0b00011"},
		{name: "attenuator out of range", status: amp.StatusLock, line: "set_attenuator 40", code: InvalidArguments},
		{name: "attenuator not a byte", status: amp.StatusLock, line: "set_attenuator 300", code: InvalidArguments},
		{name: "read sensors needs lock", line: "read_sensors", code: InvalidArguments},
		{name: "enable pwm", status: amp.StatusLock, line: "enable_pwm 10 0.001", code: Ok},
		{name: "enable pwm zero", status: amp.StatusLock, line: "enable_pwm 0 0.001", code: InvalidArguments},
		{name: "enable pwm missing", status: amp.StatusLock, line: "enable_pwm 10", code: InvalidArguments},
		{name: "disable pwm", status: amp.StatusLock, line: "disable_pwm", code: Ok},
		{name: "disable pwm needs lock", line: "disable_pwm", code: InvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, a := newTestDispatcher(t)
			if tt.status != amp.StatusInitializing {
				a.status = tt.status
			}

			res, reply := d.Dispatch(context.Background(), tt.line)
			assert.True(t, reply)
			assert.Equal(t, tt.code, res.Code, res.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, res.Message)
			}
		})
	}
}

func TestCommands_ExecutionError(t *testing.T) {
	d, a := newTestDispatcher(t)
	a.failNext = errors.New("spi down")

	res, reply := d.Dispatch(context.Background(), "start")
	assert.True(t, reply)
	assert.Equal(t, ExecutionError, res.Code)
	assert.Equal(t, "spi down", res.Message)
	assert.Equal(t, amp.StatusOff, a.status)
}

func TestCommands_ReadSensors(t *testing.T) {
	d, a := newTestDispatcher(t)
	a.status = amp.StatusLock

	res, _ := d.Dispatch(context.Background(), "read_sensors")
	require.Equal(t, Ok, res.Code)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"code":"ok"`)
	assert.Contains(t, string(b), `"power_in_adc":1234`)
	assert.Contains(t, string(b), `"power_adc_gain":32`)
}

func TestCommands_Disconnected(t *testing.T) {
	d, a := newTestDispatcher(t)
	a.status = amp.StatusLock

	_, reply := d.Dispatch(context.Background(), "_disconnected")
	assert.False(t, reply)
	assert.Equal(t, amp.StatusOff, a.status)

	_, reply = d.Dispatch(context.Background(), "_connected")
	assert.False(t, reply)
}

func TestCommands_EnablePWMArguments(t *testing.T) {
	d, a := newTestDispatcher(t)
	a.status = amp.StatusLock

	res, _ := d.Dispatch(context.Background(), "enable_pwm 10 0,002")
	require.Equal(t, Ok, res.Code)
	assert.Equal(t, [2]float64{10, 0.002}, a.pwm)
}

func TestCode_Text(t *testing.T) {
	for _, c := range []Code{Ok, UnknownCommand, InvalidArguments, ExecutionError} {
		b, err := c.MarshalText()
		require.NoError(t, err)
		var got Code
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, c, got)
	}
	var c Code
	assert.Error(t, c.UnmarshalText([]byte("nope")))
}
