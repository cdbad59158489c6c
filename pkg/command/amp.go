package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/itohio/instamp/pkg/amp"
)

// ErrInvalidArguments marks argument parse failures.
var ErrInvalidArguments = errors.New("invalid arguments")

// Amplifier is the amplifier surface driven by commands.
type Amplifier interface {
	Status() amp.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Lock(ctx context.Context) error
	Unlock() error
	Disconnect() error

	SetFrequency(ghz float64) (float64, error)
	SetOutputPower(dbm float64) (float64, error)
	SetGain(db float64) (float64, error)
	SetMode(m amp.Mode) error
	SetModulation(on bool) error
	SetPulseDuration(us float64) (float64, error)
	SetDutyCycle(duty float64) (float64, error)

	SetAttenuator(p amp.Pins) error
	ReadSensorsRaw(ctx context.Context) (amp.RawSensors, error)
	EnablePWM(duty, pulseSeconds float64) error
	DisablePWM() error
}

var _ Amplifier = (*amp.Amplifier)(nil)

// Classify maps an operation error to a result. Wrong state and bad
// argument errors are the caller's fault; everything else is an execution
// error.
func Classify(err error) Result {
	switch {
	case errors.Is(err, ErrInvalidArguments),
		errors.Is(err, amp.ErrWrongState),
		errors.Is(err, amp.ErrInvalidArgument):
		return Result{Code: InvalidArguments, Message: err.Error()}
	}
	return Failed(err)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidArguments, s)
	}
	return v, nil
}

// applied describes a setting, noting when the requested value was clamped.
func applied(name string, requested, got float64, unit string) Result {
	verb := "set"
	if requested != got {
		verb = "clamped"
	}
	msg := strings.TrimSpace(fmt.Sprintf("%s %s to %g %s", name, verb, got, unit))
	return OKData(msg, got)
}

// Register binds the amplifier commands to d.
func Register(d *Dispatcher, a Amplifier) error {
	type entry struct {
		prefix string
		raw    bool
		h      Handler
	}
	entries := []entry{
		{prefix: "test", h: func(ctx context.Context, args string) (Result, error) {
			return OK("test"), nil
		}},
		{prefix: "echo ", h: func(ctx context.Context, args string) (Result, error) {
			return OK("> " + args), nil
		}},
		{prefix: "full_echo", raw: true, h: func(ctx context.Context, args string) (Result, error) {
			return OK("> " + args), nil
		}},
		{prefix: "_connected", h: func(ctx context.Context, args string) (Result, error) {
			return Result{}, ErrNoReply
		}},
		{prefix: "_disconnected", h: func(ctx context.Context, args string) (Result, error) {
			if err := a.Disconnect(); err != nil {
				return Result{}, err
			}
			return Result{}, ErrNoReply
		}},
		{prefix: "status", h: func(ctx context.Context, args string) (Result, error) {
			return OK(a.Status().String()), nil
		}},
		{prefix: "start", h: func(ctx context.Context, args string) (Result, error) {
			if err := a.Start(ctx); err != nil {
				return Result{}, err
			}
			return OK("started"), nil
		}},
		{prefix: "stop", h: func(ctx context.Context, args string) (Result, error) {
			if err := a.Stop(ctx); err != nil {
				return Result{}, err
			}
			return OK("stopped"), nil
		}},
		{prefix: "lock", h: func(ctx context.Context, args string) (Result, error) {
			if err := a.Lock(ctx); err != nil {
				return Result{}, err
			}
			return OK("locked"), nil
		}},
		{prefix: "unlock", h: func(ctx context.Context, args string) (Result, error) {
			if err := a.Unlock(); err != nil {
				return Result{}, err
			}
			return OK("unlocked"), nil
		}},
		{prefix: "set_frequency ", h: func(ctx context.Context, args string) (Result, error) {
			mhz, err := parseFloat(args)
			if err != nil {
				return Result{}, err
			}
			ghz, err := a.SetFrequency(mhz / 1000)
			if err != nil {
				return Result{}, err
			}
			if ghz != mhz/1000 {
				return applied("frequency", mhz, ghz*1000, "MHz"), nil
			}
			return applied("frequency", mhz, mhz, "MHz"), nil
		}},
		{prefix: "set_output_power ", h: func(ctx context.Context, args string) (Result, error) {
			dbm, err := parseFloat(args)
			if err != nil {
				return Result{}, err
			}
			got, err := a.SetOutputPower(dbm)
			if err != nil {
				return Result{}, err
			}
			return applied("output power", dbm, got, "dBm"), nil
		}},
		{prefix: "set_gain ", h: func(ctx context.Context, args string) (Result, error) {
			db, err := parseFloat(args)
			if err != nil {
				return Result{}, err
			}
			got, err := a.SetGain(db)
			if err != nil {
				return Result{}, err
			}
			return applied("gain", db, got, "dB"), nil
		}},
		{prefix: "set_mode ", h: func(ctx context.Context, args string) (Result, error) {
			m, err := amp.ParseMode(args)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
			if err := a.SetMode(m); err != nil {
				return Result{}, err
			}
			return OK("mode set to " + m.String()), nil
		}},
		{prefix: "set_modulation ", h: func(ctx context.Context, args string) (Result, error) {
			on, err := strconv.ParseBool(args)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %q is not a boolean", ErrInvalidArguments, args)
			}
			if err := a.SetModulation(on); err != nil {
				return Result{}, err
			}
			return OK(fmt.Sprintf("modulation set to %t", on)), nil
		}},
		{prefix: "set_pulse_duration ", h: func(ctx context.Context, args string) (Result, error) {
			us, err := parseFloat(args)
			if err != nil {
				return Result{}, err
			}
			got, err := a.SetPulseDuration(us)
			if err != nil {
				return Result{}, err
			}
			return applied("pulse duration", us, got, "us"), nil
		}},
		{prefix: "set_duty_cycle ", h: func(ctx context.Context, args string) (Result, error) {
			duty, err := parseFloat(args)
			if err != nil {
				return Result{}, err
			}
			got, err := a.SetDutyCycle(duty)
			if err != nil {
				return Result{}, err
			}
			return applied("duty cycle", duty, got, ""), nil
		}},
		{prefix: "set_attenuator ", h: func(ctx context.Context, args string) (Result, error) {
			v, err := strconv.ParseUint(args, 10, 8)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %q is not a byte", ErrInvalidArguments, args)
			}
			if err := a.SetAttenuator(amp.Pins(v)); err != nil {
				return Result{}, err
			}
			return OK(fmt.Sprintf("attenuator set to %s", amp.Pins(v))), nil
		}},
		{prefix: "read_sensors", h: func(ctx context.Context, args string) (Result, error) {
			raw, err := a.ReadSensorsRaw(ctx)
			if err != nil {
				return Result{}, err
			}
			return OKData("", raw), nil
		}},
		{prefix: "enable_pwm ", h: func(ctx context.Context, args string) (Result, error) {
			f := strings.Fields(args)
			if len(f) != 2 {
				return Result{}, fmt.Errorf("%w: want <duty> <pulse_s>", ErrInvalidArguments)
			}
			duty, err := parseFloat(f[0])
			if err != nil {
				return Result{}, err
			}
			pulse, err := parseFloat(f[1])
			if err != nil {
				return Result{}, err
			}
			if !(duty > 0) || !(pulse > 0) {
				return Result{}, fmt.Errorf("%w: duty and pulse must be positive", ErrInvalidArguments)
			}
			if err := a.EnablePWM(duty, pulse); err != nil {
				return Result{}, err
			}
			return OK("pwm enabled"), nil
		}},
		{prefix: "disable_pwm", h: func(ctx context.Context, args string) (Result, error) {
			if err := a.DisablePWM(); err != nil {
				return Result{}, err
			}
			return OK("pwm disabled"), nil
		}},
	}

	for _, e := range entries {
		var err error
		if e.raw {
			err = d.HandleRaw(e.prefix, e.h)
		} else {
			err = d.Handle(e.prefix, e.h)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
