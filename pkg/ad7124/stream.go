package ad7124

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Stream is an open continuous conversion session. The device stays in
// continuous mode until Close, which always returns it to standby. Callers
// must Close the stream, typically with defer.
type Stream struct {
	dev  *Device
	ctx  context.Context
	once sync.Once
	err  error

	mu     sync.Mutex
	closed bool
}

// Stream switches the device to continuous conversion. A context that is
// already done fails without touching the device.
func (d *Device) Stream(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return nil, ErrBusy
	}

	ctl := d.state.AdcControl.
		WithMode(ModeContinuous).
		WithRefEn(true).
		WithCsEn(true).
		WithDataStatus(true)
	if err := d.writeAdcControl(ctx, ctl); err != nil {
		// The write may have reached the device even if the transfer failed.
		return nil, multierr.Combine(err, d.standby(context.WithoutCancel(ctx)))
	}
	d.streaming = true
	sleep(d.timing.StreamSettle)

	return &Stream{dev: d, ctx: ctx}, nil
}

// Next blocks until the next conversion and returns it.
func (s *Stream) Next() (Measurement, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Measurement{}, ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return Measurement{}, err
	}

	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := d.readSample(s.ctx)
	if err != nil {
		return Measurement{}, err
	}
	return m, nil
}

// Close waits for the device to settle and puts it back in standby. It is
// idempotent and runs even if the stream's context was cancelled.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		d := s.dev
		d.mu.Lock()
		defer d.mu.Unlock()
		sleep(d.timing.StreamSettle)
		s.err = d.standby(context.WithoutCancel(s.ctx))
		d.streaming = false
	})
	return s.err
}

// standby writes standby mode keeping the remaining control bits.
func (d *Device) standby(ctx context.Context) error {
	ctl := d.state.AdcControl.
		WithMode(ModeStandby).
		WithRefEn(true).
		WithCsEn(true).
		WithDataStatus(true)
	if err := d.writeAdcControl(ctx, ctl); err != nil {
		return fmt.Errorf("return to standby: %w", err)
	}
	return nil
}

// Collect reads n conversions from a fresh stream and closes it.
func (d *Device) Collect(ctx context.Context, n int) (out []Measurement, err error) {
	s, err := d.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, s.Close())
	}()

	out = make([]Measurement, 0, n)
	for range n {
		m, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}
