package ad7124

import (
	"context"
	"fmt"
	"time"
)

// Bus is a raw full-duplex SPI transfer. w and r have the same length.
// A periph.io spi.Conn satisfies it.
type Bus interface {
	Tx(w, r []byte) error
}

// Timing bounds the polling loops and fixed delays of the driver.
type Timing struct {
	ReadyRetries      int           // Error register polls before a transfer
	PowerOnRetries    int           // Status polls after reset
	ConversionRetries int           // Status polls waiting for a conversion
	PollInterval      time.Duration // Delay between unsuccessful polls
	ResetSettle       time.Duration // Delay after power-on completes
	SingleSettle      time.Duration // Delay after starting a single conversion
	StreamSettle      time.Duration // Delay entering and leaving continuous mode
}

// DefaultTiming returns the timing used with real hardware.
func DefaultTiming() Timing {
	return Timing{
		ReadyRetries:      1000,
		PowerOnRetries:    1000,
		ConversionRetries: 10000,
		PollInterval:      time.Millisecond,
		ResetSettle:       4 * time.Millisecond,
		SingleSettle:      2 * time.Millisecond,
		StreamSettle:      5 * time.Millisecond,
	}
}

// Transport frames register accesses on a Bus. It is not safe for
// concurrent use; Device serializes access to it.
type Transport struct {
	bus    Bus
	timing Timing
	errEn  ErrorEnable
}

// NewTransport creates a transport assuming power-on error enable settings.
func NewTransport(bus Bus, timing Timing) *Transport {
	return &Transport{
		bus:    bus,
		timing: timing,
		errEn:  ErrorEnableDefault,
	}
}

// SetErrorEnable updates the error enable settings that control CRC framing
// and the readiness gate. It must mirror what the device has been told.
func (t *Transport) SetErrorEnable(e ErrorEnable) { t.errEn = e }

// Reset sends the reset sequence.
func (t *Transport) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := ResetCommand
	var r [len(ResetCommand)]byte
	if err := t.bus.Tx(w[:], r[:]); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// ReadRegister reads n bytes from addr.
func (t *Transport) ReadRegister(ctx context.Context, addr byte, n int) ([]byte, error) {
	if addr != AddrError {
		if err := t.waitReady(ctx); err != nil {
			return nil, fmt.Errorf("read register 0x%02x: %w", addr, err)
		}
	}
	b, err := t.read(addr, n)
	if err != nil {
		return nil, fmt.Errorf("read register 0x%02x: %w", addr, err)
	}
	return b, nil
}

// WriteRegister writes payload to addr.
func (t *Transport) WriteRegister(ctx context.Context, addr byte, payload []byte) error {
	if err := t.waitReady(ctx); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", addr, err)
	}

	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, Command(addr, false))
	frame = append(frame, payload...)
	if t.crc() {
		frame = append(frame, Checksum(frame))
	}
	if err := t.bus.Tx(frame, make([]byte, len(frame))); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", addr, err)
	}
	return nil
}

func (t *Transport) crc() bool { return t.errEn.Has(ErrEnSpiCrc) }

func (t *Transport) read(addr byte, n int) ([]byte, error) {
	size := 1 + n
	if t.crc() {
		size++
	}
	w := make([]byte, size)
	r := make([]byte, size)
	w[0] = Command(addr, true)
	if err := t.bus.Tx(w, r); err != nil {
		return nil, err
	}
	// The first clocked byte carries no data; the checksum covers the
	// command byte as sent.
	if t.crc() && Checksum(w[:1], r[1:]) != 0 {
		return nil, ErrCRC
	}
	out := make([]byte, n)
	copy(out, r[1:1+n])
	return out, nil
}

// waitReady polls the error register until the device stops ignoring SPI
// transfers.
func (t *Transport) waitReady(ctx context.Context) error {
	if !t.errEn.Has(ErrEnSpiIgnore) {
		return ctx.Err()
	}
	return poll(ctx, t.timing.ReadyRetries, t.timing.PollInterval, func() (bool, error) {
		b, err := t.read(AddrError, SizeError)
		if err != nil {
			return false, err
		}
		return !DecodeError(b).Has(ErrSpiIgnore), nil
	})
}

// poll calls check until it reports done, retries run out or ctx ends.
// Cancellation is checked once per attempt.
func poll(ctx context.Context, retries int, interval time.Duration, check func() (bool, error)) error {
	for range retries {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		sleep(interval)
	}
	return ErrTimeout
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
