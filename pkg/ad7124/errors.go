package ad7124

import "errors"

var (
	// ErrTimeout is returned when a bounded poll (readiness, power-on or
	// conversion ready) runs out of attempts.
	ErrTimeout = errors.New("ad7124: timeout")
	// ErrCRC is returned when a protected read fails its checksum.
	ErrCRC = errors.New("ad7124: crc mismatch")
	// ErrIndex is returned for an out of range channel or setup index.
	ErrIndex = errors.New("ad7124: register index out of range")
	// ErrUndefinedGain is returned when writing the GainUndefined sentinel.
	ErrUndefinedGain = errors.New("ad7124: gain coefficient is undefined")
	// ErrBusy is returned when a stream is already open on the device.
	ErrBusy = errors.New("ad7124: stream already open")
	// ErrStreamClosed is returned by Next after Close.
	ErrStreamClosed = errors.New("ad7124: stream closed")
)
