// Package ranger picks the highest PGA gain that does not saturate for each
// enabled ADC channel.
package ranger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/itohio/instamp/pkg/ad7124"
)

// DefaultMaxPasses bounds the number of sampling passes of Converge.
const DefaultMaxPasses = 16

// ErrNotConverged is returned when gains still change after the last pass.
var ErrNotConverged = errors.New("ranger: gains did not converge")

// Device is the part of the ADC driver the ranger needs.
type Device interface {
	Snapshot() ad7124.State
	SetConfiguration(ctx context.Context, i int, c ad7124.Configuration) error
	Stream(ctx context.Context) (*ad7124.Stream, error)
}

var _ Device = (*ad7124.Device)(nil)

// Ranger adjusts the PGA of every enabled channel from stream feedback.
type Ranger struct {
	dev       Device
	maxPasses int
	log       *zap.SugaredLogger
}

// New creates a ranger. maxPasses <= 0 selects DefaultMaxPasses.
func New(dev Device, maxPasses int, log *zap.SugaredLogger) *Ranger {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ranger{dev: dev, maxPasses: maxPasses, log: log}
}

// Step returns the gain to use after observing m at gain p. A saturated
// reading steps down one notch; otherwise the gain climbs while the reading
// still fits the next higher range.
func Step(p ad7124.Pga, m ad7124.Measurement) ad7124.Pga {
	if p != ad7124.Pga1 && m.Code == ad7124.CodeMax {
		return p.Prev()
	}
	v := math.Abs(m.Voltage)
	for p != ad7124.Pga128 && v < p.Next().MaxVoltage() {
		p = p.Next()
	}
	return p
}

// Converge starts every enabled channel at x1 and runs sampling passes until
// a pass changes no gain. The configurations of the channels' setups are left
// at the converged gains.
func (r *Ranger) Converge(ctx context.Context) (map[uint8]ad7124.Pga, error) {
	channels := r.dev.Snapshot().EnabledChannels()
	gains := make(map[uint8]ad7124.Pga, len(channels))
	if len(channels) == 0 {
		return gains, nil
	}
	for _, ch := range channels {
		gains[ch] = ad7124.Pga1
	}
	if err := r.apply(ctx, gains, channels); err != nil {
		return nil, err
	}

	for pass := range r.maxPasses {
		samples, err := r.sample(ctx, channels)
		if err != nil {
			return nil, err
		}

		var changed []uint8
		for _, ch := range channels {
			next := Step(gains[ch], samples[ch])
			if next != gains[ch] {
				gains[ch] = next
				changed = append(changed, ch)
			}
		}
		if len(changed) == 0 {
			r.log.Debugw("gains converged", "passes", pass+1, "gains", gains)
			return gains, nil
		}
		if err := r.apply(ctx, gains, changed); err != nil {
			return nil, err
		}
	}
	return gains, fmt.Errorf("%w after %d passes", ErrNotConverged, r.maxPasses)
}

// apply writes the setup configuration of each channel with its gain.
func (r *Ranger) apply(ctx context.Context, gains map[uint8]ad7124.Pga, channels []uint8) error {
	st := r.dev.Snapshot()
	for _, ch := range channels {
		setup := st.Channels[ch].Setup()
		cfg := st.Configs[setup].WithPga(gains[ch])
		if cfg == st.Configs[setup] {
			continue
		}
		if err := r.dev.SetConfiguration(ctx, int(setup), cfg); err != nil {
			return fmt.Errorf("set gain of channel %d: %w", ch, err)
		}
		st.Configs[setup] = cfg
	}
	return nil
}

// sample reads one conversion of every channel in channels.
func (r *Ranger) sample(ctx context.Context, channels []uint8) (out map[uint8]ad7124.Measurement, err error) {
	s, err := r.dev.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, s.Close())
	}()

	out = make(map[uint8]ad7124.Measurement, len(channels))
	// The sequencer visits every enabled channel once per round.
	for range 2 * ad7124.NumChannels {
		if len(out) == len(channels) {
			return out, nil
		}
		m, err := s.Next()
		if err != nil {
			return nil, err
		}
		out[m.Channel] = m
	}
	return nil, fmt.Errorf("ranger: only %d of %d channels reported", len(out), len(channels))
}
