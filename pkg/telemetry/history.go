// Package telemetry keeps a time window of amplifier snapshots.
package telemetry

import (
	"sync"
	"time"

	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/sample"
)

var _ Recorder = (*History)(nil)

// Burst is a run of consecutive snapshots taken while the amplifier was on.
type Burst struct {
	StartIndex int       `json:"start_index"` // Index of the first snapshot in the window
	EndIndex   int       `json:"end_index"`   // Index of the last snapshot, updated while the burst lasts
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	PeakPowerW float64   `json:"peak_power_w"`
	MeanPowerW float64   `json:"mean_power_w"`
	MaxTempC   float64   `json:"max_temp_c"`

	n   int
	sum float64
}

// Recorder consumes snapshots and keeps the recent ones.
type Recorder interface {
	ProcessSnapshots(input <-chan amp.Snapshot)
	Record(s amp.Snapshot)
	Snapshots() []amp.Snapshot // Ordered oldest first
	TempRates() []float64      // °C/s between consecutive snapshots, n-1 for n snapshots
	Bursts() []Burst
	OnUpdate(func(snaps []amp.Snapshot, rates []float64, bursts []Burst))
}

// History implements Recorder. Snapshots older than the window, measured
// from the newest snapshot, are dropped.
type History struct {
	mu     sync.RWMutex
	window time.Duration
	snaps  []amp.Snapshot
	rates  []float64 // rates[i] is the change from snaps[i] to snaps[i+1]
	bursts []Burst

	callbacks []func(snaps []amp.Snapshot, rates []float64, bursts []Burst)
	cbMu      sync.RWMutex

	shutdown bool
}

// New creates a history covering window.
func New(window time.Duration) *History {
	return &History{window: window}
}

// ProcessSnapshots records snapshots until input is closed. No callbacks
// fire after that.
func (h *History) ProcessSnapshots(input <-chan amp.Snapshot) {
	for s := range input {
		h.Record(s)
	}
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
}

// ResetShutdown allows callbacks again after ProcessSnapshots returned.
func (h *History) ResetShutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = false
}

// Record adds a snapshot. It has the signature of amp.Amplifier.OnUpdate
// callbacks.
func (h *History) Record(s amp.Snapshot) {
	h.mu.Lock()
	h.append(s)
	notify := !h.shutdown
	h.mu.Unlock()

	if notify {
		h.notify()
	}
}

func (h *History) append(s amp.Snapshot) {
	h.snaps = append(h.snaps, s)

	// Keep the derivative paired with the snapshots even when dt is zero.
	if n := len(h.snaps); n >= 2 {
		prev := h.snaps[n-2]
		var rate float64
		if dt := s.Time.Sub(prev.Time).Seconds(); dt > 0 {
			rate = (s.TempC - prev.TempC) / dt
		}
		h.rates = append(h.rates, rate)
	}

	h.trim(s.Time.Add(-h.window))
	h.updateBursts()
}

func (h *History) trim(cutoff time.Time) {
	cut := 0
	for cut < len(h.snaps)-1 && !h.snaps[cut].Time.After(cutoff) {
		cut++
	}
	if cut == 0 {
		return
	}
	h.snaps = h.snaps[cut:]
	if cut <= len(h.rates) {
		h.rates = h.rates[cut:]
	} else {
		h.rates = h.rates[:0]
	}

	bursts := h.bursts[:0]
	for _, b := range h.bursts {
		b.StartIndex -= cut
		b.EndIndex -= cut
		if b.EndIndex < 0 {
			continue
		}
		if b.StartIndex < 0 {
			b.StartIndex = 0
			b.StartTime = h.snaps[0].Time
		}
		bursts = append(bursts, b)
	}
	h.bursts = bursts
}

func (h *History) updateBursts() {
	last := len(h.snaps) - 1
	s := h.snaps[last]
	if s.Status != amp.StatusOn {
		return
	}

	var b *Burst
	if n := len(h.bursts); n > 0 && h.bursts[n-1].EndIndex == last-1 {
		b = &h.bursts[n-1]
	} else {
		h.bursts = append(h.bursts, Burst{
			StartIndex: last,
			StartTime:  s.Time,
			MaxTempC:   s.TempC,
		})
		b = &h.bursts[len(h.bursts)-1]
	}

	b.EndIndex = last
	b.EndTime = s.Time
	b.n++
	b.sum += s.PowerW
	b.MeanPowerW = b.sum / float64(b.n)
	b.PeakPowerW = max(b.PeakPowerW, s.PowerW)
	b.MaxTempC = max(b.MaxTempC, s.TempC)
}

// Snapshots returns a copy of the window.
func (h *History) Snapshots() []amp.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]amp.Snapshot(nil), h.snaps...)
}

// TempRates returns a copy of the temperature derivatives.
func (h *History) TempRates() []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]float64(nil), h.rates...)
}

// Bursts returns a copy of the bursts inside the window.
func (h *History) Bursts() []Burst {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Burst(nil), h.bursts...)
}

// Downsampled returns at most maxPoints snapshots spread over the window.
// The newest snapshot is always included.
func (h *History) Downsampled(maxPoints int) []amp.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := sample.Downsample(nil, h.snaps, maxPoints)
	if n := len(out); n > 0 && len(h.snaps) > 0 {
		out[n-1] = h.snaps[len(h.snaps)-1]
	}
	return out
}

// Latest returns the newest snapshot.
func (h *History) Latest() (amp.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snaps) == 0 {
		return amp.Snapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// OnUpdate registers a callback invoked after every recorded snapshot with
// copies of the window. Callbacks should return quickly.
func (h *History) OnUpdate(cb func(snaps []amp.Snapshot, rates []float64, bursts []Burst)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

func (h *History) notify() {
	h.cbMu.RLock()
	var callbacks []func([]amp.Snapshot, []float64, []Burst)
	callbacks = append(callbacks, h.callbacks...)
	h.cbMu.RUnlock()
	if len(callbacks) == 0 {
		return
	}

	snaps, rates, bursts := h.Snapshots(), h.TempRates(), h.Bursts()
	for _, cb := range callbacks {
		if cb != nil {
			cb(snaps, rates, bursts)
		}
	}
}
