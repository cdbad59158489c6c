package sample

import (
	"errors"
	"math"
	"sort"

	"github.com/itohio/instamp/pkg/ad7124"
)

// OutlierFactor is how many mean absolute deviations a sample may stray from
// the median before it is rejected.
const OutlierFactor = 3.0

// ErrEmptyAggregation is returned when no samples are left to average.
var ErrEmptyAggregation = errors.New("sample: no samples to aggregate")

// Reading is the robust average of a batch of conversions of one channel.
type Reading struct {
	Voltage float64    // Mean voltage of retained samples (V)
	Code    uint32     // Truncated mean raw code of retained samples
	Pga     ad7124.Pga // Gain the samples were taken with
	Count   int        // Number of retained samples
}

// Aggregate averages samples after discarding outliers. Samples are ranked by
// voltage, the median and the mean absolute deviation from it are computed,
// and only samples within OutlierFactor deviations of the median are kept.
// The input slice is not modified.
func Aggregate(samples []ad7124.Measurement, pga ad7124.Pga) (Reading, error) {
	if len(samples) == 0 {
		return Reading{}, ErrEmptyAggregation
	}

	sorted := make([]ad7124.Measurement, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Voltage < sorted[j].Voltage })

	med := median(sorted)
	var dev float64
	for _, s := range sorted {
		dev += math.Abs(s.Voltage - med)
	}
	dev /= float64(len(sorted))

	var (
		sumV    float64
		sumCode uint64
		n       int
	)
	limit := OutlierFactor * dev
	for _, s := range sorted {
		if math.Abs(s.Voltage-med) > limit {
			continue
		}
		sumV += s.Voltage
		sumCode += uint64(s.Code)
		n++
	}
	if n == 0 {
		return Reading{}, ErrEmptyAggregation
	}

	return Reading{
		Voltage: sumV / float64(n),
		Code:    uint32(sumCode / uint64(n)),
		Pga:     pga,
		Count:   n,
	}, nil
}

// median of samples sorted by voltage.
func median(sorted []ad7124.Measurement) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2].Voltage
	}
	return (sorted[n/2-1].Voltage + sorted[n/2].Voltage) / 2
}

// ByChannel groups measurements by channel keeping their order.
func ByChannel(ms []ad7124.Measurement) map[uint8][]ad7124.Measurement {
	out := make(map[uint8][]ad7124.Measurement)
	for _, m := range ms {
		out[m.Channel] = append(out[m.Channel], m)
	}
	return out
}
