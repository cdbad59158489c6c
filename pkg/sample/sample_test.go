package sample

import (
	"math/rand"
	"testing"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meas(ch uint8, volts ...float64) []ad7124.Measurement {
	cfg := ad7124.ConfigurationDefault.WithBipolar(false)
	out := make([]ad7124.Measurement, len(volts))
	for i, v := range volts {
		out[i] = ad7124.Measurement{Channel: ch, Voltage: v, Code: ad7124.Code(v, cfg)}
	}
	return out
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		volts     []float64
		wantV     float64
		wantCount int
	}{
		{name: "single", volts: []float64{1.0}, wantV: 1.0, wantCount: 1},
		{name: "identical", volts: []float64{0.5, 0.5, 0.5, 0.5}, wantV: 0.5, wantCount: 4},
		{name: "close", volts: []float64{1.00, 1.01, 0.99, 1.02, 0.98}, wantV: 1.0, wantCount: 5},
		{name: "spike rejected", volts: []float64{1.00, 1.01, 0.99, 1.00, 1.01, 0.99, 2.5}, wantV: 1.0, wantCount: 6},
		{name: "low spike rejected", volts: []float64{0.2, 1.00, 1.01, 0.99, 1.00, 1.01, 0.99}, wantV: 1.0, wantCount: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Aggregate(meas(0, tt.volts...), ad7124.Pga4)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantV, r.Voltage, 1e-9)
			assert.Equal(t, tt.wantCount, r.Count)
			assert.Equal(t, ad7124.Pga4, r.Pga)
		})
	}
}

func TestAggregate_MeanCodeTruncated(t *testing.T) {
	ms := []ad7124.Measurement{
		{Voltage: 1.0, Code: 10},
		{Voltage: 1.0, Code: 11},
	}
	r, err := Aggregate(ms, ad7124.Pga1)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), r.Code)
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil, ad7124.Pga1)
	assert.ErrorIs(t, err, ErrEmptyAggregation)
}

func TestAggregate_DoesNotModifyInput(t *testing.T) {
	in := meas(1, 3, 1, 2, 9, 2)
	orig := append([]ad7124.Measurement(nil), in...)

	r1, err := Aggregate(in, ad7124.Pga1)
	require.NoError(t, err)
	r2, err := Aggregate(in, ad7124.Pga1)
	require.NoError(t, err)

	assert.Equal(t, orig, in)
	assert.Equal(t, r1, r2)
}

func TestAggregate_Idempotent(t *testing.T) {
	in := meas(2, 1.003, 0.998, 1.001, 1.004, 0.997, 1.002, 0.999, 1.0005, 3.1)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })

	first, err := Aggregate(in, ad7124.Pga2)
	require.NoError(t, err)
	second, err := Aggregate(in, ad7124.Pga2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 8, first.Count, "spike rejected")

	rng.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })
	third, err := Aggregate(in, ad7124.Pga2)
	require.NoError(t, err)
	assert.Equal(t, first, third, "order of samples does not matter")
}

func TestByChannel(t *testing.T) {
	ms := append(meas(0, 1, 2), meas(1, 3)...)
	ms = append(ms, meas(0, 4)...)

	g := ByChannel(ms)
	require.Len(t, g, 2)
	assert.Len(t, g[0], 3)
	assert.InDelta(t, 4.0, g[0][2].Voltage, 1e-9)
	assert.Len(t, g[1], 1)
}
