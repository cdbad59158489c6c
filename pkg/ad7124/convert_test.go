package ad7124

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoltage(t *testing.T) {
	bipolar := ConfigurationDefault
	unipolar := ConfigurationDefault.WithBipolar(false)

	assert.InDelta(t, -2.5, Voltage(0, bipolar), 1e-12)
	assert.InDelta(t, 0, Voltage(1<<23, bipolar), 1e-12)
	assert.InDelta(t, 2.5*(1-1.0/(1<<23)), Voltage(CodeMax, bipolar), 1e-12)
	assert.InDelta(t, -2.5/4, Voltage(0, bipolar.WithPga(Pga4)), 1e-12)

	assert.InDelta(t, 0, Voltage(0, unipolar), 1e-12)
	assert.InDelta(t, 2.5, Voltage(CodeMax, unipolar), 1e-6)
	assert.InDelta(t, 2.5/128, Voltage(CodeMax, unipolar.WithPga(Pga128)), 1e-6)
	assert.InDelta(t, 1.25, Voltage(1<<23, unipolar), 1e-12)
}

func TestCode(t *testing.T) {
	unipolar := ConfigurationDefault.WithBipolar(false)

	assert.Equal(t, uint32(0), Code(-1, unipolar))
	assert.Equal(t, uint32(CodeMax), Code(3, unipolar))
	assert.Equal(t, uint32(CodeMax), Code(0.5, unipolar.WithPga(Pga8)), "saturates above full scale")
	assert.Equal(t, uint32(1<<23), Code(0, ConfigurationDefault))

	for _, v := range []float64{0.1, 0.7, 1.9} {
		assert.InDelta(t, v, Voltage(Code(v, unipolar), unipolar), 1e-6)
	}
}
