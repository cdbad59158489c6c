package ad7124

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	assert.Equal(t, byte(0x42), Command(AddrData, true))
	assert.Equal(t, byte(0x01), Command(AddrAdcControl, false))
	assert.Equal(t, byte(0x7F), Command(0xFF, true))
}

func TestRoundTrip(t *testing.T) {
	patterns := []uint32{0, 0xFFFFFF, 0xA5A5A5, 0x5A5A5A, 0x123456, 0x800000, 0x0F0F0F}

	for _, p := range patterns {
		assert.Equal(t, Status(p&statusMask), DecodeStatus(Status(p&0xFF).Bytes()))
		assert.Equal(t, AdcControl(p&adcControlMask), DecodeAdcControl(AdcControl(p&0xFFFF).Bytes()))
		assert.Equal(t, Channel(p&channelMask), DecodeChannel(Channel(p&0xFFFF).Bytes()))
		assert.Equal(t, Configuration(p&configurationMask), DecodeConfiguration(Configuration(p&0xFFFF).Bytes()))
		assert.Equal(t, Filter(p&filterMask), DecodeFilter(Filter(p).Bytes()))
		assert.Equal(t, Error(p&errorMask), DecodeError(Error(p).Bytes()))
		assert.Equal(t, ErrorEnable(p&errorEnableMask), DecodeErrorEnable(ErrorEnable(p).Bytes()))
		assert.Equal(t, Offset(p), DecodeOffset(Offset(p).Bytes()))
		assert.Equal(t, Gain(p), DecodeGain(Gain(p).Bytes()))
	}
}

func TestBytesWidth(t *testing.T) {
	assert.Len(t, Status(0).Bytes(), SizeStatus)
	assert.Len(t, AdcControl(0).Bytes(), SizeAdcControl)
	assert.Len(t, Channel(0).Bytes(), SizeChannel)
	assert.Len(t, Configuration(0).Bytes(), SizeConfig)
	assert.Len(t, Filter(0).Bytes(), SizeFilter)
	assert.Len(t, Offset(0).Bytes(), SizeOffset)
	assert.Len(t, Gain(0).Bytes(), SizeGain)
	assert.Equal(t, []byte{0x80, 0x00, 0x00}, OffsetDefault.Bytes())
}

func TestDecodeWrongLengthPanics(t *testing.T) {
	assert.Panics(t, func() { DecodeChannel([]byte{1, 2, 3}) })
	assert.Panics(t, func() { DecodeFilter([]byte{1}) })
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, Filter(0x060180), FilterDefault)
	assert.Equal(t, uint16(0x180), FilterDefault.Fs())
	assert.Equal(t, PostFilterDb62, FilterDefault.PostFilter())

	assert.Equal(t, Configuration(0x0860), ConfigurationDefault)
	assert.True(t, ConfigurationDefault.Bipolar())
	assert.Equal(t, Pga1, ConfigurationDefault.Pga())

	assert.Equal(t, Channel(0x8001), ChannelDefault0)
	assert.False(t, ChannelDefault.Enable())
	assert.Equal(t, Ain1, ChannelDefault.AinM())

	assert.True(t, ErrorEnableDefault.Has(ErrEnSpiIgnore))
	assert.False(t, ErrorEnableDefault.Has(ErrEnSpiCrc))
	assert.True(t, GainUndefined.IsUndefined())
	assert.False(t, Gain(0x555555).IsUndefined())
}

func TestFieldsAreIndependent(t *testing.T) {
	c := Channel(0).WithEnable(true).WithSetup(5).WithAinP(AinTemperatureSensor).WithAinM(AinAvss)
	assert.True(t, c.Enable())
	assert.Equal(t, uint8(5), c.Setup())
	assert.Equal(t, AinTemperatureSensor, c.AinP())
	assert.Equal(t, AinAvss, c.AinM())

	c2 := c.WithSetup(9)
	assert.Equal(t, uint8(1), c2.Setup(), "setup is masked to 3 bits")
	assert.Equal(t, uint8(5), c.Setup(), "builders do not mutate the receiver")

	ctl := AdcControl(0).WithMode(ModeSingle).WithPowerMode(PowerFull).WithDataStatus(true).WithClockSource(ClockExternal)
	assert.Equal(t, ModeSingle, ctl.Mode())
	assert.Equal(t, PowerFull, ctl.PowerMode())
	assert.Equal(t, ClockExternal, ctl.ClockSource())
	assert.True(t, ctl.DataStatus())
	assert.False(t, ctl.RefEn())
	assert.Equal(t, ModeStandby, ctl.WithMode(ModeStandby).Mode())
	assert.Equal(t, PowerFull, ctl.WithMode(ModeStandby).PowerMode())

	cfg := ConfigurationDefault.WithBipolar(false).WithRefSel(RefInternal).WithPga(Pga64).WithBurnout(Burnout4uA)
	assert.False(t, cfg.Bipolar())
	assert.Equal(t, RefInternal, cfg.RefSel())
	assert.Equal(t, Pga64, cfg.Pga())
	assert.Equal(t, Burnout4uA, cfg.Burnout())
	assert.True(t, cfg.AinBufP())

	f := Filter(0).WithType(FilterSinc3Fast).WithRej60(true).WithSingleCycle(true).WithFs(2047)
	assert.Equal(t, FilterSinc3Fast, f.Type())
	assert.True(t, f.Rej60())
	assert.True(t, f.SingleCycle())
	assert.Equal(t, uint16(2047), f.Fs())

	st := Status(0).WithRdy(true).WithActiveChannel(11).WithPowerOnReset(true)
	assert.True(t, st.Rdy())
	assert.True(t, st.PowerOnReset())
	assert.False(t, st.ErrorFlag())
	assert.Equal(t, uint8(11), st.ActiveChannel())
}

func TestErrorRegisters(t *testing.T) {
	e := ErrorEnableDefault.With(ErrEnSpiCrc, true).WithLdoCapChk(2)
	assert.True(t, e.Has(ErrEnSpiCrc|ErrEnSpiIgnore))
	assert.Equal(t, uint8(2), e.LdoCapChk())
	assert.False(t, e.With(ErrEnSpiIgnore, false).Has(ErrEnSpiIgnore))

	reserved := Error(1 << 8)
	assert.Equal(t, Error(0), DecodeError(reserved.Bytes()), "reserved bits are masked")
	assert.Equal(t, "spi_crc|spi_ignore", (ErrSpiCrc | ErrSpiIgnore).String())
	assert.Equal(t, "none", Error(0).String())
}

func TestPga(t *testing.T) {
	tests := []struct {
		name string
		pga  Pga
		gain int
		next Pga
		prev Pga
		max  float64
	}{
		{name: "x1", pga: Pga1, gain: 1, next: Pga2, prev: Pga1, max: 2.5},
		{name: "x8", pga: Pga8, gain: 8, next: Pga16, prev: Pga4, max: 0.3125},
		{name: "x128", pga: Pga128, gain: 128, next: Pga128, prev: Pga64, max: 2.5 / 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.gain, tt.pga.Gain())
			assert.Equal(t, tt.next, tt.pga.Next())
			assert.Equal(t, tt.prev, tt.pga.Prev())
			assert.InDelta(t, tt.max, tt.pga.MaxVoltage(), 1e-12)
			assert.Equal(t, tt.name, tt.pga.String())
		})
	}
}

func TestParsePowerMode(t *testing.T) {
	pm, err := ParsePowerMode("full")
	require.NoError(t, err)
	assert.Equal(t, PowerFull, pm)

	_, err = ParsePowerMode("turbo")
	assert.Error(t, err)
}
