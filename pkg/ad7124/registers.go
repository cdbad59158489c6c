package ad7124

import "fmt"

// Register addresses.
const (
	AddrStatus      byte = 0x00
	AddrAdcControl  byte = 0x01
	AddrData        byte = 0x02
	AddrIoControl1  byte = 0x03
	AddrIoControl2  byte = 0x04
	AddrID          byte = 0x05
	AddrError       byte = 0x06
	AddrErrorEnable byte = 0x07
	AddrMclkCount   byte = 0x08
	AddrChannel0    byte = 0x09
	AddrConfig0     byte = 0x19
	AddrFilter0     byte = 0x21
	AddrOffset0     byte = 0x29
	AddrGain0       byte = 0x31
)

const (
	// NumChannels is the number of channel registers.
	NumChannels = 16
	// NumSetups is the number of configuration/filter/offset/gain quadruples.
	NumSetups = 8

	commRead = 1 << 6
)

// Register sizes in bytes.
const (
	SizeStatus      = 1
	SizeAdcControl  = 2
	SizeData        = 3
	SizeDataStatus  = 4
	SizeID          = 1
	SizeError       = 3
	SizeErrorEnable = 3
	SizeChannel     = 2
	SizeConfig      = 2
	SizeFilter      = 3
	SizeOffset      = 3
	SizeGain        = 3
)

// ResetCommand is the byte sequence that resets the serial interface and the device.
var ResetCommand = [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Command returns the communications register byte addressing addr.
func Command(addr byte, read bool) byte {
	cmd := addr & 0x3F
	if read {
		cmd |= commRead
	}
	return cmd
}

func field(v uint32, shift, width uint) uint32 {
	return (v >> shift) & (1<<width - 1)
}

func withField(v uint32, shift, width uint, f uint32) uint32 {
	m := uint32(1<<width - 1)
	return v&^(m<<shift) | (f&m)<<shift
}

func withBit(v uint32, bit uint, on bool) uint32 {
	if on {
		return v | 1<<bit
	}
	return v &^ (1 << bit)
}

func decodeBE(b []byte, size int) uint32 {
	if len(b) != size {
		panic(fmt.Sprintf("ad7124: expected %d bytes, got %d", size, len(b)))
	}
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

func encodeBE(v uint32, size int) []byte {
	b := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Status is the read-only status register.
type Status uint8

const statusMask = 0b1101_1111

// DecodeStatus decodes a 1 byte status register.
func DecodeStatus(b []byte) Status { return Status(decodeBE(b, SizeStatus) & statusMask) }

// Bytes encodes the register.
func (s Status) Bytes() []byte { return encodeBE(uint32(s), SizeStatus) }

// Rdy is set while no new conversion result is available.
func (s Status) Rdy() bool             { return field(uint32(s), 7, 1) != 0 }
func (s Status) ErrorFlag() bool       { return field(uint32(s), 6, 1) != 0 }
func (s Status) PowerOnReset() bool    { return field(uint32(s), 4, 1) != 0 }
func (s Status) ActiveChannel() uint8  { return uint8(field(uint32(s), 0, 4)) }
func (s Status) WithRdy(v bool) Status { return Status(withBit(uint32(s), 7, v)) }
func (s Status) WithErrorFlag(v bool) Status {
	return Status(withBit(uint32(s), 6, v))
}
func (s Status) WithPowerOnReset(v bool) Status {
	return Status(withBit(uint32(s), 4, v))
}
func (s Status) WithActiveChannel(ch uint8) Status {
	return Status(withField(uint32(s), 0, 4, uint32(ch)))
}

// OperatingMode selects the ADC conversion mode.
type OperatingMode uint8

const (
	ModeContinuous OperatingMode = iota
	ModeSingle
	ModeStandby
	ModePowerDown
	ModeIdle
	ModeInternalZeroScale
	ModeInternalFullScale
	ModeSystemZeroScale
	ModeSystemFullScale
)

var modeNames = [...]string{
	"continuous", "single", "standby", "power-down", "idle",
	"internal-zero-scale", "internal-full-scale", "system-zero-scale", "system-full-scale",
}

func (m OperatingMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// PowerMode selects the ADC power/speed tradeoff.
type PowerMode uint8

const (
	PowerLow PowerMode = iota
	PowerMid
	PowerFull
)

// ParsePowerMode parses "low", "mid" or "full".
func ParsePowerMode(s string) (PowerMode, error) {
	switch s {
	case "low":
		return PowerLow, nil
	case "mid":
		return PowerMid, nil
	case "full":
		return PowerFull, nil
	}
	return 0, fmt.Errorf("ad7124: unknown power mode %q", s)
}

// ClockSource selects the master clock.
type ClockSource uint8

const (
	ClockInternal ClockSource = iota
	ClockInternalWithOutput
	ClockExternal
	ClockExternalDiv4
)

// AdcControl is the ADC control register.
type AdcControl uint16

const adcControlMask = 0x1FFF

// DecodeAdcControl decodes a 2 byte control register.
func DecodeAdcControl(b []byte) AdcControl {
	return AdcControl(decodeBE(b, SizeAdcControl) & adcControlMask)
}

// Bytes encodes the register.
func (c AdcControl) Bytes() []byte { return encodeBE(uint32(c), SizeAdcControl) }

func (c AdcControl) DoutRdyDel() bool         { return field(uint32(c), 12, 1) != 0 }
func (c AdcControl) ContRead() bool           { return field(uint32(c), 11, 1) != 0 }
func (c AdcControl) DataStatus() bool         { return field(uint32(c), 10, 1) != 0 }
func (c AdcControl) CsEn() bool               { return field(uint32(c), 9, 1) != 0 }
func (c AdcControl) RefEn() bool              { return field(uint32(c), 8, 1) != 0 }
func (c AdcControl) PowerMode() PowerMode     { return PowerMode(field(uint32(c), 6, 2)) }
func (c AdcControl) Mode() OperatingMode      { return OperatingMode(field(uint32(c), 2, 4)) }
func (c AdcControl) ClockSource() ClockSource { return ClockSource(field(uint32(c), 0, 2)) }

func (c AdcControl) WithDoutRdyDel(v bool) AdcControl {
	return AdcControl(withBit(uint32(c), 12, v))
}
func (c AdcControl) WithContRead(v bool) AdcControl {
	return AdcControl(withBit(uint32(c), 11, v))
}
func (c AdcControl) WithDataStatus(v bool) AdcControl {
	return AdcControl(withBit(uint32(c), 10, v))
}
func (c AdcControl) WithCsEn(v bool) AdcControl {
	return AdcControl(withBit(uint32(c), 9, v))
}
func (c AdcControl) WithRefEn(v bool) AdcControl {
	return AdcControl(withBit(uint32(c), 8, v))
}
func (c AdcControl) WithPowerMode(m PowerMode) AdcControl {
	return AdcControl(withField(uint32(c), 6, 2, uint32(m)))
}
func (c AdcControl) WithMode(m OperatingMode) AdcControl {
	return AdcControl(withField(uint32(c), 2, 4, uint32(m)))
}
func (c AdcControl) WithClockSource(s ClockSource) AdcControl {
	return AdcControl(withField(uint32(c), 0, 2, uint32(s)))
}

// Ain selects an analog input for the positive or negative channel terminal.
type Ain uint8

const (
	Ain0 Ain = iota
	Ain1
	Ain2
	Ain3
	Ain4
	Ain5
	Ain6
	Ain7
	Ain8
	Ain9
	Ain10
	Ain11
	Ain12
	Ain13
	Ain14
	Ain15
	AinTemperatureSensor
	AinAvss
	AinInternalRef
	AinDgnd
	AinAvddAvssP
	AinAvddAvssM
	AinIovddDgndP
	AinIovddDgndM
	AinAldoAvssP
	AinAldoAvssM
	AinDldoDgndP
	AinDldoDgndM
	AinV20mVP
	AinV20mVM
)

// Channel is a channel register.
type Channel uint16

const channelMask = 0xF3FF

var (
	// ChannelDefault is the power-on value of channels 1..15.
	ChannelDefault = Channel(0).WithAinP(Ain0).WithAinM(Ain1)
	// ChannelDefault0 is the power-on value of channel 0.
	ChannelDefault0 = ChannelDefault.WithEnable(true)
)

// DecodeChannel decodes a 2 byte channel register.
func DecodeChannel(b []byte) Channel { return Channel(decodeBE(b, SizeChannel) & channelMask) }

// Bytes encodes the register.
func (c Channel) Bytes() []byte { return encodeBE(uint32(c), SizeChannel) }

func (c Channel) Enable() bool { return field(uint32(c), 15, 1) != 0 }

// Setup is the configuration index (0..7) used by this channel.
func (c Channel) Setup() uint8 { return uint8(field(uint32(c), 12, 3)) }
func (c Channel) AinP() Ain    { return Ain(field(uint32(c), 5, 5)) }
func (c Channel) AinM() Ain    { return Ain(field(uint32(c), 0, 5)) }

func (c Channel) WithEnable(v bool) Channel { return Channel(withBit(uint32(c), 15, v)) }
func (c Channel) WithSetup(s uint8) Channel {
	return Channel(withField(uint32(c), 12, 3, uint32(s)))
}
func (c Channel) WithAinP(a Ain) Channel { return Channel(withField(uint32(c), 5, 5, uint32(a))) }
func (c Channel) WithAinM(a Ain) Channel { return Channel(withField(uint32(c), 0, 5, uint32(a))) }

// Burnout selects the burnout current source.
type Burnout uint8

const (
	BurnoutOff Burnout = iota
	Burnout500nA
	Burnout2uA
	Burnout4uA
)

// RefSel selects the reference source of a setup.
type RefSel uint8

const (
	RefIn1 RefSel = iota
	RefIn2
	RefInternal
	RefAvdd
)

// Pga is the programmable gain amplifier setting; gain is 1<<Pga.
type Pga uint8

const (
	Pga1 Pga = iota
	Pga2
	Pga4
	Pga8
	Pga16
	Pga32
	Pga64
	Pga128
)

// Vref is the reference voltage used for conversions.
const Vref = 2.5

// Gain returns the amplification factor.
func (p Pga) Gain() int { return 1 << p }

// Next returns the next higher gain, or p if it is already the highest.
func (p Pga) Next() Pga {
	if p >= Pga128 {
		return Pga128
	}
	return p + 1
}

// Prev returns the next lower gain, or p if it is already the lowest.
func (p Pga) Prev() Pga {
	if p == Pga1 {
		return Pga1
	}
	return p - 1
}

// MaxVoltage is the full scale input voltage at this gain.
func (p Pga) MaxVoltage() float64 { return Vref / float64(p.Gain()) }

func (p Pga) String() string { return fmt.Sprintf("x%d", p.Gain()) }

// Configuration is a setup configuration register.
type Configuration uint16

const configurationMask = 0x0FFF

// ConfigurationDefault is the power-on value.
var ConfigurationDefault = Configuration(0).WithBipolar(true).WithAinBufP(true).WithAinBufM(true)

// DecodeConfiguration decodes a 2 byte configuration register.
func DecodeConfiguration(b []byte) Configuration {
	return Configuration(decodeBE(b, SizeConfig) & configurationMask)
}

// Bytes encodes the register.
func (c Configuration) Bytes() []byte { return encodeBE(uint32(c), SizeConfig) }

func (c Configuration) Bipolar() bool    { return field(uint32(c), 11, 1) != 0 }
func (c Configuration) Burnout() Burnout { return Burnout(field(uint32(c), 9, 2)) }
func (c Configuration) RefBufP() bool    { return field(uint32(c), 8, 1) != 0 }
func (c Configuration) RefBufM() bool    { return field(uint32(c), 7, 1) != 0 }
func (c Configuration) AinBufP() bool    { return field(uint32(c), 6, 1) != 0 }
func (c Configuration) AinBufM() bool    { return field(uint32(c), 5, 1) != 0 }
func (c Configuration) RefSel() RefSel   { return RefSel(field(uint32(c), 3, 2)) }
func (c Configuration) Pga() Pga         { return Pga(field(uint32(c), 0, 3)) }

func (c Configuration) WithBipolar(v bool) Configuration {
	return Configuration(withBit(uint32(c), 11, v))
}
func (c Configuration) WithBurnout(b Burnout) Configuration {
	return Configuration(withField(uint32(c), 9, 2, uint32(b)))
}
func (c Configuration) WithRefBufP(v bool) Configuration {
	return Configuration(withBit(uint32(c), 8, v))
}
func (c Configuration) WithRefBufM(v bool) Configuration {
	return Configuration(withBit(uint32(c), 7, v))
}
func (c Configuration) WithAinBufP(v bool) Configuration {
	return Configuration(withBit(uint32(c), 6, v))
}
func (c Configuration) WithAinBufM(v bool) Configuration {
	return Configuration(withBit(uint32(c), 5, v))
}
func (c Configuration) WithRefSel(r RefSel) Configuration {
	return Configuration(withField(uint32(c), 3, 2, uint32(r)))
}
func (c Configuration) WithPga(p Pga) Configuration {
	return Configuration(withField(uint32(c), 0, 3, uint32(p)))
}

// FilterType selects the digital filter.
type FilterType uint8

const (
	FilterSinc4     FilterType = 0
	FilterSinc3     FilterType = 2
	FilterSinc4Fast FilterType = 4
	FilterSinc3Fast FilterType = 5
	FilterPost      FilterType = 7
)

// PostFilter selects the post filter used with FilterPost.
type PostFilter uint8

const (
	PostFilterNone PostFilter = 0
	PostFilterDb47 PostFilter = 2
	PostFilterDb62 PostFilter = 3
	PostFilterDb86 PostFilter = 5
	PostFilterDb92 PostFilter = 6
)

// Filter is a setup filter register.
type Filter uint32

const filterMask = 0b111_1_111_1_00000_11111111111

// FilterDefault is the power-on value.
var FilterDefault = Filter(0).WithFs(0x180).WithPostFilter(PostFilterDb62)

// DecodeFilter decodes a 3 byte filter register.
func DecodeFilter(b []byte) Filter { return Filter(decodeBE(b, SizeFilter) & filterMask) }

// Bytes encodes the register.
func (f Filter) Bytes() []byte { return encodeBE(uint32(f), SizeFilter) }

func (f Filter) Type() FilterType       { return FilterType(field(uint32(f), 21, 3)) }
func (f Filter) Rej60() bool            { return field(uint32(f), 20, 1) != 0 }
func (f Filter) PostFilter() PostFilter { return PostFilter(field(uint32(f), 17, 3)) }
func (f Filter) SingleCycle() bool      { return field(uint32(f), 16, 1) != 0 }

// Fs is the output data rate divider.
func (f Filter) Fs() uint16 { return uint16(field(uint32(f), 0, 11)) }

func (f Filter) WithType(t FilterType) Filter { return Filter(withField(uint32(f), 21, 3, uint32(t))) }
func (f Filter) WithRej60(v bool) Filter      { return Filter(withBit(uint32(f), 20, v)) }
func (f Filter) WithPostFilter(p PostFilter) Filter {
	return Filter(withField(uint32(f), 17, 3, uint32(p)))
}
func (f Filter) WithSingleCycle(v bool) Filter { return Filter(withBit(uint32(f), 16, v)) }
func (f Filter) WithFs(fs uint16) Filter       { return Filter(withField(uint32(f), 0, 11, uint32(fs))) }

// Offset is a setup offset calibration register.
type Offset uint32

// OffsetDefault is the power-on value.
const OffsetDefault Offset = 0x800000

// DecodeOffset decodes a 3 byte offset register.
func DecodeOffset(b []byte) Offset { return Offset(decodeBE(b, SizeOffset)) }

// Bytes encodes the register.
func (o Offset) Bytes() []byte { return encodeBE(uint32(o), SizeOffset) }

// Gain is a setup gain calibration register.
type Gain uint32

// GainUndefined marks a gain coefficient not read from hardware yet. It lies
// outside the 24 bit register domain and is never written to the device.
const GainUndefined Gain = 0x80000000

// DecodeGain decodes a 3 byte gain register.
func DecodeGain(b []byte) Gain { return Gain(decodeBE(b, SizeGain)) }

// IsUndefined reports whether g is the GainUndefined sentinel.
func (g Gain) IsUndefined() bool { return g == GainUndefined }

// Bytes encodes the register.
func (g Gain) Bytes() []byte { return encodeBE(uint32(g), SizeGain) }
