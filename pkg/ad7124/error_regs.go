package ad7124

import "strings"

// ErrorEnable is the error enable register. Each flag enables one error source.
type ErrorEnable uint32

// Error enable flags.
const (
	ErrEnRomCrc          ErrorEnable = 1 << 0
	ErrEnMmCrc           ErrorEnable = 1 << 1
	ErrEnSpiCrc          ErrorEnable = 1 << 2
	ErrEnSpiWrite        ErrorEnable = 1 << 3
	ErrEnSpiRead         ErrorEnable = 1 << 4
	ErrEnSpiSclkCnt      ErrorEnable = 1 << 5
	ErrEnSpiIgnore       ErrorEnable = 1 << 6
	ErrEnAldoPsm         ErrorEnable = 1 << 7
	ErrEnAldoPsmTripTest ErrorEnable = 1 << 8
	ErrEnDldoPsm         ErrorEnable = 1 << 9
	ErrEnDldoPsmTripTest ErrorEnable = 1 << 10
	ErrEnRefDet          ErrorEnable = 1 << 11
	ErrEnAinmUv          ErrorEnable = 1 << 12
	ErrEnAinmOv          ErrorEnable = 1 << 13
	ErrEnAinpUv          ErrorEnable = 1 << 14
	ErrEnAinpOv          ErrorEnable = 1 << 15
	ErrEnAdcSat          ErrorEnable = 1 << 16
	ErrEnAdcConv         ErrorEnable = 1 << 17
	ErrEnAdcCal          ErrorEnable = 1 << 18
	ErrEnLdoCapChkTest   ErrorEnable = 1 << 21
	ErrEnMclkCnt         ErrorEnable = 1 << 22
)

const errorEnableMask = 0x7FFFFF

// ErrorEnableDefault is the power-on value.
const ErrorEnableDefault = ErrEnSpiIgnore

// DecodeErrorEnable decodes a 3 byte error enable register.
func DecodeErrorEnable(b []byte) ErrorEnable {
	return ErrorEnable(decodeBE(b, SizeErrorEnable) & errorEnableMask)
}

// Bytes encodes the register.
func (e ErrorEnable) Bytes() []byte { return encodeBE(uint32(e), SizeErrorEnable) }

// Has reports whether all of flags are set.
func (e ErrorEnable) Has(flags ErrorEnable) bool { return e&flags == flags }

// With returns e with flags set or cleared.
func (e ErrorEnable) With(flags ErrorEnable, on bool) ErrorEnable {
	if on {
		return (e | flags) & errorEnableMask
	}
	return e &^ flags
}

// LdoCapChk is the 2 bit LDO capacitor check mode.
func (e ErrorEnable) LdoCapChk() uint8 { return uint8(field(uint32(e), 19, 2)) }

func (e ErrorEnable) WithLdoCapChk(v uint8) ErrorEnable {
	return ErrorEnable(withField(uint32(e), 19, 2, uint32(v)))
}

// Error is the read-only error register.
type Error uint32

// Error flags.
const (
	ErrRomCrc      Error = 1 << 0
	ErrMmCrc       Error = 1 << 1
	ErrSpiCrc      Error = 1 << 2
	ErrSpiWrite    Error = 1 << 3
	ErrSpiRead     Error = 1 << 4
	ErrSpiSclkCnt  Error = 1 << 5
	ErrSpiIgnore   Error = 1 << 6
	ErrAldoPsm     Error = 1 << 7
	ErrDldoPsm     Error = 1 << 9
	ErrRefDet      Error = 1 << 11
	ErrAinmUv      Error = 1 << 12
	ErrAinmOv      Error = 1 << 13
	ErrAinpUv      Error = 1 << 14
	ErrAinpOv      Error = 1 << 15
	ErrAdcSat      Error = 1 << 16
	ErrAdcConv     Error = 1 << 17
	ErrAdcCal      Error = 1 << 18
	ErrLdoCap      Error = 1 << 19
)

const errorMask = 0x0FFAFF

var errorNames = []struct {
	flag Error
	name string
}{
	{ErrRomCrc, "rom_crc"}, {ErrMmCrc, "mm_crc"}, {ErrSpiCrc, "spi_crc"},
	{ErrSpiWrite, "spi_write"}, {ErrSpiRead, "spi_read"}, {ErrSpiSclkCnt, "spi_sclk_cnt"},
	{ErrSpiIgnore, "spi_ignore"}, {ErrAldoPsm, "aldo_psm"}, {ErrDldoPsm, "dldo_psm"},
	{ErrRefDet, "ref_det"}, {ErrAinmUv, "ainm_uv"}, {ErrAinmOv, "ainm_ov"},
	{ErrAinpUv, "ainp_uv"}, {ErrAinpOv, "ainp_ov"}, {ErrAdcSat, "adc_sat"},
	{ErrAdcConv, "adc_conv"}, {ErrAdcCal, "adc_cal"}, {ErrLdoCap, "ldo_cap"},
}

// DecodeError decodes a 3 byte error register, masking reserved bits.
func DecodeError(b []byte) Error { return Error(decodeBE(b, SizeError) & errorMask) }

// Bytes encodes the register.
func (e Error) Bytes() []byte { return encodeBE(uint32(e), SizeError) }

// Has reports whether all of flags are set.
func (e Error) Has(flags Error) bool { return e&flags == flags }

// With returns e with flags set or cleared, masked to the valid bits.
func (e Error) With(flags Error, on bool) Error {
	if on {
		return (e | flags) & errorMask
	}
	return e &^ flags
}

func (e Error) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, n := range errorNames {
		if e.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
