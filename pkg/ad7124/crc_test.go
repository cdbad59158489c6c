package ad7124

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	// CRC-8/SMBUS check value.
	assert.Equal(t, byte(0xF4), Checksum([]byte("123456789")))
	assert.Equal(t, byte(0), Checksum(nil))
	assert.Equal(t, Checksum([]byte{0x01, 0x02, 0x03}), Checksum([]byte{0x01}, []byte{0x02, 0x03}))
}

func TestChecksumSelfCheck(t *testing.T) {
	frames := [][]byte{
		{0x00},
		{0x41, 0x00, 0x00},
		{0x07, 0x00, 0x00, 0x44},
		{0x42, 0x12, 0x34, 0x56, 0x80},
		[]byte("the quick brown fox"),
	}

	for _, f := range frames {
		framed := append(append([]byte(nil), f...), Checksum(f))
		assert.Equal(t, byte(0), Checksum(framed), "frame %x", f)
	}
}
