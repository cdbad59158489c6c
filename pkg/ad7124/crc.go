package ad7124

const crcPolynomial = 0x07

// Checksum computes the CRC-8 (x^8+x^2+x+1) of the concatenated chunks,
// bit by bit, MSB first, starting from 0. Running it over a frame that ends
// with its own checksum yields 0.
func Checksum(chunks ...[]byte) byte {
	var crc byte
	for _, chunk := range chunks {
		for _, b := range chunk {
			for mask := byte(0x80); mask != 0; mask >>= 1 {
				if (crc&0x80 != 0) != (b&mask != 0) {
					crc = crc<<1 ^ crcPolynomial
				} else {
					crc <<= 1
				}
			}
		}
	}
	return crc
}
