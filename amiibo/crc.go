package amiibo

// Crc32 computes the settings/register self-check checksum. The routine
// mirrors the tag firmware's bit-serial structure: reflected polynomial
// 0xEDB88320, all-ones preset, complemented output, and an empty span
// yielding zero.
func Crc32(data []byte) uint32 {
	const poly = 0xEDB88320

	if len(data) == 0 {
		return 0
	}

	crc := uint32(0xFFFFFFFF)
	for _, input := range data {
		b := uint32(input)
		for step := 0; step < 8; step++ {
			if (crc^b)&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
			b >>= 1
		}
	}
	return ^crc
}

// Crc16 computes the CCITT checksum (polynomial 0x1021, zero preset) used
// for the owner avatar record.
func Crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for step := 0; step < 8; step++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
