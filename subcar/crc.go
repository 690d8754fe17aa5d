package subcar

// CRC8 computes an MSB-first CRC-8 with the given polynomial and initial value
func CRC8(data []byte, poly, init byte) byte {
	crc := init
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16 computes an MSB-first CRC-16 with the given polynomial and initial value
func CRC16(data []byte, poly, init uint16) uint16 {
	crc := init
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
