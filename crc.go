package sweph

import "sync"

// crcPoly is the CRC-32 generator polynomial (AUTODIN II, Ethernet, FDDI).
const crcPoly = 0x04c11db7

var (
	crcOnce  sync.Once
	crcTable [256]uint32
)

func initCRCTable() {
	for i := range crcTable {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ crcPoly
			} else {
				c <<= 1
			}
		}
		crcTable[i] = c
	}
}

// CRC32 returns the checksum that protects ephemeris file headers: the
// MSB-first CRC-32 with polynomial 0x04C11DB7, initial value 0xFFFFFFFF and
// a final complement.
func CRC32(p []byte) uint32 {
	crcOnce.Do(initCRCTable)
	crc := uint32(0xffffffff)
	for _, c := range p {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^c]
	}
	return ^crc
}
