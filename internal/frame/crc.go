package frame

import "hash/crc32"

// Flavor selects the final-complement convention of the trailer checksum.
// The two legacy driver revisions disagreed here; the peripheral's documented
// convention is JAMCRC, which is the reference flavor.
type Flavor int

const (
	// JAMCRC: IEEE polynomial, register initialized to 0xFFFFFFFF, no final
	// complement. JAMCRC of the empty sequence is 0xFFFFFFFF.
	JAMCRC Flavor = iota
	// CRC32 is the plain variant with the final complement applied.
	CRC32
)

// Checksum computes the CRC-32/JAMCRC of p.
func Checksum(p []byte) uint32 { return JAMCRC.Checksum(p) }

// Checksum computes the 32-bit checksum of p under the flavor's convention.
// Plain CRC-32 is ^register, so JAMCRC is its complement.
func (f Flavor) Checksum(p []byte) uint32 {
	c := crc32.ChecksumIEEE(p)
	if f == CRC32 {
		return c
	}
	return ^c
}

func (f Flavor) String() string {
	if f == CRC32 {
		return "crc32"
	}
	return "jamcrc"
}
