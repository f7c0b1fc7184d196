package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumKnownVectors(t *testing.T) {
	// JAMCRC of the empty sequence is the initial register value.
	assert.Equal(t, uint32(0xFFFFFFFF), Checksum(nil))
	assert.Equal(t, uint32(0xFFFFFFFF), Checksum([]byte{}))
	// Standard check string: CRC-32 0xCBF43926, JAMCRC its complement.
	check := []byte("123456789")
	assert.Equal(t, uint32(0x340BC6D9), Checksum(check))
	assert.Equal(t, uint32(0xCBF43926), CRC32.Checksum(check))
	// The two flavors are exact complements for any input.
	assert.Equal(t, ^CRC32.Checksum(check), JAMCRC.Checksum(check))
}

func TestChecksumDeterministic(t *testing.T) {
	p := []byte{0x10, 0x01, 0x00, 0x2A}
	assert.Equal(t, Checksum(p), Checksum(p))
	q := make([]byte, len(p))
	copy(q, p)
	assert.Equal(t, Checksum(p), Checksum(q))
}

func TestFlavorString(t *testing.T) {
	assert.Equal(t, "jamcrc", JAMCRC.String())
	assert.Equal(t, "crc32", CRC32.String())
}
