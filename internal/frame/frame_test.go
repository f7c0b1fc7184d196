package frame

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAppendsTrailer(t *testing.T) {
	for _, n := range []int{0, 1, 4, 100, MaxPayload} {
		payload := make([]byte, n)
		_, _ = rand.Read(payload)
		f, err := Build(payload)
		require.NoError(t, err, "payload len %d", n)
		assert.Equal(t, n+TrailerSize, f.TotalLen())
		assert.Equal(t, n, f.PayloadLen())
		assert.LessOrEqual(t, f.TotalLen(), Capacity)
		// Payload bytes are untouched; the trailer follows, never overwrites.
		assert.True(t, bytes.Equal(payload, f.Payload()))
		var want [TrailerSize]byte
		binary.LittleEndian.PutUint32(want[:], Checksum(payload))
		assert.Equal(t, want[:], f.Bytes()[n:])
		assert.Equal(t, Checksum(payload), f.CRC())
	}
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	payload := []byte{1, 2, 3}
	f, err := Build(payload)
	require.NoError(t, err)
	payload[0] = 0xFF
	assert.Equal(t, byte(1), f.Payload()[0])
}

func TestBuildOversized(t *testing.T) {
	ok := make([]byte, MaxPayload)
	if _, err := Build(ok); err != nil {
		t.Fatalf("MaxPayload must be accepted: %v", err)
	}
	for _, n := range []int{MaxPayload + 1, Capacity, Capacity + 1} {
		_, err := Build(make([]byte, n))
		assert.ErrorIs(t, err, ErrOversizedPayload, "payload len %d", n)
	}
}

func TestBuildWithFlavors(t *testing.T) {
	payload := []byte{0xDE, 0xAD}
	jam, err := BuildWith(JAMCRC, payload)
	require.NoError(t, err)
	plain, err := BuildWith(CRC32, payload)
	require.NoError(t, err)
	assert.Equal(t, ^plain.CRC(), jam.CRC())
}

func TestBuildMonitoringRecord(t *testing.T) {
	// 1 address byte, one value-id byte, one two-byte value.
	payload := []byte{0x10, 0x01, 0x00, 0x2A}
	f, err := Build(payload)
	require.NoError(t, err)
	require.Equal(t, 8, f.TotalLen())
	wire := f.Bytes()
	assert.Equal(t, payload, wire[:4])
	crc := Checksum(payload)
	assert.Equal(t, byte(crc), wire[4])
	assert.Equal(t, byte(crc>>8), wire[5])
	assert.Equal(t, byte(crc>>16), wire[6])
	assert.Equal(t, byte(crc>>24), wire[7])
}

func TestZeroFrame(t *testing.T) {
	var f Frame
	assert.Equal(t, 0, f.TotalLen())
	assert.Equal(t, 0, f.PayloadLen())
	assert.Nil(t, f.Payload())
	assert.Equal(t, uint32(0), f.CRC())
}

func BenchmarkBuild(b *testing.B) {
	payload := make([]byte, MaxPayload)
	_, _ = rand.Read(payload)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Build(payload)
	}
}
