// Package frame builds the wire frames accepted by the monitoring peripheral:
// a raw payload followed by a 4-byte little-endian CRC trailer, bounded by a
// fixed capacity. The trailer checksum is CRC-32/JAMCRC by default; see Flavor
// for the complemented variant that one legacy device revision expected.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Capacity is the fixed frame capacity in bytes: 1 address byte +
// 256 one-byte value identifiers + 256 two-byte values + 4 trailer bytes.
const (
	Capacity    = 773
	TrailerSize = 4
	MaxPayload  = Capacity - TrailerSize
)

// ErrOversizedPayload is returned when a payload exceeds MaxPayload.
// Rejected before any transmission begins; there is no partial send.
var ErrOversizedPayload = errors.New("frame: oversized payload")

// Frame is an immutable payload + CRC trailer. The zero value is empty and
// must not be transmitted.
type Frame struct {
	buf []byte
}

// Build frames payload with a JAMCRC trailer. The input is copied; the
// returned frame does not alias it.
func Build(payload []byte) (Frame, error) {
	return BuildWith(JAMCRC, payload)
}

// BuildWith frames payload using the given checksum flavor. The trailer is
// appended after the payload and never overwrites payload bytes.
func BuildWith(flavor Flavor, payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrOversizedPayload, len(payload), MaxPayload)
	}
	buf := make([]byte, len(payload)+TrailerSize)
	copy(buf, payload)
	binary.LittleEndian.PutUint32(buf[len(payload):], flavor.Checksum(payload))
	return Frame{buf: buf}, nil
}

// Bytes returns the wire representation. Callers must not modify it.
func (f Frame) Bytes() []byte { return f.buf }

// TotalLen is the number of bytes on the wire: PayloadLen + TrailerSize.
func (f Frame) TotalLen() int { return len(f.buf) }

// PayloadLen is the caller-supplied payload length (trailer excluded).
func (f Frame) PayloadLen() int {
	if len(f.buf) < TrailerSize {
		return 0
	}
	return len(f.buf) - TrailerSize
}

// Payload returns a view of the payload bytes. Callers must not modify it.
func (f Frame) Payload() []byte {
	if len(f.buf) < TrailerSize {
		return nil
	}
	return f.buf[:len(f.buf)-TrailerSize]
}

// CRC decodes the trailer checksum.
func (f Frame) CRC() uint32 {
	if len(f.buf) < TrailerSize {
		return 0
	}
	return binary.LittleEndian.Uint32(f.buf[len(f.buf)-TrailerSize:])
}
