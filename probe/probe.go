// Package probe defines the wire representation of one probe datagram and
// its codec. A probe is a fixed-size buffer whose first HeaderSize bytes
// carry a sequence number and the sender's monotonic timestamp; the rest is
// zero padding up to the session's configured probe size. The reflector
// echoes probes byte for byte, so the timestamp written by the meter
// round-trips intact and can be matched against the receive time.
package probe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the number of bytes occupied by the sequence number and
// the send timestamp. Probe sizes below this value are a configuration
// error and must be rejected before a session starts.
const HeaderSize = 12

// ErrMalformedProbe is returned by Decode when the buffer cannot possibly
// contain a probe header.
var ErrMalformedProbe = errors.New("malformed probe")

// Encode returns a buffer of exactly |size| bytes containing |seq| and
// |ts| in big-endian byte order followed by zero padding. The padding is
// deterministic, so encoding the same inputs twice yields identical bytes.
//
// Callers must validate the probe size at session start; passing a size
// below HeaderSize is a programming error.
func Encode(seq uint32, ts uint64, size int) []byte {
	if size < HeaderSize {
		panic(fmt.Sprintf("probe size %d below header size %d", size, HeaderSize))
	}
	b := make([]byte, size)
	binary.BigEndian.PutUint32(b[0:4], seq)
	binary.BigEndian.PutUint64(b[4:12], ts)
	return b
}

// Decode extracts the sequence number and send timestamp from a reflected
// datagram. It fails with ErrMalformedProbe when the buffer is shorter
// than the header and never reads past len(b). Whole-datagram size
// agreement is the caller's concern: the header carries no length field,
// so the session's configured probe size is the implicit declared size.
func Decode(b []byte) (seq uint32, ts uint64, err error) {
	if len(b) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedProbe, len(b), HeaderSize)
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint64(b[4:12]), nil
}
