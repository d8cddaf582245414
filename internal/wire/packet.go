// Package wire implements the ICMP Echo packet format L1 builds and
// parses, and the raw socket it rides on. No retransmission logic lives
// here; that is the Echo-Loop Block Store's job (internal/blockstore).
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// TypeEchoRequest and TypeEchoReply are the only two ICMP types this
	// package ever builds or accepts.
	TypeEchoRequest uint8 = 8
	TypeEchoReply   uint8 = 0

	// Code is always 0 for Echo Request/Reply.
	Code uint8 = 0

	// HeaderLen is type(1) + code(1) + checksum(2) + block_id(4).
	HeaderLen = 8

	// MinIPv4ICMPLen is the minimum byte count of a valid IPv4 packet
	// carrying a one-byte ICMP Echo payload: IP(20) + ICMP(8) + 1.
	MinIPv4ICMPLen = 20 + HeaderLen + 1
)

// Packet is an ICMP Echo Request or Reply carrying a 32-bit block ID in
// place of the usual (identifier, sequence) pair.
//
// Byte order: BlockID is encoded native-endian — this format never
// needs to interoperate with anything but another instance of this
// program, so there is no requirement to match network byte order.
// Marshal and Unmarshal only need to agree with each other.
type Packet struct {
	Type    uint8
	Code    uint8
	BlockID uint32
	Payload []byte
}

// Marshal encodes p into wire bytes with a freshly computed checksum.
func (p Packet) Marshal() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	buf[0] = p.Type
	buf[1] = p.Code
	// buf[2:4] (checksum) left zero for the checksum computation below.
	binary.NativeEndian.PutUint32(buf[4:8], p.BlockID)
	copy(buf[HeaderLen:], p.Payload)

	sum := Checksum(buf)
	binary.BigEndian.PutUint16(buf[2:4], sum)

	return buf
}

// Unmarshal parses wire bytes into a Packet, verifying length and
// checksum. It does not validate Type/Code against what the caller
// expects — RecvOne does that, since only it knows whether a request or
// a reply was expected.
func Unmarshal(b []byte) (Packet, error) {
	if len(b) < HeaderLen {
		return Packet{}, fmt.Errorf("wire: packet too short: %d bytes", len(b))
	}

	wantChecksum := binary.BigEndian.Uint16(b[2:4])

	verify := make([]byte, len(b))
	copy(verify, b)
	verify[2], verify[3] = 0, 0
	gotChecksum := Checksum(verify)

	if gotChecksum != wantChecksum {
		return Packet{}, fmt.Errorf("wire: checksum mismatch: got %#04x, want %#04x", gotChecksum, wantChecksum)
	}

	p := Packet{
		Type:    b[0],
		Code:    b[1],
		BlockID: binary.NativeEndian.Uint32(b[4:8]),
	}
	if len(b) > HeaderLen {
		p.Payload = append([]byte(nil), b[HeaderLen:]...)
	}

	return p, nil
}

// Checksum computes the standard Internet 16-bit ones-complement
// checksum of b, treating b as a sequence of big-endian 16-bit words and
// padding an odd trailing byte with a zero low byte. The caller is
// responsible for zeroing the checksum field before calling this, both
// when building (the field is already zero) and when verifying (the
// caller must re-zero it first).
func Checksum(b []byte) uint16 {
	var sum uint32

	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}

	return ^uint16(sum)
}
