package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	p := Packet{Type: TypeEchoRequest, Code: Code, BlockID: 42, Payload: []byte("hello pingfs")}

	got, err := Unmarshal(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p.Type, got.Type)
	require.Equal(t, p.Code, got.Code)
	require.Equal(t, p.BlockID, got.BlockID)
	require.Equal(t, p.Payload, got.Payload)
}

func TestMarshalUnmarshalOddLengthPayload(t *testing.T) {
	p := Packet{Type: TypeEchoReply, BlockID: 7, Payload: []byte("odd")}

	got, err := Unmarshal(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p.Payload, got.Payload)
}

func TestUnmarshalRejectsShortPacket(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestUnmarshalRejectsCorruptChecksum(t *testing.T) {
	b := Packet{Type: TypeEchoRequest, BlockID: 1, Payload: []byte("abc")}.Marshal()
	b[len(b)-1] ^= 0xff

	_, err := Unmarshal(b)
	require.Error(t, err)
}

func TestChecksumEvenAndOddLength(t *testing.T) {
	even := Checksum([]byte{0, 1, 0, 1})
	odd := Checksum([]byte{0, 1, 0, 1, 1})
	require.NotEqual(t, even, odd)
}

func TestChecksumAllOnesForAllZeroInput(t *testing.T) {
	require.Equal(t, uint16(0xffff), Checksum(make([]byte, 8)))
}
