package blockstore

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShySec/pingfs/internal/wire"
)

// fakeHost is an in-memory loopback echo responder: it immediately
// replies to every Send with the same block ID and payload, the way a
// cooperating remote host would, but without touching a real socket.
// This is what lets the full receiver/timer machinery run in tests.
type fakeHost struct {
	mu      sync.Mutex
	replies chan reply
	corrupt bool // if set, the next reply is sent with block ID 0
}

type reply struct {
	src     net.IP
	blockID uint32
	payload []byte
}

func newFakeHost() *fakeHost {
	return &fakeHost{replies: make(chan reply, 256)}
}

func (f *fakeHost) Send(dst net.IP, blockID uint32, payload []byte) error {
	id := blockID
	f.mu.Lock()
	if f.corrupt {
		id = 0
		f.corrupt = false
	}
	f.mu.Unlock()

	cp := append([]byte(nil), payload...)
	f.replies <- reply{src: dst, blockID: id, payload: cp}
	return nil
}

func (f *fakeHost) RecvOne(timeout time.Duration) (net.IP, uint32, []byte, error) {
	select {
	case r := <-f.replies:
		return r.src, r.blockID, r.payload, nil
	case <-time.After(timeout):
		return nil, 0, nil, wire.ErrTimeout
	}
}

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	host := newFakeHost()
	s := newStore(host)
	s.server = net.IPv4(127, 0, 0, 1)
	s.blockSize = 16
	s.tOp = 30 * time.Millisecond

	stop := s.Start(context.Background())

	return s, func() { _ = stop() }
}

func TestWriteThenReadReturnsPayload(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	done, err := s.Write(7, []byte("coconut"))
	require.NoError(t, err)
	<-done

	got, err := s.Read(7)
	require.NoError(t, err)

	want := make([]byte, 16)
	copy(want, "coconut")
	require.True(t, bytes.Equal(got, want))
}

func TestDeleteThenReadReturnsZeros(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	done, err := s.Write(9, []byte("hello"))
	require.NoError(t, err)
	<-done

	ddone, err := s.Delete(9)
	require.NoError(t, err)
	<-ddone

	got, err := s.Read(9)
	require.NoError(t, err)
	require.True(t, isAllZero(got))
}

func TestWritingAllZerosIsEquivalentToDelete(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	done, err := s.Write(3, bytes.Repeat([]byte{0}, s.blockSize))
	require.NoError(t, err)
	<-done

	time.Sleep(4 * s.tOp)
	require.LessOrEqual(t, s.Stats().Live, int64(0))
}

func TestReadTimeoutDeliversZeroBlock(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	got, err := s.Read(42)
	require.NoError(t, err)
	require.True(t, isAllZero(got))
	require.Len(t, got, s.blockSize)
}

func TestFIFOOrderPerBlock(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	done1, err := s.Write(5, []byte("first"))
	require.NoError(t, err)
	<-done1

	done2, err := s.Write(5, []byte("second"))
	require.NoError(t, err)
	<-done2

	got, err := s.Read(5)
	require.NoError(t, err)
	want := make([]byte, s.blockSize)
	copy(want, "second")
	require.True(t, bytes.Equal(got, want))
}

func TestUsedAndFree(t *testing.T) {
	seen := map[uint32]struct{}{1: {}, 2: {}, 3: {}, 7: {}}
	used := Used(seen)
	require.Equal(t, []Range{{Start: 1, Length: 3}, {Start: 7, Length: 1}}, used)

	free := Free(seen, 10)
	require.Equal(t, []Range{{Start: 4, Length: 3}, {Start: 8, Length: 3}}, free)
}
