package fsadapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShySec/pingfs/internal/fsmeta"
)

// fakeDisk mirrors fsmeta's test fake: an in-memory offset-keyed store.
type fakeDisk struct {
	data map[int64][]byte
}

func newFakeDisk() *fakeDisk { return &fakeDisk{data: make(map[int64][]byte)} }

func (d *fakeDisk) Read(offset int64, length int64) ([]byte, error) {
	buf, ok := d.data[offset]
	if !ok {
		return make([]byte, length), nil
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

func (d *fakeDisk) Write(offset int64, data []byte) error {
	d.data[offset] = append([]byte(nil), data...)
	return nil
}

func (d *fakeDisk) Delete(offset int64, length int64) error {
	delete(d.data, offset)
	return nil
}

type fakeAllocator struct {
	blockSize int
	next      int64
}

func (a *fakeAllocator) GetRegion(byteLen int) (int64, bool) {
	blocks := (byteLen + a.blockSize - 1) / a.blockSize
	if blocks == 0 {
		blocks = 1
	}
	start := a.next
	a.next += int64(blocks) * int64(a.blockSize)
	return start, true
}

func (a *fakeAllocator) TestRegion(start int64, currentLen, newLen int) (int64, bool) {
	currentBlocks := (currentLen + a.blockSize - 1) / a.blockSize
	newBlocks := (newLen + a.blockSize - 1) / a.blockSize
	if newBlocks <= currentBlocks {
		return start, true
	}
	return 0, false
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	const blockSize = 64
	tree := fsmeta.New(newFakeDisk(), &fakeAllocator{blockSize: blockSize, next: blockSize})
	require.NoError(t, tree.InitRoot(0, 0, 0o755))
	return New(tree, 0, 0)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	a := newTestAdapter(t)

	require.NoError(t, a.Create("/note", 0o644))
	require.NoError(t, a.Write("/note", 0, []byte("hello there")))

	got, err := a.Read("/note", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "hello there", string(got))
}

func TestTruncateGrowsWithZeros(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, a.Create("/f", 0o644))
	require.NoError(t, a.Write("/f", 0, []byte("ab")))
	require.NoError(t, a.Truncate("/f", 5))

	got, err := a.Read("/f", 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{'a', 'b', 0, 0, 0}, got)
}

func TestRmdirRefusesNonEmpty(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, a.Mkdir("/d", 0o755))
	require.NoError(t, a.Create("/d/child", 0o644))

	err := a.Rmdir("/d")
	require.Error(t, err)

	require.NoError(t, a.Unlink("/d/child"))
	require.NoError(t, a.Rmdir("/d"))
}

func TestReadOnDirectoryFails(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, a.Mkdir("/d", 0o755))
	_, err := a.Read("/d", 0, 10)
	require.Error(t, err)
}

func TestNotImplementedOperations(t *testing.T) {
	a := newTestAdapter(t)
	require.Error(t, a.Link("/x"))
	require.Error(t, a.Symlink("/x"))
	require.Error(t, a.Getxattr("/x"))
	require.Error(t, a.Utimes("/x"))
	require.Error(t, a.Fsync("/x"))
}
