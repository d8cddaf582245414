package diskio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBlocks is an in-memory stand-in for a blockstore.Store: block IDs
// map directly to fixed-size payload slices, with no network or timing
// behaviour at all.
type fakeBlocks struct {
	mu        sync.Mutex
	blockSize int
	data      map[uint32][]byte
}

func newFakeBlocks(blockSize int) *fakeBlocks {
	return &fakeBlocks{blockSize: blockSize, data: make(map[uint32][]byte)}
}

func (f *fakeBlocks) Read(blockID uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[blockID]
	if !ok {
		return make([]byte, f.blockSize), nil
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeBlocks) Write(blockID uint32, payload []byte) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, f.blockSize)
	copy(cp, payload)
	f.data[blockID] = cp
	done := make(chan struct{})
	close(done)
	return done, nil
}

func (f *fakeBlocks) Delete(blockID uint32) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, blockID)
	done := make(chan struct{})
	close(done)
	return done, nil
}

func TestPartialReadModifyWrite(t *testing.T) {
	const blockSize = 4
	blocks := newFakeBlocks(blockSize)
	d := New(blocks, blockSize)

	original := "1234567890123456789_123456789012345"
	require.Len(t, original, 35)
	require.NoError(t, d.Write(0, []byte(original)))

	got, err := d.Read(0, 35)
	require.NoError(t, err)
	require.Equal(t, original, string(got))

	require.NoError(t, d.Write(10, []byte("abcdefghijk")))

	got, err = d.Read(0, 35)
	require.NoError(t, err)

	want := original[:10] + "abcdefghijk" + original[21:]
	require.Equal(t, want, string(got))
}

func TestDisjointRegionsSurvive(t *testing.T) {
	const blockSize = 4
	blocks := newFakeBlocks(blockSize)
	d := New(blocks, blockSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, d.Write(0, []byte("A")))
	}()
	go func() {
		defer wg.Done()
		big := make([]byte, 16384)
		for i := range big {
			big[i] = 'B'
		}
		require.NoError(t, d.Write(5000, big))
	}()
	wg.Wait()

	got, err := d.Read(0, 1)
	require.NoError(t, err)
	require.Equal(t, "A", string(got))

	got, err = d.Read(5000, 16384)
	require.NoError(t, err)
	for _, c := range got {
		require.Equal(t, byte('B'), c)
	}
}

func TestReadAcrossUnwrittenBlocksIsZero(t *testing.T) {
	const blockSize = 8
	blocks := newFakeBlocks(blockSize)
	d := New(blocks, blockSize)

	got, err := d.Read(3, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for _, c := range got {
		require.Equal(t, byte(0), c)
	}
}

func TestDeleteSpansBlocks(t *testing.T) {
	const blockSize = 4
	blocks := newFakeBlocks(blockSize)
	d := New(blocks, blockSize)

	require.NoError(t, d.Write(0, []byte("0123456789")))
	require.NoError(t, d.Delete(0, 10))

	got, err := d.Read(0, 10)
	require.NoError(t, err)
	for _, c := range got {
		require.Equal(t, byte(0), c)
	}
}
