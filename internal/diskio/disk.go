// Package diskio implements the byte-addressable Disk (L2): it
// translates byte-granular read/write/delete into block operations
// against the Echo-Loop Block Store, with read-modify-write on partial
// blocks.
package diskio

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// blockReaderWriter is the slice of blockstore.Store that Disk depends
// on. Defined as an interface so tests can substitute an in-memory fake
// without spinning up the full ICMP stack.
type blockReaderWriter interface {
	Read(blockID uint32) ([]byte, error)
	Write(blockID uint32, payload []byte) (<-chan struct{}, error)
	Delete(blockID uint32) (<-chan struct{}, error)
}

// Disk is the byte-addressable view over a block store. Byte 0 lives in
// block 1; block 0 is reserved.
type Disk struct {
	store     blockReaderWriter
	blockSize int
}

// New constructs a Disk over store, whose negotiated block size is
// blockSize.
func New(store blockReaderWriter, blockSize int) *Disk {
	return &Disk{store: store, blockSize: blockSize}
}

// BlockSize returns the negotiated block payload size.
func (d *Disk) BlockSize() int { return d.blockSize }

// block maps a byte offset to its 1-based block ID: block(i) =
// floor(i/B) + 1.
func (d *Disk) block(offset int64) uint32 {
	return uint32(offset/int64(d.blockSize)) + 1
}

// blockRange returns the inclusive [b0, b1] block range covering
// [offset, offset+length), lowering b1 by one when the span ends
// exactly on a block boundary.
func (d *Disk) blockRange(offset int64, length int64) (b0, b1 uint32) {
	if length <= 0 {
		b0 = d.block(offset)
		return b0, b0
	}
	b0 = d.block(offset)
	end := offset + length
	b1 = d.block(end - 1)
	return b0, b1
}

// Read reassembles length bytes starting at offset, issuing one parallel
// blockstore Read per covering block. A missing block reads as zeros.
func (d *Disk) Read(offset int64, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	b0, b1 := d.blockRange(offset, length)
	n := int(b1-b0) + 1

	buf := make([][]byte, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i, blockID := i, b0+uint32(i)
		g.Go(func() error {
			payload, err := d.store.Read(blockID)
			if err != nil {
				return fmt.Errorf("diskio: read block %d: %w", blockID, err)
			}
			buf[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	whole := make([]byte, 0, n*d.blockSize)
	for _, b := range buf {
		whole = append(whole, padOrTrim(b, d.blockSize)...)
	}

	start := offset - int64(b0-1)*int64(d.blockSize)
	end := start + length
	if end > int64(len(whole)) {
		end = int64(len(whole))
	}
	if start > int64(len(whole)) {
		start = int64(len(whole))
	}
	return whole[start:end], nil
}

// Write performs a three-phase read-modify-write: the first and last
// block merge with their existing contents when the write doesn't
// cover them fully; every block in between is written outright.
func (d *Disk) Write(offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	b0, b1 := d.blockRange(offset, int64(len(data)))
	intraOffset := int(offset - int64(b0-1)*int64(d.blockSize))

	if b0 == b1 {
		return d.writeMerged(b0, intraOffset, data)
	}

	firstLen := d.blockSize - intraOffset
	if err := d.writeMerged(b0, intraOffset, data[:firstLen]); err != nil {
		return err
	}

	for blockID := b0 + 1; blockID < b1; blockID++ {
		sliceStart := int64(blockID-b0)*int64(d.blockSize) - int64(intraOffset)
		sliceEnd := sliceStart + int64(d.blockSize)
		if err := d.writeBlock(blockID, data[sliceStart:sliceEnd]); err != nil {
			return err
		}
	}

	lastSliceStart := int64(b1-b0)*int64(d.blockSize) - int64(intraOffset)
	return d.writeMerged(b1, 0, data[lastSliceStart:])
}

// writeMerged writes tail at intraOffset within blockID, reading and
// merging the block's existing contents first unless tail fills the
// block outright from offset 0.
func (d *Disk) writeMerged(blockID uint32, intraOffset int, tail []byte) error {
	if intraOffset == 0 && len(tail) >= d.blockSize {
		return d.writeBlock(blockID, tail[:d.blockSize])
	}

	existing, err := d.store.Read(blockID)
	if err != nil {
		return fmt.Errorf("diskio: rmw read block %d: %w", blockID, err)
	}
	merged := padOrTrim(existing, d.blockSize)
	copy(merged[intraOffset:], tail)
	return d.writeBlock(blockID, merged)
}

func (d *Disk) writeBlock(blockID uint32, payload []byte) error {
	_, err := d.store.Write(blockID, payload)
	if err != nil {
		return fmt.Errorf("diskio: write block %d: %w", blockID, err)
	}
	return nil
}

// Delete issues a coarse, block-granular Delete for every block
// overlapping [offset, offset+length); it does not preserve partial
// block neighbours.
func (d *Disk) Delete(offset int64, length int64) error {
	if length <= 0 {
		return nil
	}
	b0, b1 := d.blockRange(offset, length)
	for blockID := b0; blockID <= b1; blockID++ {
		if _, err := d.store.Delete(blockID); err != nil {
			return fmt.Errorf("diskio: delete block %d: %w", blockID, err)
		}
	}
	return nil
}

func padOrTrim(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, b)
	return out
}
