// Package blockstore implements the Echo-Loop Block Store (L1): it
// keeps a set of numbered, fixed-size blocks alive in the network by
// cycling one Echo Request/Reply per block ID, per round trip.
package blockstore

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/syncutil"

	"github.com/ShySec/pingfs/internal/errs"
	"github.com/ShySec/pingfs/internal/pinglog"
	"github.com/ShySec/pingfs/internal/wire"
)

// MaxBlockID is the block ID ceiling: block IDs are capped at 2^28.
const MaxBlockID = 1 << 28

// transport is the slice of *wire.Socket the block store depends on.
// Tests substitute an in-memory loopback fake so the full receiver/timer
// machinery runs without a real raw socket or root privilege.
type transport interface {
	Send(dst net.IP, blockID uint32, payload []byte) error
	RecvOne(timeout time.Duration) (src net.IP, blockID uint32, payload []byte, err error)
}

// blockFIFO is the per-block-ID queue of not-yet-resolved operations,
// resolved strictly in arrival order.
type blockFIFO struct {
	queue []*pendingOp
}

// Stats are point-in-time counters attached to the Store itself rather
// than living as process-wide mutable globals.
type Stats struct {
	Sent          int64
	Received      int64
	NetworkErrors int64
	CorruptZero   int64
	Live          int64
}

// Store is the Echo-Loop Block Store. It must be calibrated with
// Calibrate and started with Start before Read/Write/Delete are called.
type Store struct {
	sock   transport
	server net.IP

	blockSize int
	tOp       time.Duration
	rtt       time.Duration

	mu     sync.Mutex
	blocks map[uint32]*blockFIFO

	listenersMu sync.Mutex
	listeners   []*listenerEntry

	timerMu sync.Mutex
	timer   timerQueue
	wake    chan struct{}

	sent          atomic.Int64
	received      atomic.Int64
	networkErrors atomic.Int64
	corruptZero   atomic.Int64
	live          atomic.Int64
}

// New constructs a Store bound to an already-open socket. Calibrate must
// be called before Start.
func New(sock *wire.Socket) *Store {
	return newStore(sock)
}

func newStore(sock transport) *Store {
	return &Store{
		sock:   sock,
		blocks: make(map[uint32]*blockFIFO),
		wake:   make(chan struct{}, 1),
	}
}

// BlockSize returns the negotiated block payload size, valid after
// Calibrate succeeds.
func (s *Store) BlockSize() int { return s.blockSize }

// OpTimeout returns T_op, the internal operational timeout.
func (s *Store) OpTimeout() time.Duration { return s.tOp }

// SafeTimeout is 3x T_op: the minimum window in which every currently
// cycling block should be observed at least once.
func (s *Store) SafeTimeout() time.Duration { return 3 * s.tOp }

// Stats returns a point-in-time snapshot of the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Sent:          s.sent.Load(),
		Received:      s.received.Load(),
		NetworkErrors: s.networkErrors.Load(),
		CorruptZero:   s.corruptZero.Load(),
		Live:          s.live.Load(),
	}
}

// Start launches the receiver and timer as a syncutil.Bundle, so an
// error in either cancels and waits for the other, and returns a stop
// function that cancels both and waits for them to exit.
func (s *Store) Start(ctx context.Context) (stop func() error) {
	childCtx, cancel := context.WithCancel(ctx)
	b := syncutil.NewBundle(childCtx)

	b.Add(func(ctx context.Context) error {
		err := s.runReceiver(ctx)
		if err != nil {
			cancel()
		}
		return err
	})

	b.Add(func(ctx context.Context) error {
		s.runTimer(ctx)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- b.Join() }()

	return func() error {
		cancel()
		return <-done
	}
}

// Write registers block id with the given payload (padded with zeros up
// to the negotiated block size). It returns a channel that closes once
// the write has taken effect — either because a reply cycled it in, or
// because it bootstrapped via timeout — which callers may ignore for a
// fire-and-forget write.
func (s *Store) Write(blockID uint32, payload []byte) (<-chan struct{}, error) {
	if blockID == 0 {
		return nil, fmt.Errorf("blockstore: block id 0 is reserved")
	}
	if len(payload) > s.blockSize {
		return nil, fmt.Errorf("blockstore: payload of %d bytes exceeds block size %d", len(payload), s.blockSize)
	}

	op := newPendingOp(opWrite, blockID, s.tOp)
	op.payload = padToBlockSize(payload, s.blockSize)

	s.enqueue(op)
	return op.done, nil
}

// Read returns the current payload of block id, blocking until it is
// resolved by a reply drain or by its read timeout (which delivers a
// zero-filled block). A block with no in-flight exchange reads as all
// zeros.
func (s *Store) Read(blockID uint32) ([]byte, error) {
	if blockID == 0 {
		return nil, fmt.Errorf("blockstore: block id 0 is reserved")
	}

	op := newPendingOp(opRead, blockID, s.tOp)
	s.enqueue(op)
	return <-op.result, nil
}

// Delete stops re-sending block id, starving it out of the network.
// The returned channel closes once the delete has been applied.
func (s *Store) Delete(blockID uint32) (<-chan struct{}, error) {
	if blockID == 0 {
		return nil, fmt.Errorf("blockstore: block id 0 is reserved")
	}

	op := newPendingOp(opDelete, blockID, s.tOp)
	s.enqueue(op)
	return op.done, nil
}

func (s *Store) enqueue(op *pendingOp) {
	s.mu.Lock()
	fifo := s.blocks[op.blockID]
	if fifo == nil {
		fifo = &blockFIFO{}
		s.blocks[op.blockID] = fifo
	}
	fifo.queue = compactResolved(fifo.queue)
	fifo.queue = append(fifo.queue, op)
	s.mu.Unlock()

	s.timerMu.Lock()
	s.timer.push(op)
	s.timerMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func compactResolved(queue []*pendingOp) []*pendingOp {
	out := queue[:0]
	for _, op := range queue {
		if !op.resolved() {
			out = append(out, op)
		}
	}
	return out
}

// runReceiver is the single goroutine permitted to read the socket. It
// loops forever, waiting up to T_op for a reply.
func (s *Store) runReceiver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, blockID, payload, err := s.sock.RecvOne(s.tOp)
		if err != nil {
			if err == wire.ErrTimeout {
				continue
			}
			if errs.Is(err, errs.CorruptIDZero) {
				s.corruptZero.Add(1)
				pinglog.Errorf("blockstore: %v", err)
				return err
			}
			s.networkErrors.Add(1)
			pinglog.Warnf("blockstore: receive error: %v", err)
			continue
		}

		s.received.Add(1)
		s.arrival(blockID, payload)
	}
}

// arrival implements the receiver's post-reply logic, and is also
// invoked synthetically by a Write-timeout bootstrap.
func (s *Store) arrival(blockID uint32, payload []byte) {
	s.mu.Lock()
	fifo := s.blocks[blockID]
	if fifo == nil {
		fifo = &blockFIFO{}
		s.blocks[blockID] = fifo
	}

	effective := payload
	for _, op := range fifo.queue {
		if op.resolved() {
			continue
		}
		switch op.kind {
		case opWrite:
			effective = op.payload
			op.resolve(nil)
		case opRead:
			if len(payload) > 0 {
				op.resolve(append([]byte(nil), payload...))
			} else {
				op.resolve(zeroBlock(s.blockSize))
			}
		case opDelete:
			effective = nil
			op.resolve(nil)
		}
	}
	fifo.queue = fifo.queue[:0]
	s.mu.Unlock()

	if len(effective) == 0 || isAllZero(effective) {
		s.live.Add(-1)
		return
	}

	s.notifyListeners(blockID)

	if err := s.sock.Send(s.server, blockID, effective); err != nil {
		s.networkErrors.Add(1)
		pinglog.Warnf("blockstore: resend for block %d failed: %v", blockID, err)
		return
	}
	s.sent.Add(1)
}

func zeroBlock(size int) []byte {
	return make([]byte, size)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func padToBlockSize(payload []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, payload)
	return out
}
