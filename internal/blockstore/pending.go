package blockstore

import (
	"sync"
	"time"
)

type opKind int

const (
	opWrite opKind = iota
	opRead
	opDelete
)

// pendingOp is a single queued Write, Read, or Delete against one block
// ID. It is both an entry in that block's FIFO (blockFIFO.queue) and an
// entry in the timer's expiry queue (see timerqueue.go) — the same
// object, resolved from whichever path reaches it first.
//
// Resolution is idempotent: whichever of the receiver (arrival) or the
// timer (timeout) gets there first wins, and the other becomes a no-op.
type pendingOp struct {
	kind    opKind
	blockID uint32
	payload []byte // Write: bytes to install. Read/Delete: unused.
	expiry  time.Time

	result chan []byte   // Read only: delivers the resolved payload.
	done   chan struct{} // closed exactly once, by resolve().
	once   sync.Once

	heapIndex int // maintained by container/heap; see timerqueue.go
}

func newPendingOp(kind opKind, blockID uint32, timeout time.Duration) *pendingOp {
	return &pendingOp{
		kind:    kind,
		blockID: blockID,
		expiry:  time.Now().Add(timeout),
		result:  make(chan []byte, 1),
		done:    make(chan struct{}),
	}
}

// resolved reports whether this op has already been signalled, without
// blocking.
func (op *pendingOp) resolved() bool {
	select {
	case <-op.done:
		return true
	default:
		return false
	}
}

// resolve signals completion exactly once. For Read ops, payload is
// delivered to callers blocked in Store.Read; for Write/Delete it is
// ignored.
func (op *pendingOp) resolve(payload []byte) {
	op.once.Do(func() {
		if op.kind == opRead {
			op.result <- payload
		}
		close(op.done)
	})
}
