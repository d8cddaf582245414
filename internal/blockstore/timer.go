package blockstore

import (
	"context"
	"time"
)

// runTimer is the single goroutine that owns the expiry queue. It
// sleeps until either the next expiry or a wake signal from enqueue (a
// new, sooner entry arrived).
func (s *Store) runTimer(ctx context.Context) {
	const idleWait = time.Hour

	for {
		s.timerMu.Lock()
		var wait time.Duration
		if top := s.timer.peek(); top != nil {
			wait = time.Until(top.expiry)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = idleWait
		}
		s.timerMu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Store) fireDue() {
	s.timerMu.Lock()
	due := s.timer.popDue(time.Now())
	s.timerMu.Unlock()

	for _, op := range due {
		s.handleTimeout(op)
	}
}

// handleTimeout implements the three per-kind timeout handlers. Every
// path ends with op resolved, so no caller ever blocks forever.
func (s *Store) handleTimeout(op *pendingOp) {
	if op.resolved() {
		return
	}

	switch op.kind {
	case opWrite:
		// The block was not in flight; bootstrap it by synthesising a
		// reply-arrival event with the write's own bytes as payload.
		s.live.Add(1)
		s.arrival(op.blockID, op.payload)
	case opRead:
		op.resolve(zeroBlock(s.blockSize))
	case opDelete:
		// No network effect: the block is already being starved by not
		// being re-sent. The op still resolves so the caller unblocks.
		op.resolve(nil)
	}

	// Idempotent: if arrival() above already resolved op (the normal
	// case for opWrite), this is a no-op.
	op.resolve(nil)
}
