package blockstore

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
	"net"
	"time"

	"github.com/ShySec/pingfs/internal/errs"
	"github.com/ShySec/pingfs/internal/wire"
)

// calibrationTimeout bounds each of the two setup probes.
const calibrationTimeout = 2 * time.Second

// Calibrate runs the two setup probes against host, using opTimeoutHint
// as a starting point for T_op (it is lowered if the measured round
// trip is small enough to require it). On success the Store is ready
// for Start.
func (s *Store) Calibrate(host string, blockSizeHint int, opTimeoutHint time.Duration) error {
	dst, err := wire.ResolveHost(host)
	if err != nil {
		return fmt.Errorf("%w: resolving %q: %v", errs.Setup, host, err)
	}

	rtt, err := s.probeEcho(dst)
	if err != nil {
		return err
	}

	blockSize, err := s.probeBlockSize(dst, blockSizeHint)
	if err != nil {
		return err
	}

	s.server = dst
	s.blockSize = blockSize
	s.rtt = rtt

	// T_op must be smaller than the measured round trip so we re-send
	// before the host's own reply is considered lost.
	tOp := opTimeoutHint
	if ceiling := rtt * 8 / 10; tOp >= rtt && ceiling > 0 {
		tOp = ceiling
	}
	s.tOp = tOp

	return nil
}

// probeEcho sends a random-ID echo carrying a timestamp and requires an
// identical payload and ID back, recording the round trip.
func (s *Store) probeEcho(dst net.IP) (time.Duration, error) {
	id := randomNonZeroID()
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(time.Now().UnixNano()))

	start := time.Now()
	if err := s.sock.Send(dst, id, payload); err != nil {
		return 0, fmt.Errorf("%w: probe 1 send: %v", errs.Setup, err)
	}

	_, gotID, gotPayload, err := s.sock.RecvOne(calibrationTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: probe 1 receive: %v", errs.Setup, err)
	}
	rtt := time.Since(start)

	if gotID != id {
		return 0, fmt.Errorf("%w: probe 1 id mismatch: sent %d, got %d", errs.Setup, id, gotID)
	}
	if !bytes.Equal(gotPayload, payload) {
		return 0, fmt.Errorf("%w: probe 1 payload corrupted", errs.Setup)
	}

	return rtt, nil
}

// probeBlockSize sends a random-ID echo whose payload is sizeHint copies
// of a random byte; the accepted echo size becomes the authoritative
// block size.
func (s *Store) probeBlockSize(dst net.IP, sizeHint int) (int, error) {
	id := randomNonZeroID()
	var fillByte [1]byte
	if _, err := rand.Read(fillByte[:]); err != nil {
		return 0, fmt.Errorf("%w: probe 2 random fill: %v", errs.Setup, err)
	}
	payload := bytes.Repeat(fillByte[:], sizeHint)

	if err := s.sock.Send(dst, id, payload); err != nil {
		return 0, fmt.Errorf("%w: probe 2 send: %v", errs.Setup, err)
	}

	_, gotID, gotPayload, err := s.sock.RecvOne(calibrationTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: probe 2 receive: %v", errs.Setup, err)
	}
	if gotID != id {
		return 0, fmt.Errorf("%w: probe 2 id mismatch: sent %d, got %d", errs.Setup, id, gotID)
	}
	if len(gotPayload) == 0 {
		return 0, fmt.Errorf("%w: probe 2 returned an empty payload", errs.Setup)
	}
	for _, b := range gotPayload {
		if b != fillByte[0] {
			return 0, fmt.Errorf("%w: probe 2 payload corrupted", errs.Setup)
		}
	}

	return len(gotPayload), nil
}

// randomNonZeroID returns a random 32-bit ID, never zero: block ID 0 is
// forbidden everywhere in this system.
func randomNonZeroID() uint32 {
	for {
		id := mathrand.Uint32()
		if id != 0 {
			return id
		}
	}
}
