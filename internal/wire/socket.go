package wire

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ShySec/pingfs/internal/errs"
)

// minRecvBuffer is the smallest SO_RCVBUF PingFS will settle for: the
// receive buffer is enlarged to at least 1 MiB to avoid drops under
// bursty reads.
const minRecvBuffer = 1 << 20

// ErrTimeout is returned by RecvOne when no reply arrives within the
// requested timeout. It is not one of the errs.Kind values because a
// timeout is an expected, routine outcome, not a failure.
var ErrTimeout = errors.New("wire: receive timed out")

// Socket is a raw ICMPv4 socket. Concurrent sends are safe; concurrent
// receives are not — only one goroutine may ever call RecvOne at a time.
type Socket struct {
	fd int
}

// OpenSocket opens a raw ICMPv4 socket and enlarges its receive buffer.
// It fails with errs.Permission if the OS denies raw sockets to this
// process (i.e. it is not running as root / without CAP_NET_RAW).
func OpenSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("%w: opening raw ICMP socket: %v", errs.Permission, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, minRecvBuffer); err != nil {
		// Not fatal: the kernel may silently cap this below our request,
		// or deny it entirely under a restrictive rlimit. Either way the
		// socket is still usable, just more prone to drops under load.
		unix.Close(fd)
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
		if err != nil {
			return nil, fmt.Errorf("%w: reopening raw ICMP socket: %v", errs.Permission, err)
		}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: setting socket nonblocking: %v", errs.Permission, err)
	}

	return &Socket{fd: fd}, nil
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// ResolveHost resolves a hostname or address literal to an IPv4 address.
// Address resolution is the transport layer's responsibility.
func ResolveHost(host string) (net.IP, error) {
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return nil, fmt.Errorf("wire: resolving %q: %w", host, err)
	}
	return addr.IP.To4(), nil
}

// Send builds an Echo Request with the given block ID and payload and
// sends it to dst.
func (s *Socket) Send(dst net.IP, blockID uint32, payload []byte) error {
	pkt := Packet{Type: TypeEchoRequest, Code: Code, BlockID: blockID, Payload: payload}
	b := pkt.Marshal()

	var sa unix.SockaddrInet4
	ip4 := dst.To4()
	if ip4 == nil {
		return fmt.Errorf("wire: destination %v is not an IPv4 address", dst)
	}
	copy(sa.Addr[:], ip4)

	if err := unix.Sendto(s.fd, b, 0, &sa); err != nil {
		return fmt.Errorf("%w: sendto %v: %v", errs.Network, dst, err)
	}
	return nil
}

// RecvOne blocks up to timeout waiting for a single Echo Reply. It
// returns ErrTimeout if nothing valid arrives in time, and a
// errs.CorruptIDZero-wrapped error if the reply's block ID is zero (the
// host corrupted our identifier).
func (s *Socket) RecvOne(timeout time.Duration) (src net.IP, blockID uint32, payload []byte, err error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, 0, nil, ErrTimeout
		}

		pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, perr := unix.Poll(pfd, int(remaining.Milliseconds())+1)
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return nil, 0, nil, fmt.Errorf("%w: poll: %v", errs.Network, perr)
		}
		if n == 0 {
			return nil, 0, nil, ErrTimeout
		}

		buf := make([]byte, 65535)
		nread, from, rerr := unix.Recvfrom(s.fd, buf, 0)
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK || rerr == unix.EINTR {
				continue
			}
			return nil, 0, nil, fmt.Errorf("%w: recvfrom: %v", errs.Network, rerr)
		}

		pkt, peer, ok := parseIPv4ICMP(buf[:nread], from)
		if !ok {
			continue
		}

		if pkt.Type != TypeEchoReply || pkt.Code != Code {
			continue
		}
		if pkt.BlockID == 0 {
			return peer, 0, nil, fmt.Errorf("%w: reply from %v", errs.CorruptIDZero, peer)
		}

		return peer, pkt.BlockID, pkt.Payload, nil
	}
}

// parseIPv4ICMP strips the IPv4 header off a raw-socket read and parses
// the remaining bytes as an ICMP packet. SOCK_RAW with IPPROTO_ICMP
// delivers the IP header along with every received datagram on Linux.
func parseIPv4ICMP(buf []byte, from unix.Sockaddr) (Packet, net.IP, bool) {
	if len(buf) < MinIPv4ICMPLen {
		return Packet{}, nil, false
	}
	if buf[0]>>4 != 4 {
		return Packet{}, nil, false
	}
	ihl := int(buf[0]&0x0f) * 4
	if ihl < 20 || len(buf) < ihl+HeaderLen {
		return Packet{}, nil, false
	}
	const protocolICMP = 1
	if buf[9] != protocolICMP {
		return Packet{}, nil, false
	}

	pkt, err := Unmarshal(buf[ihl:])
	if err != nil {
		return Packet{}, nil, false
	}

	var peer net.IP
	if sa4, ok := from.(*unix.SockaddrInet4); ok {
		peer = net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
	} else {
		peer = net.IPv4(buf[12], buf[13], buf[14], buf[15])
	}

	return pkt, peer, true
}
