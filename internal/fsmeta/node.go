// Package fsmeta implements the File-System Metadata layer (L3): an
// inode-style on-disk format for files and directories, a path
// resolver with a one-entry cache, and the create/update/unlink/rename
// operations that keep directory entries consistent with node
// relocation.
package fsmeta

import (
	"encoding/binary"
	"fmt"
)

// Type distinguishes a regular file from a directory, as recorded in
// the file header.
type Type uint32

const (
	TypeRegular   Type = 0
	TypeDirectory Type = 1
)

// RootInode is the fixed inode of the root directory. A node with
// inode 0 is never deleted or moved.
const RootInode uint32 = 0

// nodeHeaderLen, fileHeaderLen and dirHeaderLen are the fixed-width
// record prefixes. The node header is 8 bytes: a 4-byte inode followed
// by 4 bytes of padding ahead of the file header, so that node header +
// file header lands on 8+16=24 total.
const (
	nodeHeaderLen = 8
	fileHeaderLen = 16 // payload_length, type, uid, gid, mode, reserved
	dirHeaderLen  = 4  // entry_count
	fullHeaderLen = nodeHeaderLen + fileHeaderLen
)

// Node is a single persisted record: node header + file header, plus
// either raw file bytes or directory entries as its payload. Files and
// directories share one representation rather than a type hierarchy.
type Node struct {
	Inode   uint32
	Type    Type
	UID     uint16
	GID     uint16
	Mode    uint16
	Payload []byte // raw bytes for a regular file; encoded entries for a directory

	// DiskSize is the number of bytes this node occupies on Disk,
	// authoritative for reads: header plus payload as last written or as
	// recorded in the header that was read. Every write resets it to the
	// length just written, so no slack is kept after an in-place shrink.
	DiskSize int

	// dirEntries is the parsed form of Payload for a directory node; kept
	// in sync with Payload by whoever mutates it (encodeEntries/
	// decodeEntries do the actual (de)serialisation).
	dirEntries []DirEntry

	// Seq is a monotonically increasing stamp Tree assigns on every
	// persisted write, standing in for a modification time the on-disk
	// format has no field for. Not persisted; reset to 0 on reload.
	Seq uint64
}

// IsDir reports whether n is a directory.
func (n *Node) IsDir() bool { return n.Type == TypeDirectory }

// size is the node's logical persisted size: header + payload.
func (n *Node) size() int { return fullHeaderLen + len(n.Payload) }

// Marshal encodes n's node header, file header and payload into bytes.
// Directory entries must already be flattened into n.Payload by the
// caller (see encodeEntries).
func (n *Node) Marshal() []byte {
	buf := make([]byte, n.size())
	binary.BigEndian.PutUint32(buf[0:4], n.Inode)
	// buf[4:8] is the node header's padding, left zero.
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(n.Payload)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(n.Type))
	binary.BigEndian.PutUint16(buf[16:18], n.UID)
	binary.BigEndian.PutUint16(buf[18:20], n.GID)
	binary.BigEndian.PutUint16(buf[20:22], n.Mode)
	// buf[22:24] is the file header's reserved field, left zero.
	copy(buf[fullHeaderLen:], n.Payload)
	return buf
}

// UnmarshalHeader parses just the node+file header from the first
// fullHeaderLen bytes of buf, leaving Payload empty; callers that need
// more than header bytes re-read at the returned payload length and
// call UnmarshalFull.
func UnmarshalHeader(buf []byte) (*Node, error) {
	if len(buf) < fullHeaderLen {
		return nil, fmt.Errorf("fsmeta: header needs %d bytes, got %d", fullHeaderLen, len(buf))
	}
	n := &Node{
		Inode: binary.BigEndian.Uint32(buf[0:4]),
		Type:  Type(binary.BigEndian.Uint32(buf[12:16])),
		UID:   binary.BigEndian.Uint16(buf[16:18]),
		GID:   binary.BigEndian.Uint16(buf[18:20]),
		Mode:  binary.BigEndian.Uint16(buf[20:22]),
	}
	pl := payloadLen(buf)
	n.DiskSize = fullHeaderLen + pl
	return n, nil
}

// payloadLen reports how many payload bytes the header (encoded at the
// front of buf) claims to have, so the caller knows how much more to
// read.
func payloadLen(buf []byte) int {
	return int(binary.BigEndian.Uint32(buf[8:12]))
}

// UnmarshalFull parses a node whose buf already contains the full
// persisted record (header + payload).
func UnmarshalFull(buf []byte) (*Node, error) {
	n, err := UnmarshalHeader(buf)
	if err != nil {
		return nil, err
	}
	pl := payloadLen(buf)
	if len(buf) < fullHeaderLen+pl {
		return nil, fmt.Errorf("fsmeta: payload needs %d bytes, got %d", pl, len(buf)-fullHeaderLen)
	}
	n.Payload = append([]byte(nil), buf[fullHeaderLen:fullHeaderLen+pl]...)
	return n, nil
}

// DirEntry is one child binding inside a directory's payload:
// inode(4), name_length(2), name.
type DirEntry struct {
	Inode uint32
	Name  string
}

func (e DirEntry) encodedLen() int { return 4 + 2 + len(e.Name) }

// encodeEntries flattens entries into a directory payload: entry_count
// followed by each DirEntry in order.
func encodeEntries(entries []DirEntry) []byte {
	size := dirHeaderLen
	for _, e := range entries {
		size += e.encodedLen()
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(entries)))
	off := dirHeaderLen
	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[off:off+4], e.Inode)
		binary.BigEndian.PutUint16(buf[off+4:off+6], uint16(len(e.Name)))
		copy(buf[off+6:], e.Name)
		off += e.encodedLen()
	}
	return buf
}

// decodeEntries parses a directory payload produced by encodeEntries.
func decodeEntries(payload []byte) ([]DirEntry, error) {
	if len(payload) < dirHeaderLen {
		return nil, fmt.Errorf("fsmeta: directory payload too short for entry_count")
	}
	count := int(binary.BigEndian.Uint32(payload[0:4]))
	entries := make([]DirEntry, 0, count)
	off := dirHeaderLen
	for i := 0; i < count; i++ {
		if off+6 > len(payload) {
			return nil, fmt.Errorf("fsmeta: truncated directory entry %d", i)
		}
		inode := binary.BigEndian.Uint32(payload[off : off+4])
		nameLen := int(binary.BigEndian.Uint16(payload[off+4 : off+6]))
		off += 6
		if off+nameLen > len(payload) {
			return nil, fmt.Errorf("fsmeta: truncated directory entry name %d", i)
		}
		name := string(payload[off : off+nameLen])
		off += nameLen
		entries = append(entries, DirEntry{Inode: inode, Name: name})
	}
	return entries, nil
}
