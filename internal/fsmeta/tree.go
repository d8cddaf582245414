package fsmeta

import (
	"fmt"
	"strings"

	"github.com/ShySec/pingfs/internal/errs"
)

// disk is the slice of diskio.Disk that Tree depends on.
type disk interface {
	Read(offset int64, length int64) ([]byte, error)
	Write(offset int64, data []byte) error
	Delete(offset int64, length int64) error
}

// regionAllocator is the slice of diskio.Allocator that Tree depends on.
type regionAllocator interface {
	GetRegion(byteLen int) (offset int64, ok bool)
	TestRegion(start int64, currentLen, newLen int) (newStart int64, ok bool)
}

// Tree is the FS Metadata layer (L3): path resolution, node lifecycle,
// and directory bookkeeping over a byte-addressable Disk. It caches the
// single most recently resolved directory path.
type Tree struct {
	disk  disk
	alloc regionAllocator

	cachedPath string
	cachedNode *Node

	seq uint64
}

// New constructs a Tree over d and alloc. The caller is responsible for
// having already created the root directory node at inode 0 (see
// InitRoot).
func New(d disk, alloc regionAllocator) *Tree {
	return &Tree{disk: d, alloc: alloc}
}

// InitRoot persists an empty root directory at inode 0, for use when
// mounting a fresh filesystem.
func (t *Tree) InitRoot(uid, gid uint16, mode uint16) error {
	root := &Node{
		Inode: RootInode,
		Type:  TypeDirectory,
		UID:   uid,
		GID:   gid,
		Mode:  mode,
	}
	root.Payload = encodeEntries(nil)
	return t.writeNodeAt(int64(RootInode), root)
}

func (t *Tree) writeNodeAt(offset int64, n *Node) error {
	buf := n.Marshal()
	n.DiskSize = len(buf)
	t.seq++
	n.Seq = t.seq
	return t.disk.Write(offset, buf)
}

// readNodeAt fully reads and parses the node stored at the byte offset
// equal to its inode, reading the header first and then re-reading at
// the full stored size.
func (t *Tree) readNodeAt(offset int64) (*Node, error) {
	header, err := t.disk.Read(offset, fullHeaderLen)
	if err != nil {
		return nil, err
	}
	if len(header) < fullHeaderLen {
		return nil, fmt.Errorf("%w: short node header at offset %d", errs.NotFound, offset)
	}
	hdr, err := UnmarshalHeader(header)
	if err != nil {
		return nil, err
	}

	full, err := t.disk.Read(offset, int64(hdr.DiskSize))
	if err != nil {
		return nil, err
	}
	n, err := UnmarshalFull(full)
	if err != nil {
		return nil, err
	}
	n.DiskSize = hdr.DiskSize

	if n.IsDir() {
		entries, err := decodeEntries(n.Payload)
		if err != nil {
			return nil, err
		}
		n.dirEntries = entries
	}
	return n, nil
}

// splitPath splits a clean, "/"-separated absolute path into its parent
// directory path and its final component. "" and "/" both mean the
// root itself, signalled by ok=false.
func splitPath(path string) (parent, name string, ok bool) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", "", false
	}
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "/", path, true
	}
	return "/" + path[:idx], path[idx+1:], true
}

// Get resolves path to its node. Names are matched byte-identically, no
// normalisation.
func (t *Tree) Get(path string) (*Node, error) {
	_, child, err := t.GetBoth(path)
	return child, err
}

// GetBoth resolves path and returns both its parent directory node and
// the node itself. For the root, parent is nil and child is the root
// node.
func (t *Tree) GetBoth(path string) (parent *Node, child *Node, err error) {
	parentPath, name, ok := splitPath(path)
	if !ok {
		root, err := t.readNodeAt(int64(RootInode))
		if err != nil {
			return nil, nil, err
		}
		return nil, root, nil
	}

	parentNode, err := t.resolveDir(parentPath)
	if err != nil {
		return nil, nil, err
	}

	for _, e := range parentNode.dirEntries {
		if e.Name == name {
			child, err := t.readNodeAt(int64(e.Inode))
			if err != nil {
				return nil, nil, err
			}
			return parentNode, child, nil
		}
	}
	return parentNode, nil, fmt.Errorf("%w: %s", errs.NotFound, path)
}

// resolveDir resolves path to a directory node, serving the
// one-entry cache on a hit.
func (t *Tree) resolveDir(path string) (*Node, error) {
	if t.cachedNode != nil && t.cachedPath == path {
		return t.cachedNode, nil
	}

	parentPath, name, ok := splitPath(path)
	var node *Node
	if !ok {
		root, err := t.readNodeAt(int64(RootInode))
		if err != nil {
			return nil, err
		}
		node = root
	} else {
		parentNode, err := t.resolveDir(parentPath)
		if err != nil {
			return nil, err
		}
		var inode uint32
		found := false
		for _, e := range parentNode.dirEntries {
			if e.Name == name {
				inode, found = e.Inode, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", errs.NotFound, path)
		}
		n, err := t.readNodeAt(int64(inode))
		if err != nil {
			return nil, err
		}
		node = n
	}

	if !node.IsDir() {
		return nil, fmt.Errorf("%w: %s", errs.NotDir, path)
	}

	t.cachedPath = path
	t.cachedNode = node
	return node, nil
}

// invalidateCache drops the one-entry directory cache if it refers to
// inode, used after unlink/rename/relocation touch that node.
func (t *Tree) invalidateCache(inode uint32) {
	if t.cachedNode != nil && t.cachedNode.Inode == inode {
		t.cachedPath = ""
		t.cachedNode = nil
	}
}

// Add persists node, allocating a region for it unless forceInode is
// given, and returns the inode it was stored at.
func (t *Tree) Add(n *Node, forceInode ...uint32) (uint32, error) {
	size := n.size()

	var inode uint32
	if len(forceInode) > 0 {
		inode = forceInode[0]
	} else {
		offset, ok := t.alloc.GetRegion(size)
		if !ok {
			return 0, fmt.Errorf("%w: no region for %d bytes", errs.NoSpace, size)
		}
		inode = uint32(offset)
	}

	n.Inode = inode
	if err := t.writeNodeAt(int64(inode), n); err != nil {
		return 0, err
	}
	return inode, nil
}

// dirParent resolves the parent directory node of the directory at
// dirPath, or nil if dirPath names the root itself (which has none).
func (t *Tree) dirParent(dirPath string) (*Node, error) {
	ancestorPath, _, ok := splitPath(dirPath)
	if !ok {
		return nil, nil
	}
	return t.resolveDir(ancestorPath)
}

// Update persists n's current contents at its existing inode if it
// still fits in its disk_size footprint or can grow in place;
// otherwise it relocates n to a new region and rewrites parent's
// DirEntry to point at the new inode. path is n's own path, needed so
// that a relocation can in turn resolve parent's parent and keep that
// DirEntry correct too, should persisting parent itself also relocate
// it.
func (t *Tree) Update(parent *Node, n *Node, path string) error {
	size := n.size()
	if size <= n.DiskSize {
		return t.writeNodeAt(int64(n.Inode), n)
	}

	// The root is never relocated; it always writes in place regardless
	// of what TestRegion would say.
	if n.Inode == RootInode {
		return t.writeNodeAt(int64(n.Inode), n)
	}

	if newStart, ok := t.alloc.TestRegion(int64(n.Inode), n.DiskSize, size); ok && newStart == int64(n.Inode) {
		return t.writeNodeAt(int64(n.Inode), n)
	}

	return t.relocate(parent, n, path, size)
}

func (t *Tree) relocate(parent *Node, n *Node, path string, size int) error {
	offset, ok := t.alloc.GetRegion(size)
	if !ok {
		return fmt.Errorf("%w: no region for relocation of %d bytes", errs.NoSpace, size)
	}

	oldInode := n.Inode
	n.Inode = uint32(offset)
	if err := t.writeNodeAt(offset, n); err != nil {
		n.Inode = oldInode
		return err
	}

	if parent != nil {
		for i, e := range parent.dirEntries {
			if e.Inode == oldInode {
				parent.dirEntries[i].Inode = n.Inode
				break
			}
		}
		parent.Payload = encodeEntries(parent.dirEntries)

		parentPath, _, ok := splitPath(path)
		if !ok {
			return fmt.Errorf("fsmeta: relocate called with root path %q but a non-nil parent", path)
		}
		grandParent, err := t.dirParent(parentPath)
		if err != nil {
			return err
		}
		if err := t.Update(grandParent, parent, parentPath); err != nil {
			return err
		}
	}

	t.invalidateCache(oldInode)
	return nil
}

// Unlink removes path's DirEntry from its parent and deletes its
// on-disk region. Refuses to unlink the root.
func (t *Tree) Unlink(path string) error {
	parentPath, _, _ := splitPath(path)

	parent, child, err := t.GetBoth(path)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("%w: cannot unlink root", errs.Permission)
	}

	filtered := parent.dirEntries[:0]
	for _, e := range parent.dirEntries {
		if e.Inode != child.Inode {
			filtered = append(filtered, e)
		}
	}
	parent.dirEntries = filtered
	parent.Payload = encodeEntries(parent.dirEntries)

	grandParent, err := t.dirParent(parentPath)
	if err != nil {
		return err
	}
	if err := t.Update(grandParent, parent, parentPath); err != nil {
		return err
	}

	if err := t.disk.Delete(int64(child.Inode), int64(child.DiskSize)); err != nil {
		return err
	}

	t.invalidateCache(child.Inode)
	return nil
}

// Rename moves the node at oldPath to be named the final component of
// newPath under newPath's parent directory. Both parents must already
// exist; the destination must not.
func (t *Tree) Rename(oldPath, newPath string) error {
	oldParentPath, _, _ := splitPath(oldPath)

	oldParent, child, err := t.GetBoth(oldPath)
	if err != nil {
		return err
	}
	if oldParent == nil {
		return fmt.Errorf("%w: cannot rename root", errs.Permission)
	}

	newParentPath, newName, ok := splitPath(newPath)
	if !ok {
		return fmt.Errorf("%w: cannot rename onto root", errs.Permission)
	}
	newParent, err := t.resolveDir(newParentPath)
	if err != nil {
		return err
	}
	for _, e := range newParent.dirEntries {
		if e.Name == newName {
			return fmt.Errorf("%w: %s", errs.Exists, newPath)
		}
	}

	oldFiltered := oldParent.dirEntries[:0]
	for _, e := range oldParent.dirEntries {
		if e.Inode != child.Inode {
			oldFiltered = append(oldFiltered, e)
		}
	}
	oldParent.dirEntries = oldFiltered
	oldParent.Payload = encodeEntries(oldParent.dirEntries)
	oldGrandParent, err := t.dirParent(oldParentPath)
	if err != nil {
		return err
	}
	if err := t.Update(oldGrandParent, oldParent, oldParentPath); err != nil {
		return err
	}

	newParent.dirEntries = append(newParent.dirEntries, DirEntry{Inode: child.Inode, Name: newName})
	newParent.Payload = encodeEntries(newParent.dirEntries)
	newGrandParent, err := t.dirParent(newParentPath)
	if err != nil {
		return err
	}
	if err := t.Update(newGrandParent, newParent, newParentPath); err != nil {
		return err
	}

	t.invalidateCache(oldParent.Inode)
	t.invalidateCache(newParent.Inode)
	return nil
}

// Create allocates a new node for path with payload bytes written
// starting at offset (preceded by offset zero bytes), and adds it to
// its parent directory. The parent must already exist.
func (t *Tree) Create(path string, data []byte, offset int, uid, gid, mode uint16) (*Node, error) {
	parentPath, name, ok := splitPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: cannot create root", errs.Permission)
	}
	parent, err := t.resolveDir(parentPath)
	if err != nil {
		return nil, err
	}
	for _, e := range parent.dirEntries {
		if e.Name == name {
			return nil, fmt.Errorf("%w: %s", errs.Exists, path)
		}
	}

	payload := make([]byte, offset+len(data))
	copy(payload[offset:], data)

	n := &Node{Type: TypeRegular, UID: uid, GID: gid, Mode: mode, Payload: payload}
	inode, err := t.Add(n)
	if err != nil {
		return nil, err
	}

	t.addChild(parent, inode, name)
	grandParent, err := t.dirParent(parentPath)
	if err != nil {
		return nil, err
	}
	if err := t.Update(grandParent, parent, parentPath); err != nil {
		return nil, err
	}
	return n, nil
}

// Mkdir creates an empty directory named by path under its (existing)
// parent.
func (t *Tree) Mkdir(path string, uid, gid, mode uint16) (*Node, error) {
	parentPath, name, ok := splitPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: cannot create root", errs.Permission)
	}
	parent, err := t.resolveDir(parentPath)
	if err != nil {
		return nil, err
	}
	for _, e := range parent.dirEntries {
		if e.Name == name {
			return nil, fmt.Errorf("%w: %s", errs.Exists, path)
		}
	}

	n := &Node{Type: TypeDirectory, UID: uid, GID: gid, Mode: mode}
	n.Payload = encodeEntries(nil)
	inode, err := t.Add(n)
	if err != nil {
		return nil, err
	}

	t.addChild(parent, inode, name)
	grandParent, err := t.dirParent(parentPath)
	if err != nil {
		return nil, err
	}
	if err := t.Update(grandParent, parent, parentPath); err != nil {
		return nil, err
	}
	return n, nil
}

// addChild implements detach-then-append semantics: drop any existing
// entry of the same name (a prior collision, or a caller re-adding),
// then append fresh.
func (t *Tree) addChild(parent *Node, inode uint32, name string) {
	filtered := parent.dirEntries[:0]
	for _, e := range parent.dirEntries {
		if e.Name != name {
			filtered = append(filtered, e)
		}
	}
	parent.dirEntries = append(filtered, DirEntry{Inode: inode, Name: name})
	parent.Payload = encodeEntries(parent.dirEntries)
}

// Attr is a POSIX-shaped attribute snapshot of a node, for the adapter
// surface's getattr. Seq is copied from the node's in-memory write
// stamp; Stat always reads the node fresh from Disk, where that stamp
// is not stored, so Attr.Seq from Stat is always 0.
type Attr struct {
	Inode uint32
	IsDir bool
	Size  uint64
	UID   uint16
	GID   uint16
	Mode  uint16
	Seq   uint64
}

// Stat resolves path and returns its attribute snapshot.
func (t *Tree) Stat(path string) (Attr, error) {
	n, err := t.Get(path)
	if err != nil {
		return Attr{}, err
	}
	return Attr{
		Inode: n.Inode,
		IsDir: n.IsDir(),
		Size:  uint64(len(n.Payload)),
		UID:   n.UID,
		GID:   n.GID,
		Mode:  n.Mode,
		Seq:   n.Seq,
	}, nil
}

// Readdir lists the names directly under path, which must be a
// directory.
func (t *Tree) Readdir(path string) ([]string, error) {
	dir, err := t.resolveDir(cleanDirPath(path))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dir.dirEntries)+2)
	names = append(names, ".", "..")
	for _, e := range dir.dirEntries {
		names = append(names, e.Name)
	}
	return names, nil
}

func cleanDirPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}
