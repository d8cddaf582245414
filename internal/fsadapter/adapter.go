// Package fsadapter is the stable, framework-free API that a
// filesystem-in-userspace frontend consumes: it wraps fsmeta.Tree (which
// owns the diskio.Disk) and translates metadata-layer errors into a
// POSIX-flavoured taxonomy.
package fsadapter

import (
	"errors"
	"fmt"

	"github.com/ShySec/pingfs/internal/errs"
	"github.com/ShySec/pingfs/internal/fsmeta"
)

// AdapterError is the POSIX-flavoured error surface: NOT_FOUND / EXISTS /
// NOT_DIR / IS_DIR / NOSPACE / NOT_IMPLEMENTED.
type AdapterError struct {
	Kind *errs.Kind
	Op   string
	Path string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("fsadapter: %s %s: %v", e.Op, e.Path, e.Kind)
}

func (e *AdapterError) Unwrap() error { return e.Kind }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []*errs.Kind{
		errs.NotFound, errs.Exists, errs.NotDir, errs.IsDir,
		errs.NoSpace, errs.NotImplemented, errs.Permission,
	} {
		if errors.Is(err, kind) {
			return &AdapterError{Kind: kind, Op: op, Path: path}
		}
	}
	return fmt.Errorf("fsadapter: %s %s: %w", op, path, err)
}

// Adapter is the stable API the adapter surface offers a frontend. Node
// payloads already live entirely behind fsmeta.Tree (which owns the
// Disk), so the adapter itself only needs the tree.
type Adapter struct {
	tree *fsmeta.Tree

	uid, gid uint16
}

// New constructs an Adapter over tree, using uid/gid as the owner
// stamped on newly created nodes.
func New(tree *fsmeta.Tree, uid, gid uint16) *Adapter {
	return &Adapter{tree: tree, uid: uid, gid: gid}
}

// Attr mirrors fsmeta.Attr; re-exported so callers don't need to import
// fsmeta directly for the common case.
type Attr = fsmeta.Attr

// Getattr returns path's attributes.
func (a *Adapter) Getattr(path string) (Attr, error) {
	attr, err := a.tree.Stat(path)
	return attr, wrap("getattr", path, err)
}

// Readdir lists path's children, including "." and "..".
func (a *Adapter) Readdir(path string) ([]string, error) {
	names, err := a.tree.Readdir(path)
	return names, wrap("readdir", path, err)
}

// Mkdir creates an empty directory.
func (a *Adapter) Mkdir(path string, mode uint16) error {
	_, err := a.tree.Mkdir(path, a.uid, a.gid, mode)
	return wrap("mkdir", path, err)
}

// Rmdir removes an empty directory. Non-empty directories are refused
// by requiring the caller to have unlinked every child first; fsmeta
// itself does not special-case directory emptiness, so the adapter
// checks it explicitly to give a clean EEXIST-flavoured error instead
// of silently orphaning entries.
func (a *Adapter) Rmdir(path string) error {
	names, err := a.tree.Readdir(path)
	if err != nil {
		return wrap("rmdir", path, err)
	}
	if len(names) > 2 {
		return &AdapterError{Kind: errs.Exists, Op: "rmdir", Path: path}
	}
	return wrap("rmdir", path, a.tree.Unlink(path))
}

// Create makes a new regular file at path with an empty payload.
func (a *Adapter) Create(path string, mode uint16) error {
	_, err := a.tree.Create(path, nil, 0, a.uid, a.gid, mode)
	return wrap("create", path, err)
}

// Read returns length bytes of path's content starting at off.
func (a *Adapter) Read(path string, off int64, length int64) ([]byte, error) {
	n, err := a.tree.Get(path)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	if n.IsDir() {
		return nil, &AdapterError{Kind: errs.IsDir, Op: "read", Path: path}
	}
	if off >= int64(len(n.Payload)) {
		return nil, nil
	}
	end := off + length
	if end > int64(len(n.Payload)) {
		end = int64(len(n.Payload))
	}
	return append([]byte(nil), n.Payload[off:end]...), nil
}

// Write stores data at off into path's file, growing it if needed, and
// persists the updated node via fsmeta.
func (a *Adapter) Write(path string, off int64, data []byte) error {
	parent, n, err := a.tree.GetBoth(path)
	if err != nil {
		return wrap("write", path, err)
	}
	if n.IsDir() {
		return &AdapterError{Kind: errs.IsDir, Op: "write", Path: path}
	}

	end := off + int64(len(data))
	if end > int64(len(n.Payload)) {
		grown := make([]byte, end)
		copy(grown, n.Payload)
		n.Payload = grown
	}
	copy(n.Payload[off:end], data)

	return wrap("write", path, a.tree.Update(parent, n, path))
}

// Truncate resizes path's file to size bytes, zero-extending on growth.
func (a *Adapter) Truncate(path string, size int64) error {
	parent, n, err := a.tree.GetBoth(path)
	if err != nil {
		return wrap("truncate", path, err)
	}
	if n.IsDir() {
		return &AdapterError{Kind: errs.IsDir, Op: "truncate", Path: path}
	}

	if size <= int64(len(n.Payload)) {
		n.Payload = n.Payload[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.Payload)
		n.Payload = grown
	}

	return wrap("truncate", path, a.tree.Update(parent, n, path))
}

// Chmod changes path's mode bits.
func (a *Adapter) Chmod(path string, mode uint16) error {
	parent, n, err := a.tree.GetBoth(path)
	if err != nil {
		return wrap("chmod", path, err)
	}
	n.Mode = mode
	return wrap("chmod", path, a.tree.Update(parent, n, path))
}

// Chown changes path's owning uid/gid.
func (a *Adapter) Chown(path string, uid, gid uint16) error {
	parent, n, err := a.tree.GetBoth(path)
	if err != nil {
		return wrap("chown", path, err)
	}
	n.UID, n.GID = uid, gid
	return wrap("chown", path, a.tree.Update(parent, n, path))
}

// Unlink removes a file or empty directory's entry and its on-disk
// region.
func (a *Adapter) Unlink(path string) error {
	return wrap("unlink", path, a.tree.Unlink(path))
}

// Rename moves oldPath to newPath.
func (a *Adapter) Rename(oldPath, newPath string) error {
	return wrap("rename", oldPath, a.tree.Rename(oldPath, newPath))
}

// Hard links, symlinks, extended attributes, utimes and fsync are not
// part of the on-disk model; every caller-facing entry
// point for them returns NOT_IMPLEMENTED.
func notImplemented(op, path string) error {
	return &AdapterError{Kind: errs.NotImplemented, Op: op, Path: path}
}

// Link refuses hard-link creation.
func (a *Adapter) Link(path string) error { return notImplemented("link", path) }

// Symlink refuses symlink creation.
func (a *Adapter) Symlink(path string) error { return notImplemented("symlink", path) }

// Getxattr refuses extended attribute reads.
func (a *Adapter) Getxattr(path string) error { return notImplemented("getxattr", path) }

// Utimes refuses explicit timestamp updates.
func (a *Adapter) Utimes(path string) error { return notImplemented("utimes", path) }

// Fsync is a no-op surfaced as not implemented: every write already
// lands on Disk synchronously, so there is nothing to flush, but the
// operation itself is outside the on-disk model's scope.
func (a *Adapter) Fsync(path string) error { return notImplemented("fsync", path) }
