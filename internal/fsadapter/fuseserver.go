package fsadapter

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ShySec/pingfs/internal/errs"
)

// fileSystem is a thin github.com/jacobsa/fuse binding over Adapter: it
// embeds fuseutil.NotImplementedFileSystem and keeps an InodeID<->path
// registry, since Adapter itself is addressed purely by path.
//
// This type exists only to prove Adapter is sufficient to drive a real
// FUSE mount; it is not where PingFS's interesting logic lives.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	adapter *Adapter

	mu sync.Mutex

	// INVARIANT: paths[fuseops.RootInodeID] == "/"
	paths       map[fuseops.InodeID]string
	lookupCount map[fuseops.InodeID]uint64
	nextInodeID fuseops.InodeID
}

// NewServer builds a fuse.Server that dispatches FUSE requests to
// adapter.
func NewServer(adapter *Adapter) fuse.Server {
	fs := &fileSystem{
		adapter:     adapter,
		paths:       map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		lookupCount: map[fuseops.InodeID]uint64{},
		nextInodeID: fuseops.RootInodeID + 1,
	}
	return fuseutil.NewFileSystemServer(fs)
}

func (fs *fileSystem) pathFor(id fuseops.InodeID) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.paths[id]
}

// mintInode assigns (or reuses) an InodeID for childPath.
func (fs *fileSystem) mintInode(childPath string) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for id, p := range fs.paths {
		if p == childPath {
			fs.lookupCount[id]++
			return id
		}
	}

	id := fs.nextInodeID
	fs.nextInodeID++
	fs.paths[id] = childPath
	fs.lookupCount[id] = 1
	return id
}

func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

func attrToFuse(attr Attr) fuseops.InodeAttributes {
	mode := os.FileMode(attr.Mode)
	if attr.IsDir {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  attr.Size,
		Nlink: 1,
		Mode:  mode,
		Uid:   uint32(attr.UID),
		Gid:   uint32(attr.GID),
	}
}

func toErrno(err error) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.Kind {
	case errs.NotFound:
		return syscall.ENOENT
	case errs.Exists:
		return syscall.EEXIST
	case errs.NotDir:
		return syscall.ENOTDIR
	case errs.IsDir:
		return syscall.EISDIR
	case errs.NoSpace:
		return syscall.ENOSPC
	case errs.NotImplemented:
		return syscall.ENOSYS
	default:
		return err
	}
}

func (fs *fileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath := fs.pathFor(op.Parent)
	child := childPath(parentPath, op.Name)

	attr, err := fs.adapter.Getattr(child)
	if err != nil {
		return toErrno(err)
	}

	op.Entry.Child = fs.mintInode(child)
	op.Entry.Attributes = attrToFuse(attr)
	return nil
}

func (fs *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.adapter.Getattr(fs.pathFor(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = attrToFuse(attr)
	return nil
}

func (fs *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	p := fs.pathFor(op.Inode)

	if op.Size != nil {
		if err := fs.adapter.Truncate(p, int64(*op.Size)); err != nil {
			return toErrno(err)
		}
	}
	if op.Mode != nil {
		if err := fs.adapter.Chmod(p, uint16(*op.Mode)); err != nil {
			return toErrno(err)
		}
	}

	attr, err := fs.adapter.Getattr(p)
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = attrToFuse(attr)
	return nil
}

func (fs *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode == fuseops.RootInodeID {
		return nil
	}
	count := fs.lookupCount[op.Inode]
	if op.N >= count {
		delete(fs.lookupCount, op.Inode)
		delete(fs.paths, op.Inode)
	} else {
		fs.lookupCount[op.Inode] = count - op.N
	}
	return nil
}

func (fs *fileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parentPath := fs.pathFor(op.Parent)
	child := childPath(parentPath, op.Name)

	if err := fs.adapter.Mkdir(child, uint16(op.Mode)); err != nil {
		return toErrno(err)
	}

	attr, err := fs.adapter.Getattr(child)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fs.mintInode(child)
	op.Entry.Attributes = attrToFuse(attr)
	return nil
}

func (fs *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parentPath := fs.pathFor(op.Parent)
	child := childPath(parentPath, op.Name)

	if err := fs.adapter.Create(child, uint16(op.Mode)); err != nil {
		return toErrno(err)
	}

	attr, err := fs.adapter.Getattr(child)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fs.mintInode(child)
	op.Entry.Attributes = attrToFuse(attr)
	return nil
}

func (fs *fileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parentPath := fs.pathFor(op.Parent)
	return toErrno(fs.adapter.Rmdir(childPath(parentPath, op.Name)))
}

func (fs *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parentPath := fs.pathFor(op.Parent)
	return toErrno(fs.adapter.Unlink(childPath(parentPath, op.Name)))
}

func (fs *fileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldPath := childPath(fs.pathFor(op.OldParent), op.OldName)
	newPath := childPath(fs.pathFor(op.NewParent), op.NewName)
	return toErrno(fs.adapter.Rename(oldPath, newPath))
}

func (fs *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	_, err := fs.adapter.Readdir(fs.pathFor(op.Inode))
	return toErrno(err)
}

func (fs *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dirPath := fs.pathFor(op.Inode)
	names, err := fs.adapter.Readdir(dirPath)
	if err != nil {
		return toErrno(err)
	}

	offset := 0
	for i, name := range names {
		if fuseops.DirOffset(i) < op.Offset {
			continue
		}

		de := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  op.Inode,
			Name:   name,
			Type:   fuseutil.DT_Directory,
		}
		if name != "." && name != ".." {
			entryPath := childPath(dirPath, name)
			attr, err := fs.adapter.Getattr(entryPath)
			if err != nil {
				return toErrno(err)
			}
			de.Inode = fs.mintInode(entryPath)
			if !attr.IsDir {
				de.Type = fuseutil.DT_File
			}
		}

		n := fuseutil.WriteDirent(op.Dst[offset:], de)
		if n == 0 {
			break
		}
		offset += n
	}
	op.BytesRead = offset
	return nil
}

func (fs *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	_, err := fs.adapter.Getattr(fs.pathFor(op.Inode))
	return toErrno(err)
}

func (fs *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	data, err := fs.adapter.Read(fs.pathFor(op.Inode), op.Offset, int64(op.Size))
	if err != nil {
		return toErrno(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (fs *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	return toErrno(fs.adapter.Write(fs.pathFor(op.Inode), op.Offset, op.Data))
}
