package fsadapter

import (
	"os"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"github.com/ShySec/pingfs/internal/errs"
)

func TestChildPath(t *testing.T) {
	require.Equal(t, "/foo", childPath("/", "foo"))
	require.Equal(t, "/foo/bar", childPath("/foo", "bar"))
}

func TestAttrToFuseSetsDirBit(t *testing.T) {
	fileAttr := attrToFuse(Attr{Size: 10, Mode: 0o644, UID: 1, GID: 2})
	require.Zero(t, fileAttr.Mode&os.ModeDir)
	require.EqualValues(t, 10, fileAttr.Size)
	require.EqualValues(t, 1, fileAttr.Uid)
	require.EqualValues(t, 2, fileAttr.Gid)

	dirAttr := attrToFuse(Attr{IsDir: true, Mode: 0o755})
	require.NotZero(t, dirAttr.Mode&os.ModeDir)
}

func TestToErrnoMapsAdapterErrorKinds(t *testing.T) {
	cases := []struct {
		kind *errs.Kind
		want error
	}{
		{errs.NotFound, syscall.ENOENT},
		{errs.Exists, syscall.EEXIST},
		{errs.NotDir, syscall.ENOTDIR},
		{errs.IsDir, syscall.EISDIR},
		{errs.NoSpace, syscall.ENOSPC},
		{errs.NotImplemented, syscall.ENOSYS},
	}
	for _, c := range cases {
		err := &AdapterError{Kind: c.kind, Op: "op", Path: "/p"}
		require.Equal(t, c.want, toErrno(err))
	}
}

func TestToErrnoPassesThroughUnwrappedErrors(t *testing.T) {
	require.Nil(t, toErrno(nil))

	err := errOpaque{}
	require.Equal(t, err, toErrno(err))
}

type errOpaque struct{}

func (errOpaque) Error() string { return "opaque" }

func TestMintInodeReusesExistingPath(t *testing.T) {
	fs := &fileSystem{
		paths:       map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		lookupCount: map[fuseops.InodeID]uint64{},
		nextInodeID: fuseops.RootInodeID + 1,
	}

	first := fs.mintInode("/a")
	second := fs.mintInode("/a")
	require.Equal(t, first, second)
	require.Equal(t, uint64(2), fs.lookupCount[first])

	third := fs.mintInode("/b")
	require.NotEqual(t, first, third)
}
