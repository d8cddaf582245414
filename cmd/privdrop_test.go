package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOwnerSubstitutesCurrentProcess(t *testing.T) {
	uid, gid := resolveOwner(-1, -1)
	require.Equal(t, uint16(os.Getuid()), uid)
	require.Equal(t, uint16(os.Getgid()), gid)
}

func TestResolveOwnerKeepsExplicitValues(t *testing.T) {
	uid, gid := resolveOwner(1000, 2000)
	require.Equal(t, uint16(1000), uid)
	require.Equal(t, uint16(2000), gid)
}

func TestResolveOwnerMixedSentinel(t *testing.T) {
	uid, gid := resolveOwner(42, -1)
	require.Equal(t, uint16(42), uid)
	require.Equal(t, uint16(os.Getgid()), gid)
}

func TestDropPrivilegesNoopWhenUnset(t *testing.T) {
	require.NoError(t, dropPrivileges(-1, -1))
}
