package cfg

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newBoundFlagSet(t *testing.T) *pflag.FlagSet {
	t.Helper()
	viper.Reset()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	return fs
}

func TestValidateRequiresTarget(t *testing.T) {
	c := Config{
		Transport:  TransportConfig{BlockSizeHint: 64, OpTimeout: time.Second},
		FileSystem: FileSystemConfig{Mountpoint: "/mnt/pingfs"},
	}
	require.Error(t, c.Validate())

	c.Transport.Targets = []string{"10.0.0.1"}
	require.NoError(t, c.Validate())
}

func TestValidateRejectsNonPositiveBlockSize(t *testing.T) {
	c := Config{
		Transport:  TransportConfig{Targets: []string{"h"}, BlockSizeHint: 0, OpTimeout: time.Second},
		FileSystem: FileSystemConfig{Mountpoint: "/mnt/pingfs"},
	}
	require.Error(t, c.Validate())
}

func TestValidateRequiresMountpoint(t *testing.T) {
	c := Config{
		Transport: TransportConfig{Targets: []string{"h"}, BlockSizeHint: 64, OpTimeout: time.Second},
	}
	require.Error(t, c.Validate())
}

func TestBindFlagsDefaults(t *testing.T) {
	newBoundFlagSet(t)

	var c Config
	require.NoError(t, viper.Unmarshal(&c))

	require.Equal(t, 1024, c.Transport.BlockSizeHint)
	require.Equal(t, 300*time.Millisecond, c.Transport.OpTimeout)
	require.Equal(t, -1, c.FileSystem.Uid)
	require.Equal(t, -1, c.FileSystem.Gid)
	require.Equal(t, "text", c.Logging.Format)
	require.Equal(t, "info", c.Logging.Severity)
}

func TestBindFlagsParsesRepeatedTarget(t *testing.T) {
	fs := newBoundFlagSet(t)
	require.NoError(t, fs.Parse([]string{"--target", "10.0.0.1", "--target", "10.0.0.2"}))

	var c Config
	require.NoError(t, viper.Unmarshal(&c))
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, c.Transport.Targets)
}
