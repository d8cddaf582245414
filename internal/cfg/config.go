// Package cfg defines PingFS's process configuration and binds it to
// command-line flags via cobra/pflag/viper.
package cfg

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved PingFS configuration for one process
// lifetime.
type Config struct {
	Transport  TransportConfig  `mapstructure:"transport"`
	FileSystem FileSystemConfig `mapstructure:"file-system"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// TransportConfig controls the ICMP transport and L1 block store.
type TransportConfig struct {
	// Targets is the ordered list of candidate remote hosts to probe.
	// The first that passes calibration is used.
	Targets []string `mapstructure:"targets"`

	// BlockSizeHint is the payload size requested during calibration.
	// The negotiated block size is whatever the remote actually echoes
	// back.
	BlockSizeHint int `mapstructure:"block-size-hint"`

	// OpTimeout is the starting value for L1's internal T_op; calibration
	// lowers it below the measured round trip when it is not already
	// smaller. safe_timeout is 3x the resulting T_op.
	OpTimeout time.Duration `mapstructure:"op-timeout"`
}

// FileSystemConfig controls the adapter surface and ownership of nodes.
type FileSystemConfig struct {
	Mountpoint string `mapstructure:"mountpoint"`

	// Uid/Gid are dropped to after the raw socket is opened, following
	// a privileged-process-then-drop-privileges model.
	Uid int `mapstructure:"uid"`
	Gid int `mapstructure:"gid"`
}

// LoggingConfig controls internal/pinglog.
type LoggingConfig struct {
	Format   string `mapstructure:"format"`
	Severity string `mapstructure:"severity"`
	LogFile  string `mapstructure:"log-file"`
}

// BindFlags registers PingFS's flags on flagSet and binds each to its
// viper key.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringArray("target", nil, "Remote host to probe as the echo server. May be repeated; the first that calibrates successfully is used.")
	if err := viper.BindPFlag("transport.targets", flagSet.Lookup("target")); err != nil {
		return err
	}

	flagSet.Int("block-size-hint", 1024, "Requested block payload size in bytes. The negotiated size is whatever the remote host actually echoes back.")
	if err := viper.BindPFlag("transport.block-size-hint", flagSet.Lookup("block-size-hint")); err != nil {
		return err
	}

	flagSet.Duration("op-timeout", 300*time.Millisecond, "Starting L1 operational timeout (T_op); calibration lowers it below the measured round trip if needed. safe_timeout is 3x the resulting T_op.")
	if err := viper.BindPFlag("transport.op-timeout", flagSet.Lookup("op-timeout")); err != nil {
		return err
	}

	flagSet.Int("uid", -1, "UID to drop to after opening the raw socket. -1 leaves the process's UID unchanged.")
	if err := viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.Int("gid", -1, "GID to drop to after opening the raw socket. -1 leaves the process's GID unchanged.")
	if err := viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "Log output format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.String("log-severity", "info", "Minimum log severity: trace, debug, info, warning, or error.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Write logs to this file (with rotation) instead of stderr.")
	if err := viper.BindPFlag("logging.log-file", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	return nil
}

// Validate checks invariants that cobra's flag parser cannot express on
// its own.
func (c *Config) Validate() error {
	if len(c.Transport.Targets) == 0 {
		return fmt.Errorf("at least one --target is required")
	}
	if c.Transport.BlockSizeHint <= 0 {
		return fmt.Errorf("block-size-hint must be positive, got %d", c.Transport.BlockSizeHint)
	}
	if c.Transport.OpTimeout <= 0 {
		return fmt.Errorf("op-timeout must be positive, got %s", c.Transport.OpTimeout)
	}
	if c.FileSystem.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}
	return nil
}
