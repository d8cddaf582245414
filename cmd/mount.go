package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jacobsa/fuse"

	"github.com/ShySec/pingfs/internal/blockstore"
	"github.com/ShySec/pingfs/internal/cfg"
	"github.com/ShySec/pingfs/internal/diskio"
	"github.com/ShySec/pingfs/internal/fsadapter"
	"github.com/ShySec/pingfs/internal/fsmeta"
	"github.com/ShySec/pingfs/internal/pinglog"
	"github.com/ShySec/pingfs/internal/wire"
)

// defaultMode is the permission bits stamped on a freshly initialised
// root directory.
const defaultMode = 0o755

// runMount is the mount-and-serve body behind rootCmd.RunE: open the
// transport, calibrate it, bring up every storage layer on top, mount
// the FUSE server, and block until unmounted.
func runMount(ctx context.Context, c *cfg.Config) error {
	pinglog.Init(pinglog.Config{
		Format:   c.Logging.Format,
		Severity: pinglog.ParseSeverity(c.Logging.Severity),
		LogFile:  c.Logging.LogFile,
	})

	sock, err := wire.OpenSocket()
	if err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}
	defer sock.Close()

	store := blockstore.New(sock)

	var lastErr error
	calibrated := false
	for _, target := range c.Transport.Targets {
		pinglog.Infof("calibrating against %s", target)
		if err := store.Calibrate(target, c.Transport.BlockSizeHint, c.Transport.OpTimeout); err != nil {
			pinglog.Warnf("calibration against %s failed: %v", target, err)
			lastErr = err
			continue
		}
		calibrated = true
		break
	}
	if !calibrated {
		return fmt.Errorf("no target calibrated successfully: %w", lastErr)
	}
	pinglog.Infof("negotiated block size %d, T_op %s", store.BlockSize(), store.OpTimeout())

	stopStore := store.Start(ctx)
	defer stopStore()

	if err := dropPrivileges(c.FileSystem.Uid, c.FileSystem.Gid); err != nil {
		return fmt.Errorf("dropping privileges: %w", err)
	}

	observeLive := func() map[uint32]struct{} {
		return store.ObserveLive(store.SafeTimeout())
	}
	alloc := diskio.NewAllocator(store.BlockSize(), blockstore.MaxBlockID, observeLive)
	disk := diskio.New(store, store.BlockSize())

	ownerUID, ownerGID := resolveOwner(c.FileSystem.Uid, c.FileSystem.Gid)

	tree := fsmeta.New(disk, alloc)
	if err := tree.InitRoot(ownerUID, ownerGID, defaultMode); err != nil {
		return fmt.Errorf("initialising root directory: %w", err)
	}

	adapter := fsadapter.New(tree, ownerUID, ownerGID)
	server := fsadapter.NewServer(adapter)

	if err := os.MkdirAll(c.FileSystem.Mountpoint, 0o755); err != nil {
		return fmt.Errorf("creating mountpoint: %w", err)
	}

	mfs, err := fuse.Mount(c.FileSystem.Mountpoint, server, &fuse.MountConfig{
		FSName:     "pingfs",
		Subtype:    "pingfs",
		VolumeName: "pingfs",
	})
	if err != nil {
		return fmt.Errorf("mounting at %s: %w", c.FileSystem.Mountpoint, err)
	}

	registerSIGINTHandler(c.FileSystem.Mountpoint)

	pinglog.Infof("pingfs mounted at %s", c.FileSystem.Mountpoint)
	return mfs.Join(ctx)
}

// registerSIGINTHandler unmounts mountpoint on SIGINT, retrying until
// fuse.Unmount succeeds.
func registerSIGINTHandler(mountpoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			pinglog.Infof("received SIGINT, unmounting %s", mountpoint)
			for {
				if err := fuse.Unmount(mountpoint); err != nil {
					pinglog.Warnf("unmount failed, retrying: %v", err)
					time.Sleep(time.Second)
					continue
				}
				return
			}
		}
	}()
}
