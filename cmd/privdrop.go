package cmd

import (
	"os"

	"golang.org/x/sys/unix"
)

// dropPrivileges drops to gid then uid, in that order (group first,
// since dropping uid first would leave us unable to change gid). -1
// for either leaves that ID unchanged, the same sentinel the --uid and
// --gid flags default to.
func dropPrivileges(uid, gid int) error {
	if gid >= 0 {
		if err := unix.Setgid(gid); err != nil {
			return err
		}
	}
	if uid >= 0 {
		if err := unix.Setuid(uid); err != nil {
			return err
		}
	}
	return nil
}

// resolveOwner turns the --uid/--gid flags (-1 meaning "leave the
// process's ID unchanged") into the concrete owner stamped on new
// nodes: the requested ID if one was given, otherwise whatever this
// process is currently running as.
func resolveOwner(uid, gid int) (ownerUID, ownerGID uint16) {
	if uid < 0 {
		uid = os.Getuid()
	}
	if gid < 0 {
		gid = os.Getgid()
	}
	return uint16(uid), uint16(gid)
}
