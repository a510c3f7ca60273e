package sandbox

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// CloneFlags returns the namespaces the module process is started in
func (c *Config) CloneFlags() uintptr {
	if c.Steps&StepNamespaces == 0 {
		return 0
	}
	var flags uintptr = unix.CLONE_NEWUSER | unix.CLONE_NEWNS | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS
	if !c.Network {
		flags |= unix.CLONE_NEWNET
	}
	return flags
}

// IDMappings maps root inside the user namespace to the current effective
// uid / gid, so the module process keeps no privilege outside of it
func IDMappings() ([]syscall.SysProcIDMap, []syscall.SysProcIDMap) {
	uidMap := []syscall.SysProcIDMap{{HostID: os.Geteuid(), Size: 1}}
	gidMap := []syscall.SysProcIDMap{{HostID: os.Getegid(), Size: 1}}
	return uidMap, gidMap
}
