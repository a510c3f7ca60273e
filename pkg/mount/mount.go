// Package mount describes the mount syscalls that build a module process'
// filesystem view.
package mount

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mount defines syscall for mount points
type Mount struct {
	Source, Target, FsType, Data string
	Flags                        uintptr
}

func (m Mount) String() string {
	switch {
	case m.Flags&unix.MS_REMOUNT == unix.MS_REMOUNT:
		flag := "rw"
		if m.Flags&unix.MS_RDONLY == unix.MS_RDONLY {
			flag = "ro"
		}
		return fmt.Sprintf("remount[%s:%s]", m.Target, flag)

	case m.Flags&unix.MS_BIND == unix.MS_BIND:
		flag := "rw"
		if m.Flags&unix.MS_RDONLY == unix.MS_RDONLY {
			flag = "ro"
		}
		return fmt.Sprintf("bind[%s:%s:%s]", m.Source, m.Target, flag)

	case m.FsType == "tmpfs":
		return fmt.Sprintf("tmpfs[%s]", m.Target)

	default:
		return fmt.Sprintf("mount[%s,%s:%s:%x,%s]", m.FsType, m.Source, m.Target, m.Flags, m.Data)
	}
}
