package mount

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// flags that the kernel locks on a mount inherited into a user namespace;
// a remount must carry them or it fails with EPERM
var lockedFlags = []struct {
	st uint64
	ms uintptr
}{
	{unix.ST_NOSUID, unix.MS_NOSUID},
	{unix.ST_NODEV, unix.MS_NODEV},
	{unix.ST_NOEXEC, unix.MS_NOEXEC},
	{unix.ST_NOATIME, unix.MS_NOATIME},
	{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
	{unix.ST_RELATIME, unix.MS_RELATIME},
}

// Mount calls mount syscall
func (m *Mount) Mount() error {
	flags := m.Flags
	if flags&unix.MS_REMOUNT == unix.MS_REMOUNT {
		var st unix.Statfs_t
		if err := unix.Statfs(m.Target, &st); err != nil {
			return fmt.Errorf("mount: statfs(%s): %w", m.Target, err)
		}
		for _, f := range lockedFlags {
			if uint64(st.Flags)&f.st != 0 {
				flags |= f.ms
			}
		}
	}
	if err := unix.Mount(m.Source, m.Target, m.FsType, flags, m.Data); err != nil {
		return fmt.Errorf("mount: %v: %w", m, err)
	}
	return nil
}

// MakePrivate stops mount events propagating between the new mount
// namespace and the one it was created from
func MakePrivate() error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("mount: make / private: %w", err)
	}
	return nil
}
