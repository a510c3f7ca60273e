package mount

import (
	"golang.org/x/sys/unix"
)

const (
	bind   = unix.MS_BIND | unix.MS_REC
	mFlag  = unix.MS_NOSUID | unix.MS_NODEV
	rebind = unix.MS_REMOUNT | unix.MS_BIND
)

// Builder builds the mount sequence in the order the syscalls are issued
type Builder struct {
	Mounts []Mount
}

// NewBuilder creates new mount builder instance
func NewBuilder() *Builder {
	return &Builder{}
}

// WithBind adds a recursive bind mount to builder. A read-only bind is
// followed by the remount that actually applies the read-only flag.
func (b *Builder) WithBind(source, target string, readonly bool) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: source,
		Target: target,
		Flags:  bind,
	})
	if readonly {
		b.WithReadonlyRemount(target)
	}
	return b
}

// WithReadonlyRemount remounts an existing bind mount at target read-only
func (b *Builder) WithReadonlyRemount(target string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Target: target,
		Flags:  rebind | unix.MS_RDONLY | mFlag,
	})
	return b
}

// WithTmpfs add a tmpfs mount to builder
func (b *Builder) WithTmpfs(target, data string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: "tmpfs",
		Target: target,
		FsType: "tmpfs",
		Flags:  mFlag,
		Data:   data,
	})
	return b
}

// Build returns the mount sequence
func (b *Builder) Build() []Mount {
	return append([]Mount(nil), b.Mounts...)
}
