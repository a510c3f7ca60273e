package sandbox

import (
	"fmt"
	"os"
	"strconv"

	"github.com/criyle/go-forkserver/pkg/mount"
	"github.com/criyle/go-forkserver/pkg/rlimit"
	"github.com/criyle/go-forkserver/pkg/seccomp"
	"golang.org/x/sys/unix"
)

// Apply installs the restrictions of c on the current process in order:
// filesystem, resource limits, seccomp. It is called by the module process
// before any untrusted code runs and cannot be undone.
func Apply(c *Config, filter seccomp.Filter) error {
	if c.Steps&StepFilesystem != 0 {
		if err := applyFilesystem(c); err != nil {
			return err
		}
	}
	if c.Steps&StepRLimits != 0 {
		if err := rlimit.Apply(c.RLimits.PrepareRLimit()); err != nil {
			return err
		}
	}
	if c.Steps&StepSeccomp != 0 {
		if filter == nil {
			return fmt.Errorf("sandbox: seccomp step without filter")
		}
		if err := seccomp.Load(filter); err != nil {
			return err
		}
	}
	return nil
}

// Mounts returns the mount sequence confining the process to c.Root
func (c *Config) Mounts() ([]mount.Mount, error) {
	b := mount.NewBuilder().WithBind(c.Root, c.Root, false)
	if c.WritablePath != "" {
		p, err := c.WritableHostPath()
		if err != nil {
			return nil, err
		}
		b.WithBind(p, p, false)
	}
	return b.WithReadonlyRemount(c.Root).Build(), nil
}

func applyFilesystem(c *Config) error {
	ms, err := c.Mounts()
	if err != nil {
		return err
	}
	if err := mount.MakePrivate(); err != nil {
		return err
	}
	for _, m := range ms {
		if err := m.Mount(); err != nil {
			return fmt.Errorf("sandbox: %w", err)
		}
	}
	if err := unix.Chroot(c.Root); err != nil {
		return fmt.Errorf("sandbox: chroot(%s): %w", c.Root, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("sandbox: chdir(/): %w", err)
	}
	return nil
}

// CloseInherited closes the setup fds the module process was started with,
// points stdin at /dev/null and then verifies no socket is left open, so the
// process holds nothing connecting it back to the host
func CloseInherited(setup ...int) error {
	for _, fd := range setup {
		unix.Close(fd)
	}
	null, err := unix.Open(os.DevNull, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("sandbox: open %s: %w", os.DevNull, err)
	}
	if null != 0 {
		err = unix.Dup3(null, 0, 0)
		unix.Close(null)
		if err != nil {
			return fmt.Errorf("sandbox: dup3 stdin: %w", err)
		}
	}
	return checkNoSocket()
}

func checkNoSocket() error {
	const fdPath = "/proc/self/fd"
	fds, err := os.ReadDir(fdPath)
	if err != nil {
		return fmt.Errorf("sandbox: list fds: %w", err)
	}
	for _, f := range fds {
		fd, err := strconv.Atoi(f.Name())
		if err != nil {
			return fmt.Errorf("sandbox: list fds: %w", err)
		}
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			// the directory fd used for listing is already closed
			continue
		}
		if st.Mode&unix.S_IFMT == unix.S_IFSOCK {
			return fmt.Errorf("sandbox: fd %d is a socket", fd)
		}
	}
	return nil
}
