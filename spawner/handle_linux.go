package spawner

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrReaped is returned by Wait once the process was reaped
var ErrReaped = errors.New("spawner: process already reaped")

// ProcessHandle owns a module process: its pid and the read ends of its
// stdout / stderr pipes. It is owned by the single caller that spawned it.
type ProcessHandle struct {
	ProcessName string
	Pid         int
	Stdout      int
	Stderr      int

	mu        sync.Mutex
	reaped    bool
	closeOnce sync.Once
}

// Kill sends SIGKILL. It is a no-op once the process was reaped so a
// recycled pid is never signalled.
func (h *ProcessHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reaped {
		return nil
	}
	if err := unix.Kill(h.Pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill(%d): %w", h.Pid, err)
	}
	return nil
}

// Wait waits for the process to exit and reaps it. With nonBlocking it
// returns pid 0 when the process is still running. Waiting on a reaped
// handle returns ErrReaped.
func (h *ProcessHandle) Wait(nonBlocking bool) (int, unix.WaitStatus, error) {
	h.mu.Lock()
	reaped := h.reaped
	h.mu.Unlock()
	if reaped {
		return 0, 0, ErrReaped
	}

	// wait without reaping first, the pid stays valid for Kill until the
	// flag below is set
	options := unix.WEXITED | unix.WNOWAIT
	if nonBlocking {
		options |= unix.WNOHANG
	}
	var info unix.Siginfo
	err := unix.Waitid(unix.P_PID, h.Pid, &info, options, nil)
	for err == unix.EINTR {
		err = unix.Waitid(unix.P_PID, h.Pid, &info, options, nil)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("waitid(%d): %w", h.Pid, err)
	}
	// no child changed state
	if info.Signo == 0 {
		return 0, 0, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var ws unix.WaitStatus
	pid, err := unix.Wait4(h.Pid, &ws, unix.WNOHANG, nil)
	for err == unix.EINTR {
		pid, err = unix.Wait4(h.Pid, &ws, unix.WNOHANG, nil)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("wait4(%d): %w", h.Pid, err)
	}
	h.reaped = true
	return pid, ws, nil
}

// Reaped reports whether the process was reaped
func (h *ProcessHandle) Reaped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reaped
}

// Close closes both pipe fds, it is safe to call more than once
func (h *ProcessHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = errors.Join(closeFd(h.Stdout), closeFd(h.Stderr))
	})
	return err
}

func closeFd(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func (h *ProcessHandle) String() string {
	return fmt.Sprintf("ProcessHandle[%s,pid=%d]", h.ProcessName, h.Pid)
}
