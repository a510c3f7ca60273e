package seccomp

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// defines missing consts from syscall package
const (
	seccompSetModeFilter   = 1
	seccompFilterFlagTsync = 1
)

// Load sets no_new_privs and installs the filter on every thread of the
// current process. It cannot be undone.
func Load(f Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	prog := f.SockFprog()

	// no_new_privs must be set on the thread that calls seccomp
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("seccomp: prctl(no_new_privs): %w", err)
	}
	_, _, errno := unix.Syscall(unix.SYS_SECCOMP, seccompSetModeFilter, seccompFilterFlagTsync, uintptr(unsafe.Pointer(prog)))
	runtime.KeepAlive(prog)
	if errno != 0 {
		return fmt.Errorf("seccomp: load filter: %w", errno)
	}
	return nil
}
